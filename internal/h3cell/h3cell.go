// Package h3cell wraps the H3 discrete-global-grid primitives used to
// quantise geographic coordinates into the hexagonal cells that back
// CellKey. Cell<->latlng conversion, k-ring expansion, grid-path, and
// grid-distance are treated as an external collaborator: this package
// exists only to give the rest of the engine a single seam onto
// github.com/uber/h3-go/v4 rather than scattering that dependency
// across builders and search code.
package h3cell

import (
	"fmt"

	"github.com/uber/h3-go/v4"
)

// Resolution is the fixed H3 resolution used by every builder in this
// engine, per spec.
const Resolution = 12

// Cell is a 64-bit H3 cell index.
type Cell = h3.Cell

// FromLatLng quantises a coordinate to an H3 cell at Resolution.
func FromLatLng(lat, lng float64) (Cell, error) {
	cell := h3.LatLngToCell(h3.NewLatLng(lat, lng), Resolution)
	if cell == 0 {
		return 0, fmt.Errorf("h3cell: failed to index (%f, %f)", lat, lng)
	}
	return cell, nil
}

// GridPath returns the full line of cells between a and b, inclusive,
// used by the OSM builder to fill in intermediate cells along a way
// segment so that no edge silently skips a hex.
func GridPath(a, b Cell) ([]Cell, error) {
	path, err := a.GridPathCells(b)
	if err != nil {
		return nil, fmt.Errorf("h3cell: grid path %d -> %d: %w", a, b, err)
	}
	return path, nil
}

// GridRing returns the cells at exactly k steps from origin. Used by
// GraphStore.Snap to expand outward one ring at a time.
func GridRing(origin Cell, k int) ([]Cell, error) {
	ring, err := origin.GridRingUnsafe(k)
	if err != nil {
		return nil, fmt.Errorf("h3cell: grid ring k=%d of %d: %w", k, origin, err)
	}
	return ring, nil
}

// EdgeLengthMetres returns the great-circle length of the directed edge
// a->b, used by the OSM builder to derive walking/cycling edge weights.
func EdgeLengthMetres(a, b Cell) (float64, error) {
	edge, err := h3.CellsToDirectedEdge(a, b)
	if err != nil {
		return 0, fmt.Errorf("h3cell: edge %d -> %d: %w", a, b, err)
	}
	return edge.Length(h3.LengthUnitM)
}

// GridDistance returns the hex-grid (not great-circle) distance between
// two cells. Nothing in this module calls it; internal/api runs A*
// without a heuristic.
func GridDistance(a, b Cell) (int, error) {
	d, err := a.GridDistance(b)
	if err != nil {
		return 0, fmt.Errorf("h3cell: grid distance %d -> %d: %w", a, b, err)
	}
	return d, nil
}
