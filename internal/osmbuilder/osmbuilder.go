// Package osmbuilder ingests an OSM PBF extract and produces the layered
// walking/cycling edge set used as the base of the routing graph. PBF
// decoding itself is an external-collaborator concern delegated to
// github.com/paulmach/osm/osmpbf; this package owns only the
// tag-eligibility rules, H3 quantisation, and cycling<->walking
// transfer-edge emission.
package osmbuilder

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"

	"github.com/hextransit/n-minute-city/internal/cellkey"
	"github.com/hextransit/n-minute-city/internal/h3cell"
)

// Layer identifies which layer a candidate way edge belongs to.
type Layer int

const (
	LayerWalking Layer = iota
	LayerCycling
)

// Speed in metres/second for each layer, default values.
const (
	DefaultWalkSpeed = 1.4
	DefaultBikeSpeed = 4.5
)

// Options configures a single OSM ingestion pass.
type Options struct {
	WalkSpeed   float64 // m/s, default DefaultWalkSpeed
	BikeSpeed   float64 // m/s, default DefaultBikeSpeed
	BikePenalty float64 // minutes, default 1.0; cost of each cycling<->walking transfer edge
	// Layers controls which layers are emitted: "all" (default),
	// "walk", "walk+bike" — mirrors the engine's `layers` config knob.
	Layers string
}

func (o Options) withDefaults() Options {
	if o.WalkSpeed == 0 {
		o.WalkSpeed = DefaultWalkSpeed
	}
	if o.BikeSpeed == 0 {
		o.BikeSpeed = DefaultBikeSpeed
	}
	if o.BikePenalty == 0 {
		o.BikePenalty = 1.0
	}
	if o.Layers == "" {
		o.Layers = "all"
	}
	return o
}

func (o Options) wantsWalk() bool {
	return o.Layers == "all" || o.Layers == "walk" || o.Layers == "walk+bike" || o.Layers == "walk+transit"
}

func (o Options) wantsBike() bool {
	return o.Layers == "all" || o.Layers == "walk+bike"
}

// EdgeTuple is one emitted ((layer, from, to), weight) tuple, order
// insensitive.
type EdgeTuple struct {
	Layer  cellkey.Layer
	From   cellkey.CellKey
	To     cellkey.CellKey
	Weight float64
}

// Result is everything one OSM ingestion pass produces.
type Result struct {
	Edges []EdgeTuple
}

// rejectedHighway is the set of highway values that disqualify a way
// from both layers.
var rejectedHighway = map[string]bool{
	"motorway":       true,
	"motorway_link":  true,
	"prohibited":     true,
	"trunk":          true,
	"trunk_link":     true,
	"construction":   true,
}

// tagValueMatches applies the per-tag eligibility rules for a given
// layer, including the bicycle/cycleway/bicycle_road rules that only
// matter for the cycling layer.
func tagValueMatches(k, v string, layer Layer) bool {
	switch k {
	case "highway":
		return !rejectedHighway[v]
	case "access":
		return v != "private" && v != "no"
	case "foot":
		if layer == LayerWalking {
			return v != "private" && v != "no"
		}
		return true
	case "bicycle":
		if layer == LayerCycling {
			return v != "private" && v != "no" && v != "none"
		}
		return true
	case "cycleway":
		if layer == LayerCycling {
			return v != "shared" && v != "no" && v != "none"
		}
		return true
	case "bicycle_road":
		return layer == LayerCycling
	default:
		return true
	}
}

// requiredKeys per layer: walking requires "highway" itself; cycling
// requires at least one of cycleway/bicycle/bicycle_road to be present.
func wayEligible(tags osm.Tags, layer Layer) bool {
	if tags.Find("highway") == "" {
		return false
	}
	switch layer {
	case LayerCycling:
		if tags.Find("cycleway") == "" && tags.Find("bicycle") == "" && tags.Find("bicycle_road") == "" {
			return false
		}
	}
	for _, t := range tags {
		if !tagValueMatches(t.Key, t.Value, layer) {
			return false
		}
	}
	return true
}

// Build streams ways and their node coordinates from an OSM PBF reader
// and produces the layered edge set. It performs a two-pass
// (node-coords-then-ways) scan, since osmpbf requires a seekable source
// to resolve way geometry cheaply.
func Build(ctx context.Context, r io.ReadSeeker, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	nodeCoords, err := scanNodeCoords(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("osmbuilder: scanning node coordinates: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("osmbuilder: rewinding reader: %w", err)
	}

	scanner := osmpbf.New(ctx, r, 4)
	defer scanner.Close()

	var edges []EdgeTuple
	for scanner.Scan() {
		obj := scanner.Object()
		way, ok := obj.(*osm.Way)
		if !ok {
			continue
		}
		wayEdges, err := processWay(way, nodeCoords, opts)
		if err != nil {
			// A malformed way is logged and skipped, never aborts the build.
			log.Printf("osmbuilder: skipping way %d: %v", way.ID, err)
			continue
		}
		edges = append(edges, wayEdges...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("osmbuilder: scanning ways: %w", err)
	}

	return &Result{Edges: edges}, nil
}

type latLng struct {
	Lat, Lng float64
}

// scanNodeCoords performs the first pass: collect lat/lng for every
// node in the extract, whether or not a way references it, so that the
// second, way-only pass can resolve way geometry.
func scanNodeCoords(ctx context.Context, r io.ReadSeeker) (map[osm.NodeID]latLng, error) {
	scanner := osmpbf.New(ctx, r, 4)
	defer scanner.Close()

	coords := make(map[osm.NodeID]latLng)
	for scanner.Scan() {
		obj := scanner.Object()
		n, ok := obj.(*osm.Node)
		if !ok {
			continue
		}
		coords[n.ID] = latLng{Lat: n.Lat, Lng: n.Lon}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return coords, nil
}

func processWay(way *osm.Way, nodeCoords map[osm.NodeID]latLng, opts Options) ([]EdgeTuple, error) {
	var edges []EdgeTuple

	layers := []Layer{}
	if opts.wantsWalk() && wayEligible(way.Tags, LayerWalking) {
		layers = append(layers, LayerWalking)
	}
	if opts.wantsBike() && wayEligible(way.Tags, LayerCycling) {
		layers = append(layers, LayerCycling)
	}
	if len(layers) == 0 {
		return nil, nil
	}

	cells := make([]h3cell.Cell, 0, len(way.Nodes))
	for _, wn := range way.Nodes {
		coord, ok := nodeCoords[wn.ID]
		if !ok {
			continue
		}
		c, err := h3cell.FromLatLng(coord.Lat, coord.Lng)
		if err != nil {
			continue
		}
		cells = append(cells, c)
	}
	if len(cells) < 2 {
		return nil, fmt.Errorf("way %d has fewer than 2 resolvable nodes", way.ID)
	}

	for _, layer := range layers {
		var speed float64
		var layerVal cellkey.Layer
		if layer == LayerWalking {
			speed = opts.WalkSpeed
			layerVal = cellkey.LayerWalk
		} else {
			speed = opts.BikeSpeed
			layerVal = cellkey.LayerCycle
		}

		seen := make(map[[2]h3cell.Cell]bool)
		for i := 0; i+1 < len(cells); i++ {
			a, b := cells[i], cells[i+1]
			if a == b {
				continue
			}
			path, err := h3cell.GridPath(a, b)
			if err != nil {
				continue
			}
			for j := 0; j+1 < len(path); j++ {
				pa, pb := path[j], path[j+1]
				if pa == pb {
					continue
				}
				key := [2]h3cell.Cell{pa, pb}
				if seen[key] {
					continue
				}
				seen[key] = true

				lengthM, err := h3cell.EdgeLengthMetres(pa, pb)
				if err != nil {
					continue
				}
				weight := lengthM / speed / 60.0

				from := cellkey.New(uint64(pa), layerVal)
				to := cellkey.New(uint64(pb), layerVal)
				edges = append(edges, EdgeTuple{Layer: layerVal, From: from, To: to, Weight: weight})

				if layer == LayerCycling {
					edges = append(edges,
						transferEdge(from, from.Base(), opts.BikePenalty),
						transferEdge(from.Base(), from, opts.BikePenalty),
						transferEdge(to, to.Base(), opts.BikePenalty),
						transferEdge(to.Base(), to, opts.BikePenalty),
					)
				}
			}
		}
	}

	return edges, nil
}

func transferEdge(from, to cellkey.CellKey, penalty float64) EdgeTuple {
	return EdgeTuple{Layer: from.Layer, From: from, To: to, Weight: penalty}
}
