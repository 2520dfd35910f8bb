package graphstore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hextransit/n-minute-city/internal/cellkey"
)

// Snapshot is the precomputed, MessagePack+Brotli-compressed hex-graph
// format. Only Transitions is consumed by this engine; the remaining
// fields are decoded by LoadSnapshot and then discarded, and
// WriteSnapshot fills only MapName, Version and Transitions.
type Snapshot struct {
	MapName               string                  `msgpack:"map_name"`
	Version               string                  `msgpack:"version"`
	MapCRC                uint32                  `msgpack:"map_crc"`
	Radius                float64                 `msgpack:"radius"`
	ZBorders              []float64               `msgpack:"z_borders"`
	Transitions           []SnapshotTransition     `msgpack:"transitions"`
	PreCalculatedDistances map[string][]float64    `msgpack:"pre_calculated_distances,omitempty"`
}

// SnapshotTransition is one entry of the transitions map, flattened into
// a slice since MessagePack has no native support for struct-keyed maps.
type SnapshotTransition struct {
	FromCell uint64  `msgpack:"from_cell"`
	FromLay  int16   `msgpack:"from_layer"`
	ToCell   uint64  `msgpack:"to_cell"`
	ToLay    int16   `msgpack:"to_layer"`
	Weight   float32 `msgpack:"weight"`
}

// WriteSnapshot serializes g's edge set into the Snapshot wire format,
// Brotli-compressed. Each edge is written with its scalar weight as a
// float32; weight lists and capacities are not written, so LoadSnapshot
// restores the nodes and scalar-weighted edges only.
func (g *GraphStore) WriteSnapshot(w io.Writer, mapName, version string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := Snapshot{MapName: mapName, Version: version}
	for fromIdx, out := range g.adjacency {
		fromNode := g.nodes[fromIdx]
		if !fromNode.present {
			continue
		}
		for toIdx, edge := range out {
			toNode := g.nodes[toIdx]
			if !toNode.present {
				continue
			}
			snap.Transitions = append(snap.Transitions, SnapshotTransition{
				FromCell: fromNode.key.Cell,
				FromLay:  int16(fromNode.key.Layer),
				ToCell:   toNode.key.Cell,
				ToLay:    int16(toNode.key.Layer),
				Weight:   float32(edge.Weight),
			})
		}
	}

	packed, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("graphstore: marshal snapshot: %w", err)
	}

	bw := brotli.NewWriter(w)
	if _, err := bw.Write(packed); err != nil {
		return fmt.Errorf("graphstore: brotli-compress snapshot: %w", err)
	}
	return bw.Close()
}

// LoadSnapshot decompresses and decodes a Snapshot and replays its
// Transitions into a fresh GraphStore via AddEdge, so the result honours
// the same lower-weight-wins conflict rule as any other build path. Only
// the Transitions field is consumed; the other fields are not returned.
func LoadSnapshot(r io.Reader) (*GraphStore, error) {
	br := brotli.NewReader(r)
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, br); err != nil {
		return nil, fmt.Errorf("graphstore: brotli-decompress snapshot: %w", err)
	}

	var snap Snapshot
	if err := msgpack.Unmarshal(buf.Bytes(), &snap); err != nil {
		return nil, fmt.Errorf("graphstore: unmarshal snapshot: %w", err)
	}

	g := New()
	for _, t := range snap.Transitions {
		from := cellkey.New(t.FromCell, cellkey.Layer(t.FromLay))
		to := cellkey.New(t.ToCell, cellkey.Layer(t.ToLay))
		w := float64(t.Weight)
		if err := g.AddEdge(from, to, &w, nil, nil); err != nil {
			return nil, fmt.Errorf("graphstore: replay snapshot edge: %w", err)
		}
	}
	return g, nil
}
