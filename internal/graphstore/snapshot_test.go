package graphstore

import (
	"bytes"
	"testing"

	"github.com/hextransit/n-minute-city/internal/cellkey"
)

func TestSnapshotRoundTrip(t *testing.T) {
	g := New()
	a := cellkey.New(1, cellkey.LayerWalk)
	b := cellkey.New(2, cellkey.LayerWalk)
	c := cellkey.New(3, cellkey.LayerCycle)
	mustAddEdge(t, g, a, b, 2.5)
	mustAddEdge(t, g, b, c, 1.0)

	var buf bytes.Buffer
	if err := g.WriteSnapshot(&buf, "test-city", "v1"); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	loaded, err := LoadSnapshot(&buf)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	if loaded.NodeCount() != g.NodeCount() {
		t.Fatalf("loaded NodeCount() = %d, want %d", loaded.NodeCount(), g.NodeCount())
	}
	if loaded.NodeHash() != g.NodeHash() {
		t.Fatalf("loaded NodeHash() = %d, want %d", loaded.NodeHash(), g.NodeHash())
	}

	idxA, ok := loaded.IndexOf(a)
	if !ok {
		t.Fatalf("loaded graph missing node %+v", a)
	}
	edges := loaded.Edges(idxA)
	if len(edges) != 1 || edges[0].Weight != 2.5 {
		t.Fatalf("loaded Edges(a) = %v, want a single edge of weight 2.5", edges)
	}
}

func TestSnapshotEmptyGraphRoundTrip(t *testing.T) {
	g := New()
	var buf bytes.Buffer
	if err := g.WriteSnapshot(&buf, "empty", "v1"); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	loaded, err := LoadSnapshot(&buf)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded.NodeCount() != 0 {
		t.Fatalf("loaded NodeCount() = %d, want 0", loaded.NodeCount())
	}
}
