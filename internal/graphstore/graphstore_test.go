package graphstore

import (
	"testing"

	"github.com/hextransit/n-minute-city/internal/cellkey"
)

func w(v float64) *float64 { return &v }

func TestAddEdgeRejectsSelfLoop(t *testing.T) {
	g := New()
	k := cellkey.New(1, cellkey.LayerWalk)
	if err := g.AddEdge(k, k, w(5), nil, nil); err != nil {
		t.Fatalf("AddEdge self-loop returned error: %v", err)
	}
	if g.NodeCount() != 0 {
		t.Fatalf("NodeCount() = %d after self-loop, want 0 (no node should be allocated)", g.NodeCount())
	}
}

func TestAddEdgeKeepsLowerWeightOnConflict(t *testing.T) {
	g := New()
	a := cellkey.New(1, cellkey.LayerWalk)
	b := cellkey.New(2, cellkey.LayerWalk)

	if err := g.AddEdge(a, b, w(10), nil, nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge(a, b, w(3), nil, nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	idx, _ := g.IndexOf(a)
	edges := g.Edges(idx)
	if len(edges) != 1 {
		t.Fatalf("Edges(a) = %v, want exactly one edge (a,b)", edges)
	}
	if edges[0].Weight != 3 {
		t.Fatalf("Edges(a)[0].Weight = %v, want 3 (the lower of the two candidates)", edges[0].Weight)
	}

	// A higher-weight edge arriving after must not displace the retained one.
	if err := g.AddEdge(a, b, w(7), nil, nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	edges = g.Edges(idx)
	if edges[0].Weight != 3 {
		t.Fatalf("Edges(a)[0].Weight = %v after higher-weight re-add, want unchanged 3", edges[0].Weight)
	}
}

func TestAddEdgeNoWeightUsesDefault(t *testing.T) {
	g := New()
	a := cellkey.New(1, cellkey.LayerWalk)
	b := cellkey.New(2, cellkey.LayerWalk)
	if err := g.AddEdge(a, b, nil, nil, nil); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	idx, _ := g.IndexOf(a)
	edges := g.Edges(idx)
	if edges[0].Weight != defaultWeight {
		t.Fatalf("Edges(a)[0].Weight = %v, want default %v", edges[0].Weight, defaultWeight)
	}
}

func TestAddEdgeRejectsMalformedWeightList(t *testing.T) {
	g := New()
	a := cellkey.New(1, cellkey.LayerWalk)
	b := cellkey.New(2, 0)
	if err := g.AddEdge(a, b, w(1), make([]float64, 10), nil); err == nil {
		t.Fatalf("AddEdge with a short weight list should have returned an error")
	}
}

func TestMergeIsIdempotentOnEdgeSet(t *testing.T) {
	g := New()
	a := cellkey.New(1, cellkey.LayerWalk)
	b := cellkey.New(2, cellkey.LayerWalk)
	c := cellkey.New(3, cellkey.LayerWalk)
	mustAddEdge(t, g, a, b, 5)
	mustAddEdge(t, g, b, c, 7)

	before := g.NodeHash()
	if err := g.Merge(g); err != nil {
		t.Fatalf("Merge(self): %v", err)
	}
	after := g.NodeHash()

	if before != after {
		t.Fatalf("NodeHash changed after merging a graph into itself: %d != %d", before, after)
	}
	if g.NodeCount() != 3 {
		t.Fatalf("NodeCount() = %d after self-merge, want 3 (no new nodes)", g.NodeCount())
	}

	idxA, _ := g.IndexOf(a)
	edges := g.Edges(idxA)
	if len(edges) != 1 || edges[0].Weight != 5 {
		t.Fatalf("Edges(a) after self-merge = %v, want exactly one edge of weight 5", edges)
	}
}

func TestMergeSharesCommonCellKeys(t *testing.T) {
	g1 := New()
	g2 := New()
	shared := cellkey.New(100, cellkey.LayerWalk)
	onlyG1 := cellkey.New(1, cellkey.LayerWalk)
	onlyG2 := cellkey.New(2, cellkey.LayerWalk)

	mustAddEdge(t, g1, onlyG1, shared, 4)
	mustAddEdge(t, g2, shared, onlyG2, 6)

	if err := g1.Merge(g2); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if g1.NodeCount() != 3 {
		t.Fatalf("NodeCount() = %d after merge, want 3 (onlyG1, shared, onlyG2)", g1.NodeCount())
	}
	sharedIdx, ok := g1.IndexOf(shared)
	if !ok {
		t.Fatalf("shared CellKey not found in merged graph")
	}
	edges := g1.Edges(sharedIdx)
	if len(edges) != 1 {
		t.Fatalf("Edges(shared) = %v, want exactly one outgoing edge to onlyG2", edges)
	}
}

func TestNodeHashOrderIndependent(t *testing.T) {
	g1 := New()
	a := cellkey.New(1, cellkey.LayerWalk)
	b := cellkey.New(2, cellkey.LayerWalk)
	c := cellkey.New(3, cellkey.LayerWalk)
	mustAddEdge(t, g1, a, b, 1)
	mustAddEdge(t, g1, b, c, 1)

	g2 := New()
	mustAddEdge(t, g2, b, c, 1)
	mustAddEdge(t, g2, a, b, 1)

	if g1.NodeHash() != g2.NodeHash() {
		t.Fatalf("NodeHash depends on insertion order: %d != %d", g1.NodeHash(), g2.NodeHash())
	}
}

func TestSnapReturnsBaseLayerHit(t *testing.T) {
	g := New()
	base := cellkey.New(42, cellkey.LayerWalk)
	other := cellkey.New(43, cellkey.LayerWalk)
	mustAddEdge(t, g, base, other, 1)

	query := cellkey.New(42, 0) // non-walk layer query at the same spatial cell
	got, ok, err := g.Snap(query, 2, func(cell uint64, k int) ([]uint64, error) { return nil, nil })
	if err != nil {
		t.Fatalf("Snap: %v", err)
	}
	if !ok || got != base {
		t.Fatalf("Snap(%+v) = (%+v, %v), want (%+v, true)", query, got, ok, base)
	}
}

func TestSnapExpandsRingsUntilHit(t *testing.T) {
	g := New()
	target := cellkey.New(99, cellkey.LayerWalk)
	other := cellkey.New(1, cellkey.LayerWalk)
	mustAddEdge(t, g, target, other, 1)

	query := cellkey.New(5, 0)
	calls := 0
	ringFn := func(cell uint64, k int) ([]uint64, error) {
		calls++
		if k == 2 {
			return []uint64{99}, nil
		}
		return []uint64{1000 + uint64(k)}, nil
	}

	got, ok, err := g.Snap(query, 3, ringFn)
	if err != nil {
		t.Fatalf("Snap: %v", err)
	}
	if !ok || got != target {
		t.Fatalf("Snap(%+v) = (%+v, %v), want (%+v, true)", query, got, ok, target)
	}
	if calls != 2 {
		t.Fatalf("ringFn called %d times, want 2 (ring 1 miss, ring 2 hit)", calls)
	}
}

func TestSnapExhaustsRingsWithoutHit(t *testing.T) {
	g := New()
	a := cellkey.New(1, cellkey.LayerWalk)
	b := cellkey.New(2, cellkey.LayerWalk)
	mustAddEdge(t, g, a, b, 1)

	query := cellkey.New(999, 0)
	got, ok, err := g.Snap(query, 2, func(cell uint64, k int) ([]uint64, error) { return []uint64{12345}, nil })
	if err != nil {
		t.Fatalf("Snap: %v", err)
	}
	if ok {
		t.Fatalf("Snap(%+v) = (%+v, true), want no hit", query, got)
	}
}

func TestRandomNodeOnEmptyGraph(t *testing.T) {
	g := New()
	if _, ok := g.RandomNode(); ok {
		t.Fatalf("RandomNode() on empty graph returned ok=true")
	}
}

func mustAddEdge(t *testing.T, g *GraphStore, from, to cellkey.CellKey, weight float64) {
	t.Helper()
	if err := g.AddEdge(from, to, w(weight), nil, nil); err != nil {
		t.Fatalf("AddEdge(%+v, %+v, %v): %v", from, to, weight, err)
	}
}
