package cellkey

import "testing"

func TestNewAndBase(t *testing.T) {
	k := New(42, 3)
	if k.Cell != 42 || k.Layer != 3 {
		t.Fatalf("New(42, 3) = %+v, want {42 3}", k)
	}
	base := k.Base()
	if base.Cell != 42 || base.Layer != LayerWalk {
		t.Fatalf("Base() = %+v, want {42 %d}", base, LayerWalk)
	}
}

func TestLayerPredicates(t *testing.T) {
	cases := []struct {
		name                        string
		layer                       Layer
		walk, cycle, transit bool
	}{
		{"walk", LayerWalk, true, false, false},
		{"cycle", LayerCycle, false, true, false},
		{"transit route 0", 0, false, false, true},
		{"transit route 7", 7, false, false, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			k := New(1, c.layer)
			if got := k.IsWalk(); got != c.walk {
				t.Errorf("IsWalk() = %v, want %v", got, c.walk)
			}
			if got := k.IsCycle(); got != c.cycle {
				t.Errorf("IsCycle() = %v, want %v", got, c.cycle)
			}
			if got := k.IsTransit(); got != c.transit {
				t.Errorf("IsTransit() = %v, want %v", got, c.transit)
			}
		})
	}
}

func TestHashDeterministicAndLayerSensitive(t *testing.T) {
	a := New(100, 0)
	b := New(100, 0)
	if a.Hash() != b.Hash() {
		t.Fatalf("Hash() not deterministic: %d != %d", a.Hash(), b.Hash())
	}

	c := New(100, 1)
	if a.Hash() == c.Hash() {
		t.Fatalf("Hash() collided across layers: cell=100 layer=0 and layer=1 both hashed to %d", a.Hash())
	}

	d := New(101, 0)
	if a.Hash() == d.Hash() {
		t.Fatalf("Hash() collided across cells: layer=0 cell=100 and cell=101 both hashed to %d", a.Hash())
	}
}

func TestHexCellNeighborRoundTrip(t *testing.T) {
	h := HexCell{A: 5, B: -3, Radius: 2, Layer: LayerWalk}
	n := h.Neighbor(North)
	if n.B != h.B+1 || n.A != h.A {
		t.Fatalf("Neighbor(North) = %+v, want B+1 with A unchanged from %+v", n, h)
	}
	if !h.IsNeighbor(n) {
		t.Fatalf("IsNeighbor: %+v should be adjacent to its own North neighbour %+v", h, n)
	}
	if h.IsNeighbor(h) {
		t.Fatalf("IsNeighbor: a cell must not be its own neighbour")
	}
}

func TestHexCellUpDownMoveLayerOnly(t *testing.T) {
	h := HexCell{A: 1, B: 2, Radius: 3, Layer: 0}
	up := h.Neighbor(Up)
	if up.Layer != h.Layer+1 || up.A != h.A || up.B != h.B {
		t.Fatalf("Neighbor(Up) = %+v, want layer+1 with A/B unchanged", up)
	}
	down := h.Neighbor(Down)
	if down.Layer != h.Layer-1 {
		t.Fatalf("Neighbor(Down) = %+v, want layer-1", down)
	}
}

func TestHexCellToIDRoundTrip(t *testing.T) {
	h := HexCell{A: -7, B: 123, Radius: 4, Layer: -1}
	id := h.ToID()
	got := HexCellFromID(id)
	if got != h {
		t.Fatalf("HexCellFromID(ToID(%+v)) = %+v, want identity round trip", h, got)
	}
}

func TestFromHexCellCarriesLayer(t *testing.T) {
	h := HexCell{A: 1, B: 1, Radius: 0, Layer: LayerCycle}
	k := FromHexCell(h)
	if k.Layer != LayerCycle {
		t.Fatalf("FromHexCell layer = %v, want %v", k.Layer, LayerCycle)
	}
	if k.Cell != h.ToID() {
		t.Fatalf("FromHexCell cell = %d, want ToID() = %d", k.Cell, h.ToID())
	}
}

func TestWithLayer(t *testing.T) {
	h := HexCell{A: 1, B: 2, Radius: 3, Layer: LayerWalk}
	h2 := h.WithLayer(LayerCycle)
	if h2.Layer != LayerCycle || h2.A != h.A || h2.B != h.B || h2.Radius != h.Radius {
		t.Fatalf("WithLayer = %+v, want same A/B/Radius with Layer = %v", h2, LayerCycle)
	}
}
