// Package graphstore implements the concurrently-readable, bimap-indexed
// node/edge store that is the hard core of the routing engine. The RWMutex
// discipline (write locks only inside the mutating entry points, read
// locks held for a whole query) and the map-shaped containers are
// grounded in the original InMemoryGraph, generalized from its two flat
// maps into three coordinated containers: a dense (tombstone-capable)
// node slice, an adjacency set keyed by source index, and a
// CellKey<->index bimap.
package graphstore

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/hextransit/n-minute-city/internal/cellkey"
)

// WeightListLen is the fixed size of a time-dependent edge's weight
// list: 24 hours x 7 days, indexed by hour-of-week.
const WeightListLen = 168

// defaultWeight is substituted for an absent weight whenever two
// candidate edges for the same (from, to) pair are compared: keep the
// edge with the smaller weight, treating absent weight as 60.0 for
// comparison purposes.
const defaultWeight = 60.0

// Edge is a directed, weighted connection between two node indices.
// WeightList, when non-nil, must have exactly WeightListLen entries; it
// is consulted by A* when a query supplies an hour-of-week and this edge
// carries one (transit boarding edges only). Capacity is reserved and
// unused by search.
type Edge struct {
	From, To   int
	Weight     float64
	WeightList []float64
	Capacity   float64
}

// weightOrDefault returns e.Weight, substituting defaultWeight when the
// edge effectively carries no scalar weight (a caller passed nil).
func weightOrDefault(w *float64) float64 {
	if w == nil {
		return defaultWeight
	}
	return *w
}

// node is a single dense slot; a nil-key (zero Layer *and* zero Cell is
// legitimate, so emptiness is tracked with a separate bool instead of a
// sentinel value).
type node struct {
	key     cellkey.CellKey
	present bool
}

// GraphStore is the frozen-after-build node/edge store. The zero value
// is not usable; construct with New.
type GraphStore struct {
	mu sync.RWMutex

	nodes     []node
	adjacency map[int]map[int]Edge // from-index -> to-index -> edge
	keyIndex  map[cellkey.CellKey]int
	free      []int // tombstoned slots available for reuse; no operation in this package tombstones or reuses a slot
}

// New returns an empty GraphStore ready to accept edges.
func New() *GraphStore {
	return &GraphStore{
		adjacency: make(map[int]map[int]Edge),
		keyIndex:  make(map[cellkey.CellKey]int),
	}
}

// indexFor returns the index for key, allocating a new node slot if key
// has not been seen before. Caller must hold g.mu for writing.
func (g *GraphStore) indexFor(key cellkey.CellKey) int {
	if idx, ok := g.keyIndex[key]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, node{key: key, present: true})
	g.keyIndex[key] = idx
	return idx
}

// AddEdge allocates indices for from/to as needed and inserts the edge,
// keeping the lower-weight edge on conflict. Self-loops are a no-op.
// weight, weightList, and capacity are all optional (nil/empty meaning
// "not specified").
func (g *GraphStore) AddEdge(from, to cellkey.CellKey, weight *float64, weightList []float64, capacity *float64) error {
	if from == to {
		return nil
	}
	if weightList != nil && len(weightList) != WeightListLen {
		return fmt.Errorf("graphstore: weight list must have length %d, got %d", WeightListLen, len(weightList))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fromIdx := g.indexFor(from)
	toIdx := g.indexFor(to)

	cap := 0.0
	if capacity != nil {
		cap = *capacity
	}
	candidate := Edge{
		From:       fromIdx,
		To:         toIdx,
		Weight:     weightOrDefault(weight),
		WeightList: weightList,
		Capacity:   cap,
	}

	out, ok := g.adjacency[fromIdx]
	if !ok {
		out = make(map[int]Edge)
		g.adjacency[fromIdx] = out
	}

	existing, exists := out[toIdx]
	if !exists || candidate.Weight < existing.Weight {
		out[toIdx] = candidate
	}
	return nil
}

// RemoveEdge removes the edge (from, to) if present; no error if absent.
func (g *GraphStore) RemoveEdge(from, to cellkey.CellKey) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromIdx, ok := g.keyIndex[from]
	if !ok {
		return
	}
	toIdx, ok := g.keyIndex[to]
	if !ok {
		return
	}
	if out, ok := g.adjacency[fromIdx]; ok {
		delete(out, toIdx)
	}
}

// Merge replays every edge of other into g via AddEdge, using other's
// CellKeys so that shared CellKeys become shared nodes in g. Merging a
// graph into itself is idempotent on the edge set, since every replayed
// edge is identical to one already present and therefore never lowers a
// retained weight.
func (g *GraphStore) Merge(other *GraphStore) error {
	// Snapshot other's edges under its own read lock and release it
	// before calling AddEdge: AddEdge takes g.mu for writing, and when
	// other == g (merging a graph into itself, required to be a no-op
	// by spec) holding other's read lock across that call would
	// deadlock against g's own write lock.
	type replay struct {
		fromKey, toKey cellkey.CellKey
		weight         float64
		weightList     []float64
		capacity       float64
	}

	other.mu.RLock()
	edges := make([]replay, 0)
	for fromIdx, out := range other.adjacency {
		fromNode := other.nodes[fromIdx]
		if !fromNode.present {
			continue
		}
		for toIdx, edge := range out {
			toNode := other.nodes[toIdx]
			if !toNode.present {
				continue
			}
			var wl []float64
			if edge.WeightList != nil {
				wl = append([]float64(nil), edge.WeightList...)
			}
			edges = append(edges, replay{
				fromKey:    fromNode.key,
				toKey:      toNode.key,
				weight:     edge.Weight,
				weightList: wl,
				capacity:   edge.Capacity,
			})
		}
	}
	other.mu.RUnlock()

	for _, r := range edges {
		w := r.weight
		cap := r.capacity
		if err := g.AddEdge(r.fromKey, r.toKey, &w, r.weightList, &cap); err != nil {
			return fmt.Errorf("graphstore: merge: %w", err)
		}
	}
	return nil
}

// NodeCount returns the number of non-tombstoned node slots.
func (g *GraphStore) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, nd := range g.nodes {
		if nd.present {
			n++
		}
	}
	return n
}

// IndexOf returns the dense index for key, if present.
func (g *GraphStore) IndexOf(key cellkey.CellKey) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.keyIndex[key]
	return idx, ok
}

// KeyOf returns the CellKey stored at idx, if the slot is present.
func (g *GraphStore) KeyOf(idx int) (cellkey.CellKey, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if idx < 0 || idx >= len(g.nodes) || !g.nodes[idx].present {
		return cellkey.CellKey{}, false
	}
	return g.nodes[idx].key, true
}

// Edges returns the outgoing edges of idx. The returned slice is a copy
// safe to use after the read lock is released.
func (g *GraphStore) Edges(idx int) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out, ok := g.adjacency[idx]
	if !ok {
		return nil
	}
	edges := make([]Edge, 0, len(out))
	for _, e := range out {
		edges = append(edges, e)
	}
	return edges
}

// RandomNode returns a uniformly sampled present node's CellKey.
func (g *GraphStore) RandomNode() (cellkey.CellKey, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var present []int
	for i, nd := range g.nodes {
		if nd.present {
			present = append(present, i)
		}
	}
	if len(present) == 0 {
		return cellkey.CellKey{}, false
	}
	idx := present[rand.Intn(len(present))]
	return g.nodes[idx].key, true
}

// NodeHash returns a deterministic 64-bit digest of the sorted set of
// CellKeys in the graph, used to verify reproducibility across rebuilds.
func (g *GraphStore) NodeHash() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	hashes := make([]uint64, 0, len(g.nodes))
	for _, nd := range g.nodes {
		if nd.present {
			hashes = append(hashes, nd.key.Hash())
		}
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })

	// FNV-1a style fold over the sorted hash sequence; order-independence
	// of the *input* is established by sorting first, so the digest is a
	// pure function of the CellKey set.
	var h uint64 = 14695981039346656037
	for _, v := range hashes {
		for i := 0; i < 8; i++ {
			h ^= (v >> (8 * i)) & 0xff
			h *= 1099511628211
		}
	}
	return h
}

// Snap resolves query to the nearest in-graph cell at layer -1: if
// query is itself present at the base layer, it is returned directly;
// otherwise the k-ring neighbours of query's spatial cell are expanded
// one ring at a time (via ringFn, owned by the caller so this package
// stays free of a direct H3 dependency) until an in-graph base-layer
// cell is found, or kRing rings are exhausted.
func (g *GraphStore) Snap(query cellkey.CellKey, kRing int, ringFn func(cell uint64, k int) ([]uint64, error)) (cellkey.CellKey, bool, error) {
	base := query.Base()
	if g.has(base) {
		return base, true, nil
	}
	for k := 1; k <= kRing; k++ {
		ring, err := ringFn(query.Cell, k)
		if err != nil {
			return cellkey.CellKey{}, false, fmt.Errorf("graphstore: snap: %w", err)
		}
		for _, c := range ring {
			candidate := cellkey.New(c, cellkey.LayerWalk)
			if g.has(candidate) {
				return candidate, true, nil
			}
		}
	}
	return cellkey.CellKey{}, false, nil
}

func (g *GraphStore) has(key cellkey.CellKey) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.keyIndex[key]
	return ok
}
