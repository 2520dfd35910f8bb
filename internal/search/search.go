// Package search implements BFS, A*, and the parallel all-origins driver
// over a graphstore.GraphStore. The priority queue uses container/heap
// with a path-score item and lazy deletion via stale g_score comparison;
// the parallel driver fans work out across a worker pool coordinated
// with golang.org/x/sync/errgroup.
package search

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hextransit/n-minute-city/internal/cellkey"
	"github.com/hextransit/n-minute-city/internal/graphstore"
)

// ErrInputNotFound indicates an origin or destination index could not be
// resolved in the graph.
var ErrInputNotFound = errors.New("search: origin/destination not found")

// ErrNoPath indicates the graph is connected at the query nodes but no
// finite-cost path exists within the configured infinity cutoff.
var ErrNoPath = errors.New("search: no path")

// Heuristic computes an admissible lower bound on the cost from a to b.
// A* calls it with (candidate, reference) where reference is the
// *previous* node on the best known path to candidate, not the overall
// goal — see DESIGN.md for the rationale behind this argument order.
type Heuristic func(a, b int) float64

// edgeCost resolves the cost of traversing e, honoring a time-dependent
// weight list when hourOfWeek is supplied and the edge carries one. A
// negative weight-list entry is the "no boarding this hour" sentinel
// (see gtfsbuilder.BoardingCost) and is treated as an absent edge rather
// than a traversable negative-cost one. The fallback e.Weight is never
// actually absent in practice — graphstore.AddEdge already materializes
// a nil weight as 60.0 before an edge is ever stored — so the "default
// 1.0 if absent" case spec.md §4.C.2 describes is unreachable here; a
// direct call with a zero-value Edge would still see e.Weight == 0.
func edgeCost(e graphstore.Edge, hourOfWeek *int) float64 {
	if hourOfWeek != nil && e.WeightList != nil {
		cost := e.WeightList[*hourOfWeek]
		if cost < 0 {
			return math.Inf(1)
		}
		return cost
	}
	return e.Weight
}

// BFSResult carries the (path, distances) output of a BFS call. Path and
// Distance are set together when End is requested; otherwise exactly one
// of EndListDistances/AllDistances is set, depending on the inputs.
type BFSResult struct {
	Path              []cellkey.CellKey // set when End is requested
	Distance          float64           // hop count to End, when End is requested
	EndListDistances  []*float64        // set when EndList is requested, one entry per input, nil = unreached
	AllDistances      []*float64        // set when neither End nor EndList is requested, indexed by node index
}

// BFS performs an unweighted breadth-first search from start. Distance
// is hop count (1.0 per edge), never edge.Weight.
func BFS(g *graphstore.GraphStore, start cellkey.CellKey, end *cellkey.CellKey, endList []cellkey.CellKey) (BFSResult, error) {
	startIdx, ok := g.IndexOf(start)
	if !ok {
		return BFSResult{}, ErrInputNotFound
	}

	n := g.NodeCount()
	visited := make([]bool, n)
	parent := make([]int, n)
	dist := make([]float64, n)
	for i := range parent {
		parent[i] = -1
		dist[i] = -1
	}

	queue := []int{startIdx}
	visited[startIdx] = true
	dist[startIdx] = 0

	var endIdx int
	var wantEnd bool
	if end != nil {
		idx, ok := g.IndexOf(*end)
		if !ok {
			return BFSResult{}, ErrInputNotFound
		}
		endIdx = idx
		wantEnd = true
	}

	endIdxSet := make(map[int]int) // index -> position in endList
	for i, k := range endList {
		idx, ok := g.IndexOf(k)
		if ok {
			endIdxSet[idx] = i
		}
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if wantEnd && cur == endIdx {
			path := backtrace(g, parent, startIdx, endIdx)
			return BFSResult{Path: path, Distance: dist[endIdx]}, nil
		}

		for _, e := range g.Edges(cur) {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true // mark on enqueue, not on dequeue
			parent[e.To] = cur
			dist[e.To] = dist[cur] + 1
			queue = append(queue, e.To)
		}
	}

	if wantEnd {
		// Target never reached: report a sentinel distance (-1) and a nil
		// path rather than an error; no distance map is returned.
		return BFSResult{Path: nil, Distance: -1}, nil
	}

	if endList != nil {
		out := make([]*float64, len(endList))
		for idx, pos := range endIdxSet {
			if dist[idx] >= 0 {
				d := dist[idx]
				out[pos] = &d
			}
		}
		return BFSResult{EndListDistances: out}, nil
	}

	out := make([]*float64, n)
	for i, d := range dist {
		if d >= 0 {
			v := d
			out[i] = &v
		}
	}
	return BFSResult{AllDistances: out}, nil
}

// backtrace walks parent[] from endIdx to startIdx, reversing the
// collected key list, stopping early (best-effort) if a parent link is
// missing before reaching start.
func backtrace(g *graphstore.GraphStore, parent []int, startIdx, endIdx int) []cellkey.CellKey {
	var reversed []int
	cur := endIdx
	for {
		reversed = append(reversed, cur)
		if cur == startIdx {
			break
		}
		p := parent[cur]
		if p == -1 {
			break
		}
		cur = p
	}

	path := make([]cellkey.CellKey, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		if key, ok := g.KeyOf(reversed[i]); ok {
			path = append(path, key)
		}
	}
	return path
}

// heapItem is one entry in the A* frontier.
type heapItem struct {
	node  int
	g     float64
	f     float64
	index int
}

type priorityQueue []*heapItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].f < pq[j].f }
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}
func (pq *priorityQueue) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// AStarOptions configures a single A* invocation.
type AStarOptions struct {
	End             *cellkey.CellKey
	EndList         []cellkey.CellKey
	Infinity        float64 // 0 means "no cutoff" (treated as +Inf)
	DynamicInfinity bool
	HourOfWeek      *int
	H               Heuristic
}

// AStarResult carries either a single-target path/distance or a
// multi-target distance list, depending on which inputs were supplied.
type AStarResult struct {
	Path         []cellkey.CellKey
	Distance     float64
	TargetDists  []*float64 // one per EndList entry, input order, nil = unreached
}

// AStar runs a time-dependent A* search from start. When opts.H is nil,
// the search degenerates to Dijkstra (h=0), which must coincide with
// BFS distances on unweighted graphs.
func AStar(g *graphstore.GraphStore, start cellkey.CellKey, opts AStarOptions) (AStarResult, error) {
	startIdx, ok := g.IndexOf(start)
	if !ok {
		return AStarResult{}, ErrInputNotFound
	}

	h := opts.H
	if h == nil {
		h = func(a, b int) float64 { return 0 }
	}

	infinity := opts.Infinity
	if infinity <= 0 {
		infinity = math.Inf(1)
	}

	n := g.NodeCount()
	gScore := make([]float64, n)
	parent := make([]int, n)
	closed := make([]bool, n)
	for i := range gScore {
		gScore[i] = math.Inf(1)
		parent[i] = -1
	}
	gScore[startIdx] = 0

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &heapItem{node: startIdx, g: 0, f: h(startIdx, startIdx)})

	var endIdx int
	var wantEnd bool
	if opts.End != nil {
		idx, ok := g.IndexOf(*opts.End)
		if !ok {
			return AStarResult{}, ErrInputNotFound
		}
		endIdx = idx
		wantEnd = true
	}

	pending := make(map[int]int) // node index -> position in EndList
	for i, k := range opts.EndList {
		if idx, ok := g.IndexOf(k); ok {
			pending[idx] = i
		}
	}
	targetDists := make([]*float64, len(opts.EndList))

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*heapItem)
		cur := item.node

		if closed[cur] {
			continue // stale lazily-deleted entry
		}
		if item.g > gScore[cur] {
			continue // stale entry superseded by a better relaxation
		}
		closed[cur] = true

		if gScore[cur] > infinity {
			continue
		}

		if wantEnd && cur == endIdx {
			path := backtrace(g, parent, startIdx, endIdx)
			return AStarResult{Path: path, Distance: gScore[cur]}, nil
		}

		if pos, ok := pending[cur]; ok {
			d := gScore[cur]
			targetDists[pos] = &d
			delete(pending, cur)
			if opts.DynamicInfinity && d < infinity {
				infinity = d
			}
			if len(pending) == 0 && !wantEnd {
				return AStarResult{TargetDists: targetDists}, nil
			}
		}

		for _, e := range g.Edges(cur) {
			cost := edgeCost(e, opts.HourOfWeek)
			tentative := gScore[cur] + cost
			if tentative < gScore[e.To] {
				gScore[e.To] = tentative
				parent[e.To] = cur
				// Reference point is the *previous* node (cur), not the
				// goal — intentional, see DESIGN.md.
				f := tentative + h(e.To, cur)
				heap.Push(pq, &heapItem{node: e.To, g: tentative, f: f})
			}
		}
	}

	if wantEnd {
		return AStarResult{}, ErrNoPath
	}
	return AStarResult{TargetDists: targetDists}, nil
}

// AllOriginsResult is keyed by the CellKey of each unique origin.
type AllOriginsResult struct {
	Distances []*float64
	Err       error
}

// AllOrigins is the parallel all-origins driver: given origins and
// optional destinations, it deduplicates origins (unless force is true)
// and maps each unique origin to its A* result in
// parallel, using errgroup.SetLimit to bound concurrency to workers
// (GOMAXPROCS when workers <= 0). The returned map is keyed by origin CellKey;
// callers expand it back to a duplicated input list themselves.
func AllOrigins(g *graphstore.GraphStore, origins []cellkey.CellKey, destinations []cellkey.CellKey, hourOfWeek *int, infinity float64, dynamicInfinity bool, force bool, h Heuristic, workers int) (map[cellkey.CellKey]AllOriginsResult, error) {
	unique := origins
	if !force {
		seen := make(map[cellkey.CellKey]bool, len(origins))
		unique = unique[:0:0]
		for _, o := range origins {
			if !seen[o] {
				seen[o] = true
				unique = append(unique, o)
			}
		}
	}

	results := make(map[cellkey.CellKey]AllOriginsResult, len(unique))
	var mu sync.Mutex

	grp := new(errgroup.Group)
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	grp.SetLimit(workers)

	for _, origin := range unique {
		origin := origin
		grp.Go(func() error {
			res, err := AStar(g, origin, AStarOptions{
				EndList:         destinations,
				Infinity:        infinity,
				DynamicInfinity: dynamicInfinity,
				HourOfWeek:      hourOfWeek,
				H:               h,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[origin] = AllOriginsResult{Err: err}
			} else {
				results[origin] = AllOriginsResult{Distances: res.TargetDists}
			}
			return nil // per-origin errors are carried in the map, not propagated
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, fmt.Errorf("search: all-origins driver: %w", err)
	}
	return results, nil
}
