// Package api exposes the routing engine's query surface over Fiber.
// Request parsing, the caching-then-lock pattern, and error-body shape
// follow the same conventions as the original REST handlers, generalized
// from lat/lon + named strategy to CellKey-indexed queries.
package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hextransit/n-minute-city/internal/cache"
	"github.com/hextransit/n-minute-city/internal/cellkey"
	"github.com/hextransit/n-minute-city/internal/graphstore"
	"github.com/hextransit/n-minute-city/internal/h3cell"
	"github.com/hextransit/n-minute-city/internal/search"
)

// Engine holds the frozen graph the handlers query. Snap's ring
// expansion is supplied by ringFn below, which wraps internal/h3cell.
type Engine struct {
	Graph *graphstore.GraphStore
}

func ringFn(cell uint64, k int) ([]uint64, error) {
	ring, err := h3cell.GridRing(h3cell.Cell(cell), k)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(ring))
	for i, c := range ring {
		out[i] = uint64(c)
	}
	return out, nil
}

// Snap handles GET /v2/snap?cells=c1,c2,...&k_ring=2
func (e *Engine) Snap(c *fiber.Ctx) error {
	cellsParam := c.Query("cells")
	if cellsParam == "" {
		return c.Status(400).JSON(fiber.Map{"error": "missing required parameter: cells"})
	}
	kRing, err := strconv.Atoi(c.Query("k_ring", "2"))
	if err != nil || kRing < 0 {
		return c.Status(400).JSON(fiber.Map{"error": "invalid k_ring"})
	}

	result := make(fiber.Map)
	for _, s := range strings.Split(cellsParam, ",") {
		raw, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			result[s] = nil
			continue
		}
		query := cellkey.New(raw, cellkey.LayerWalk)
		snapped, ok, err := e.Graph.Snap(query, kRing, ringFn)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": fmt.Sprintf("snap failed for %d: %v", raw, err)})
		}
		if !ok {
			result[s] = nil
			continue
		}
		result[s] = snapped.Cell
	}
	return c.JSON(result)
}

// ShortestPath handles GET /v2/shortest-path?origin=<cell>&destination=<cell>&hour_of_week=<0..167>
func (e *Engine) ShortestPath(c *fiber.Ctx) error {
	origin, err := strconv.ParseUint(c.Query("origin"), 10, 64)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid or missing origin"})
	}
	destination, err := strconv.ParseUint(c.Query("destination"), 10, 64)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid or missing destination"})
	}

	var hourOfWeek *int
	if raw := c.Query("hour_of_week"); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil || h < 0 || h >= graphstore.WeightListLen {
			return c.Status(400).JSON(fiber.Map{"error": "hour_of_week must be in 0..167"})
		}
		hourOfWeek = &h
	}

	ctx := c.Context()
	cacheKey := cache.ShortestPathKey(origin, destination, hourOfWeek)
	lockKey := cache.LockKey(cacheKey)

	if cached, err := cache.GetRoute(ctx, cacheKey); err == nil && cached != nil {
		return c.JSON(cached)
	}

	acquired, err := cache.AcquireLock(ctx, lockKey, 5*time.Second)
	if err != nil {
		// Can't reach Redis for the lock either; degrade to computing
		// without de-duplication rather than failing the query.
		acquired = false
	} else if !acquired {
		// Another request is already computing this route; wait for it
		// to publish a result instead of racing it.
		if cached, err := cache.WaitForLock(ctx, cacheKey, 3*time.Second); err == nil && cached != nil {
			return c.JSON(cached)
		}
		// Waiting timed out or came up empty; fall through and compute.
	}
	defer func() {
		if acquired {
			cache.ReleaseLock(ctx, lockKey)
		}
	}()

	originKey := cellkey.New(origin, cellkey.LayerWalk)
	destKey := cellkey.New(destination, cellkey.LayerWalk)

	res, err := search.AStar(e.Graph, originKey, search.AStarOptions{
		End:        &destKey,
		HourOfWeek: hourOfWeek,
	})
	if err != nil {
		if err == search.ErrInputNotFound {
			return c.Status(404).JSON(fiber.Map{"error": "origin or destination not found"})
		}
		if err == search.ErrNoPath {
			return c.Status(404).JSON(fiber.Map{"error": "no path"})
		}
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	path := make([]uint64, len(res.Path))
	for i, k := range res.Path {
		path[i] = k.Cell
	}
	result := &cache.ShortestPathResult{Path: path, Distance: res.Distance}

	if err := cache.SetRoute(ctx, cacheKey, result, 10*time.Minute); err != nil {
		// Cache write failures degrade gracefully; the query already
		// succeeded.
		_ = err
	}

	return c.JSON(result)
}

// matrixDistanceRequest is the JSON body of POST /v2/matrix-distance.
type matrixDistanceRequest struct {
	Origins         []uint64 `json:"origins"`
	Destinations    []uint64 `json:"destinations"`
	HourOfWeek      *int     `json:"hour_of_week"`
	Infinity        float64  `json:"infinity"`
	DynamicInfinity bool     `json:"dynamic_infinity"`
	Force           bool     `json:"force"`
}

// MatrixDistance handles POST /v2/matrix-distance
func (e *Engine) MatrixDistance(c *fiber.Ctx) error {
	var req matrixDistanceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if len(req.Origins) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "origins must not be empty"})
	}
	if req.HourOfWeek != nil && (*req.HourOfWeek < 0 || *req.HourOfWeek >= graphstore.WeightListLen) {
		return c.Status(400).JSON(fiber.Map{"error": "hour_of_week must be in 0..167"})
	}

	ctx := c.Context()
	cacheKey := cache.MatrixDistanceKey(req.Origins, req.Destinations, req.HourOfWeek, req.Infinity, req.DynamicInfinity)
	lockKey := cache.LockKey(cacheKey)

	if cached, err := cache.GetMatrix(ctx, cacheKey); err == nil && cached != nil {
		return c.JSON(cached)
	}

	acquired, err := cache.AcquireLock(ctx, lockKey, 5*time.Second)
	if err != nil {
		acquired = false
	} else if !acquired {
		if cached, err := cache.WaitForMatrixLock(ctx, cacheKey, 3*time.Second); err == nil && cached != nil {
			return c.JSON(cached)
		}
	}
	defer func() {
		if acquired {
			cache.ReleaseLock(ctx, lockKey)
		}
	}()

	origins := make([]cellkey.CellKey, len(req.Origins))
	for i, o := range req.Origins {
		origins[i] = cellkey.New(o, cellkey.LayerWalk)
	}
	destinations := make([]cellkey.CellKey, len(req.Destinations))
	for i, d := range req.Destinations {
		destinations[i] = cellkey.New(d, cellkey.LayerWalk)
	}

	results, err := search.AllOrigins(e.Graph, origins, destinations, req.HourOfWeek, req.Infinity, req.DynamicInfinity, req.Force, nil, 0)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	out := make(fiber.Map, len(results))
	cacheable := make(cache.MatrixDistanceResult, len(results))
	for originKey, res := range results {
		key := strconv.FormatUint(originKey.Cell, 10)
		if res.Err != nil {
			out[key] = fiber.Map{"error": res.Err.Error()}
			continue
		}
		distances := make([]interface{}, len(res.Distances))
		for i, d := range res.Distances {
			if d == nil {
				distances[i] = nil
			} else {
				distances[i] = *d
			}
		}
		out[key] = distances
		cacheable[key] = res.Distances
	}

	if err := cache.SetMatrix(ctx, cacheKey, cacheable, 10*time.Minute); err != nil {
		_ = err
	}

	return c.JSON(out)
}

// Health handles GET /health.
func (e *Engine) Health(c *fiber.Ctx) error {
	ctx := c.Context()

	redisErr := cache.HealthCheck(ctx)
	redisStatus := "ok"
	if redisErr != nil {
		redisStatus = redisErr.Error()
	}

	nodeCount := e.Graph.NodeCount()
	graphStatus := "ok"
	if nodeCount == 0 {
		graphStatus = "empty"
	}

	status := "healthy"
	httpStatus := 200
	if redisErr != nil || nodeCount == 0 {
		status = "unhealthy"
		httpStatus = 503
	}

	body := fiber.Map{
		"status": status,
		"checks": fiber.Map{
			"redis": redisStatus,
			"graph": graphStatus,
		},
		"node_count": nodeCount,
	}

	if redisErr == nil {
		if stats, err := cache.Stats(ctx); err == nil {
			body["redis_stats"] = stats
		}
	}

	return c.Status(httpStatus).JSON(body)
}
