package graphstore

import (
	"github.com/hextransit/n-minute-city/internal/cellkey"
	"github.com/hextransit/n-minute-city/internal/gtfsbuilder"
	"github.com/hextransit/n-minute-city/internal/h3cell"
	"github.com/hextransit/n-minute-city/internal/osmbuilder"
)

// IngestOSM consumes an osmbuilder.Result and calls AddEdge for each
// edge, emitting both directions — the builder itself only produces the
// forward direction, so edges become bidirectional at ingestion time.
func (g *GraphStore) IngestOSM(result *osmbuilder.Result) error {
	for _, e := range result.Edges {
		w := e.Weight
		if err := g.AddEdge(e.From, e.To, &w, nil, nil); err != nil {
			return err
		}
		if err := g.AddEdge(e.To, e.From, &w, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// IngestGTFS consumes a gtfsbuilder.Result, adding:
//   - the transit ride edge from@L -> to@L for every RideEdge,
//   - the boarding edge from@base -> from@L, with either a time-dependent
//     weight list (when the stop's frequency table has at least one
//     servable hour) or a flat 5.0-minute scalar otherwise,
//   - the 1.0-minute alighting edge from@L -> from@base.
func (g *GraphStore) IngestGTFS(result *gtfsbuilder.Result, waitTimeMultiplier float64) error {
	freqByStopRoute := make(map[[2]uint64]gtfsbuilder.StopFrequency, len(result.Frequencies))
	for _, sf := range result.Frequencies {
		freqByStopRoute[[2]uint64{uint64(sf.Cell), uint64(sf.RouteIndex)}] = sf
	}

	// Ride edges, one direction per RideEdge (a trip only ever moves
	// forward along its stop sequence), and track which (stop-cell,
	// route-index) pairs need a boarding/alighting pair (every stop a
	// ride edge touches, both ends).
	boardingStops := make(map[[2]uint64]bool)
	for _, re := range result.RideEdges {
		layer := cellkey.Layer(re.RouteIndex)
		from := cellkey.New(uint64(re.FromCell), layer)
		to := cellkey.New(uint64(re.ToCell), layer)
		w := re.DurationM
		if err := g.AddEdge(from, to, &w, nil, nil); err != nil {
			return err
		}
		boardingStops[[2]uint64{uint64(re.FromCell), uint64(re.RouteIndex)}] = true
		boardingStops[[2]uint64{uint64(re.ToCell), uint64(re.RouteIndex)}] = true
	}

	const alightingCost = 1.0
	const scalarFallbackCost = 5.0

	for key := range boardingStops {
		cell, routeIdx := h3cell.Cell(key[0]), int(key[1])
		layer := cellkey.Layer(routeIdx)
		onRoute := cellkey.New(uint64(cell), layer)
		base := onRoute.Base()

		var boardWeight float64
		var weightList []float64
		if sf, ok := freqByStopRoute[key]; ok {
			costs, anyFinite, scalar := gtfsbuilder.BoardingCost(sf.Buckets, waitTimeMultiplier)
			if anyFinite {
				boardWeight = scalar
				list := costs[:]
				weightList = append([]float64(nil), list...)
			} else {
				boardWeight = scalarFallbackCost
			}
		} else {
			boardWeight = scalarFallbackCost
		}

		if err := g.AddEdge(base, onRoute, &boardWeight, weightList, nil); err != nil {
			return err
		}
		alight := alightingCost
		if err := g.AddEdge(onRoute, base, &alight, nil, nil); err != nil {
			return err
		}
	}

	return nil
}
