// Package gtfsbuilder ingests a parsed GTFS feed and produces inter-stop
// ride edges plus the per-stop boarding-frequency table. ZIP/CSV parsing
// itself is delegated to the same column-name-robust approach as
// internal/gtfs/parser.go (kept alongside as internal/gtfs, adapted here
// for the graph domain rather than Postgres staging); this package owns
// the frequency accumulation and boarding-cost derivation, replacing an
// earlier, simpler flat weight=1.0 edge with a frequency-derived cost.
package gtfsbuilder

import (
	"fmt"
	"sort"

	"github.com/hextransit/n-minute-city/internal/cellkey"
	"github.com/hextransit/n-minute-city/internal/gtfs"
	"github.com/hextransit/n-minute-city/internal/h3cell"
)

// HoursPerWeek is the fixed length of a stop-frequency vector: 24 hours
// x 7 days, indexed hour*1 + day*24 (this engine's hour-of-week = day*24+hour).
const HoursPerWeek = 168

// Options configures a single GTFS ingestion pass.
type Options struct {
	// RouteIndexOffset lets multiple GTFS feeds merge into disjoint
	// route-layer spaces: every assigned route index is shifted by it.
	RouteIndexOffset int
	// WaitTimeMultiplier scales the frequency-derived boarding cost,
	// default 1.0.
	WaitTimeMultiplier float64
}

func (o Options) withDefaults() Options {
	if o.WaitTimeMultiplier == 0 {
		o.WaitTimeMultiplier = 1.0
	}
	return o
}

// RideEdge is one inter-stop edge along a trip, keyed by route index and
// the two stop cells.
type RideEdge struct {
	RouteIndex int
	FromCell   h3cell.Cell
	ToCell     h3cell.Cell
	DurationM  float64 // whole minutes
}

// StopFrequency is the 168-bucket departure count for one (stop-cell,
// route-index) pair.
type StopFrequency struct {
	Cell       h3cell.Cell
	RouteIndex int
	Buckets    [HoursPerWeek]float64
}

// Result is everything one GTFS ingestion pass produces.
type Result struct {
	RideEdges   []RideEdge
	Frequencies []StopFrequency
	// RouteIndex maps GTFS route_id to its assigned layer index,
	// assigned by enumerating routes in sorted key order plus
	// RouteIndexOffset.
	RouteIndex map[string]int
}

// DayColumns mirrors calendar.txt's seven boolean day flags in
// Monday-first order.
type DayColumns struct {
	Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday bool
}

func (d DayColumns) flags() [7]bool {
	return [7]bool{d.Monday, d.Tuesday, d.Wednesday, d.Thursday, d.Friday, d.Saturday, d.Sunday}
}

// StopResolver resolves a GTFS stop_id to its quantised H3 cell; callers
// typically back this with a map built once from feed.Stops.
type StopResolver func(stopID string) (h3cell.Cell, bool)

// CalendarLookup resolves a service_id to its weekly day flags.
type CalendarLookup func(serviceID string) (DayColumns, bool)

// Build ingests a parsed GTFS feed and produces ride edges and stop
// frequencies. It reads feed.Routes, feed.Trips and feed.StopTimes;
// resolveStop and lookupCalendar are injected so this package never reads
// feed.Stops or feed.Calendar itself.
func Build(feed *gtfs.GTFSFeed, resolveStop StopResolver, lookupCalendar CalendarLookup, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	routeIndex := assignRouteIndices(feed, opts.RouteIndexOffset)

	tripRouteID := make(map[string]string, len(feed.Trips))
	tripServiceID := make(map[string]string, len(feed.Trips))
	for _, t := range feed.Trips {
		tripRouteID[t.TripID] = t.RouteID
		tripServiceID[t.TripID] = t.ServiceID
	}

	type stopTime struct {
		seq                int
		arrival, departure string
	}
	byTrip := make(map[string][]stopTime)
	for _, st := range feed.StopTimes {
		byTrip[st.TripID] = append(byTrip[st.TripID], stopTime{seq: st.StopSequence, arrival: st.ArrivalTime, departure: st.DepartureTime})
	}
	stopOfStopTime := make(map[string]map[int]string)
	for _, st := range feed.StopTimes {
		if stopOfStopTime[st.TripID] == nil {
			stopOfStopTime[st.TripID] = make(map[int]string)
		}
		stopOfStopTime[st.TripID][st.StopSequence] = st.StopID
	}

	var rideEdges []RideEdge
	freqAccum := make(map[[2]uint64]*StopFrequency) // key = (cell, routeIndex) via cellRouteKey

	for tripID, times := range byTrip {
		routeID, ok := tripRouteID[tripID]
		if !ok {
			continue
		}
		rIdx, ok := routeIndex[routeID]
		if !ok {
			continue
		}

		sort.Slice(times, func(i, j int) bool { return times[i].seq < times[j].seq })

		seen := make(map[[2]h3cell.Cell]bool)
		for i := 0; i+1 < len(times); i++ {
			a, b := times[i], times[i+1]
			stopA, okA := stopOfStopTime[tripID][a.seq]
			stopB, okB := stopOfStopTime[tripID][b.seq]
			if !okA || !okB {
				continue
			}
			cellA, okA := resolveStop(stopA)
			cellB, okB := resolveStop(stopB)
			if !okA || !okB || cellA == cellB {
				continue
			}

			arrivalSec, err1 := parseGTFSTime(a.arrival)
			departureSec, err2 := parseGTFSTime(b.departure)
			if err1 != nil || err2 != nil {
				continue
			}
			durationMin := float64((departureSec - arrivalSec) / 60)
			if durationMin <= 0 {
				continue
			}

			key := [2]h3cell.Cell{cellA, cellB}
			if seen[key] {
				continue
			}
			seen[key] = true

			rideEdges = append(rideEdges, RideEdge{RouteIndex: rIdx, FromCell: cellA, ToCell: cellB, DurationM: durationMin})
		}

		// Stop frequencies: every stop visited by this trip accumulates
		// a departure count in its (day, hour) bucket for each day the
		// trip's service_id runs.
		serviceID := tripServiceID[tripID]
		days, ok := lookupCalendar(serviceID)
		if !ok {
			continue
		}
		flags := days.flags()
		for _, t := range times {
			stopID, ok := stopOfStopTime[tripID][t.seq]
			if !ok {
				continue
			}
			cell, ok := resolveStop(stopID)
			if !ok {
				continue
			}
			depSec, err := parseGTFSTime(t.departure)
			if err != nil {
				continue
			}
			hour := (depSec / 3600) % 24

			sf := accumFrequency(freqAccum, cell, rIdx)
			for dayIdx, active := range flags {
				if !active {
					continue
				}
				sf.Buckets[hour+dayIdx*24]++
			}
		}
	}

	frequencies := make([]StopFrequency, 0, len(freqAccum))
	for _, sf := range freqAccum {
		frequencies = append(frequencies, *sf)
	}

	return &Result{RideEdges: rideEdges, Frequencies: frequencies, RouteIndex: routeIndex}, nil
}

func accumFrequency(m map[[2]uint64]*StopFrequency, cell h3cell.Cell, routeIdx int) *StopFrequency {
	key := [2]uint64{uint64(cell), uint64(routeIdx)}
	sf, ok := m[key]
	if !ok {
		sf = &StopFrequency{Cell: cell, RouteIndex: routeIdx}
		m[key] = sf
	}
	return sf
}

// assignRouteIndices enumerates route_ids in sorted order and assigns
// layer indices 0..N plus offset.
func assignRouteIndices(feed *gtfs.GTFSFeed, offset int) map[string]int {
	ids := make([]string, 0, len(feed.Routes))
	for _, r := range feed.Routes {
		ids = append(ids, r.RouteID)
	}
	sort.Strings(ids)

	idx := make(map[string]int, len(ids))
	for i, id := range ids {
		idx[id] = i + offset
	}
	return idx
}

// parseGTFSTime parses GTFS's HH:MM:SS time-of-day (hours may exceed 23
// for post-midnight service) into seconds since midnight.
func parseGTFSTime(s string) (int, error) {
	if len(s) < 7 {
		return 0, fmt.Errorf("gtfsbuilder: malformed time %q", s)
	}
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("gtfsbuilder: malformed time %q: %w", s, err)
	}
	return h*3600 + m*60 + sec, nil
}

// BoardingCost computes the frequency-derived waiting cost for each hour
// of the week: wait[h] = 60 / freq[h] / 2 * multiplier, with freq[h] == 0
// hours encoded as "no boarding edge at this hour" rather than the ±Inf
// that a literal division would produce. The boolean return reports
// whether at least one hour has a finite cost; if none do, callers fall
// back to a scalar weight (the caller's discretion, e.g. 5.0).
func BoardingCost(freq [HoursPerWeek]float64, multiplier float64) (costs [HoursPerWeek]float64, anyFinite bool, scalarFallback float64) {
	const noBoardingSentinel = -1 // negative cost is not a valid edge weight; search must treat it as absent
	maxFreq := 0.0
	for h, f := range freq {
		if f <= 0 {
			costs[h] = noBoardingSentinel
			continue
		}
		costs[h] = 60.0 / f / 2.0 * multiplier
		anyFinite = true
		if f > maxFreq {
			maxFreq = f
		}
	}
	if maxFreq > 0 {
		scalarFallback = 60.0 / maxFreq / 2.0 * multiplier
	}
	return costs, anyFinite, scalarFallback
}
