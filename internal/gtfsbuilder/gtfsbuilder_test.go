package gtfsbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hextransit/n-minute-city/internal/gtfs"
	"github.com/hextransit/n-minute-city/internal/h3cell"
	"github.com/hextransit/n-minute-city/internal/models"
)

func mustCell(t *testing.T, lat, lon float64) h3cell.Cell {
	t.Helper()
	c, err := h3cell.FromLatLng(lat, lon)
	if err != nil {
		t.Fatalf("h3cell.FromLatLng(%v, %v): %v", lat, lon, err)
	}
	return c
}

func TestBuildProducesRideEdgeForConsecutiveStops(t *testing.T) {
	feed := &gtfs.GTFSFeed{
		Routes: []models.GTFSRoute{{RouteID: "R1"}},
		Trips:  []models.GTFSTrip{{TripID: "T1", RouteID: "R1", ServiceID: "WEEKDAY"}},
		StopTimes: []models.GTFSStopTime{
			{TripID: "T1", StopID: "S1", StopSequence: 1, ArrivalTime: "08:00:00", DepartureTime: "08:00:00"},
			{TripID: "T1", StopID: "S2", StopSequence: 2, ArrivalTime: "08:05:00", DepartureTime: "08:05:00"},
		},
		Calendar: []models.GTFSCalendar{{ServiceID: "WEEKDAY", Monday: true, Tuesday: true, Wednesday: true, Thursday: true, Friday: true}},
	}

	cellS1 := mustCell(t, 59.91, 10.75)
	cellS2 := mustCell(t, 59.92, 10.76)
	resolve := func(stopID string) (h3cell.Cell, bool) {
		switch stopID {
		case "S1":
			return cellS1, true
		case "S2":
			return cellS2, true
		}
		return 0, false
	}
	lookup := func(serviceID string) (DayColumns, bool) {
		if serviceID != "WEEKDAY" {
			return DayColumns{}, false
		}
		return DayColumns{Monday: true, Tuesday: true, Wednesday: true, Thursday: true, Friday: true}, true
	}

	result, err := Build(feed, resolve, lookup, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.RideEdges) != 1 {
		t.Fatalf("RideEdges = %v, want exactly one ride edge", result.RideEdges)
	}
	re := result.RideEdges[0]
	if re.FromCell != cellS1 || re.ToCell != cellS2 {
		t.Fatalf("RideEdge = %+v, want from=%v to=%v", re, cellS1, cellS2)
	}
	if re.DurationM != 5 {
		t.Fatalf("RideEdge.DurationM = %v, want 5", re.DurationM)
	}
	if re.RouteIndex != result.RouteIndex["R1"] {
		t.Fatalf("RideEdge.RouteIndex = %d, want %d", re.RouteIndex, result.RouteIndex["R1"])
	}
}

func TestBuildAccumulatesFrequencyByHourAndDay(t *testing.T) {
	feed := &gtfs.GTFSFeed{
		Routes: []models.GTFSRoute{{RouteID: "R1"}},
		Trips:  []models.GTFSTrip{{TripID: "T1", RouteID: "R1", ServiceID: "WEEKDAY"}},
		StopTimes: []models.GTFSStopTime{
			{TripID: "T1", StopID: "S1", StopSequence: 1, ArrivalTime: "08:00:00", DepartureTime: "08:00:00"},
			{TripID: "T1", StopID: "S2", StopSequence: 2, ArrivalTime: "08:05:00", DepartureTime: "08:05:00"},
		},
	}
	cellS1 := mustCell(t, 1, 1)
	cellS2 := mustCell(t, 2, 2)
	resolve := func(stopID string) (h3cell.Cell, bool) {
		if stopID == "S1" {
			return cellS1, true
		}
		return cellS2, true
	}
	// Monday only.
	lookup := func(string) (DayColumns, bool) {
		return DayColumns{Monday: true}, true
	}

	result, err := Build(feed, resolve, lookup, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Frequencies) != 2 {
		t.Fatalf("Frequencies = %v, want one entry per stop visited", result.Frequencies)
	}
	for _, sf := range result.Frequencies {
		// Monday is day index 0 in DayColumns.flags() order; hour 8.
		if sf.Buckets[8] != 1 {
			t.Errorf("StopFrequency(%+v).Buckets[8] = %v, want 1", sf, sf.Buckets[8])
		}
		total := 0.0
		for _, v := range sf.Buckets {
			total += v
		}
		if total != 1 {
			t.Errorf("StopFrequency(%+v) has %v total departures across the week, want 1 (Monday 08:00 only)", sf, total)
		}
	}
}

func TestBuildSkipsTripsWithUnknownService(t *testing.T) {
	feed := &gtfs.GTFSFeed{
		Routes: []models.GTFSRoute{{RouteID: "R1"}},
		Trips:  []models.GTFSTrip{{TripID: "T1", RouteID: "R1", ServiceID: "UNKNOWN"}},
		StopTimes: []models.GTFSStopTime{
			{TripID: "T1", StopID: "S1", StopSequence: 1, DepartureTime: "08:00:00"},
			{TripID: "T1", StopID: "S2", StopSequence: 2, DepartureTime: "08:05:00"},
		},
	}
	resolve := func(stopID string) (h3cell.Cell, bool) { return mustCell(t, 1, 1), true }
	lookup := func(string) (DayColumns, bool) { return DayColumns{}, false }

	result, err := Build(feed, resolve, lookup, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Frequencies) != 0 {
		t.Fatalf("Frequencies = %v, want none (service_id unresolved)", result.Frequencies)
	}
}

func TestAssignRouteIndicesSortedWithOffset(t *testing.T) {
	feed := &gtfs.GTFSFeed{
		Routes: []models.GTFSRoute{{RouteID: "C"}, {RouteID: "A"}, {RouteID: "B"}},
	}
	idx := assignRouteIndices(feed, 10)
	if idx["A"] != 10 || idx["B"] != 11 || idx["C"] != 12 {
		t.Fatalf("assignRouteIndices = %v, want A=10 B=11 C=12 (sorted route_id order, offset 10)", idx)
	}
}

func TestParseGTFSTime(t *testing.T) {
	tests := []struct {
		name     string
		timeStr  string
		expected int
		hasError bool
	}{
		{
			name:     "midnight",
			timeStr:  "00:00:00",
			expected: 0,
		},
		{
			name:     "ordinary time",
			timeStr:  "08:05:00",
			expected: 8*3600 + 5*60,
		},
		{
			name:     "post-midnight service",
			timeStr:  "25:30:00",
			expected: 25*3600 + 30*60,
		},
		{
			name:     "malformed",
			timeStr:  "nope",
			hasError: true,
		},
		{
			name:     "too short",
			timeStr:  "1:2",
			hasError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sec, err := parseGTFSTime(tt.timeStr)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, sec)
		})
	}
}

func TestBoardingCostEncodesZeroFrequencyAsSentinel(t *testing.T) {
	var freq [HoursPerWeek]float64
	freq[10] = 4 // 4 departures in hour 10

	costs, anyFinite, fallback := BoardingCost(freq, 1.0)
	if !anyFinite {
		t.Fatalf("anyFinite = false, want true (hour 10 has a nonzero frequency)")
	}
	want := 60.0 / 4.0 / 2.0
	if costs[10] != want {
		t.Fatalf("costs[10] = %v, want %v", costs[10], want)
	}
	if costs[0] != -1 {
		t.Fatalf("costs[0] = %v, want -1 sentinel (no boarding that hour)", costs[0])
	}
	if fallback != want {
		t.Fatalf("scalarFallback = %v, want %v (derived from the max-frequency hour)", fallback, want)
	}
}

func TestBoardingCostAllZeroFrequency(t *testing.T) {
	var freq [HoursPerWeek]float64
	costs, anyFinite, fallback := BoardingCost(freq, 1.0)
	if anyFinite {
		t.Fatalf("anyFinite = true, want false when no hour has any departures")
	}
	if fallback != 0 {
		t.Fatalf("scalarFallback = %v, want 0 when there is no servable hour", fallback)
	}
	for h, c := range costs {
		if c != -1 {
			t.Fatalf("costs[%d] = %v, want -1 sentinel", h, c)
		}
	}
}

func TestBoardingCostMultiplierScales(t *testing.T) {
	var freq [HoursPerWeek]float64
	freq[0] = 2
	costs, _, fallback := BoardingCost(freq, 2.0)
	want := 60.0 / 2.0 / 2.0 * 2.0
	if costs[0] != want {
		t.Fatalf("costs[0] with multiplier 2.0 = %v, want %v", costs[0], want)
	}
	if fallback != want {
		t.Fatalf("scalarFallback with multiplier 2.0 = %v, want %v", fallback, want)
	}
}
