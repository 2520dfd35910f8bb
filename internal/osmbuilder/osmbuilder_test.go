package osmbuilder

import (
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"

	"github.com/hextransit/n-minute-city/internal/cellkey"
)

func TestTagValueMatches(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		layer    Layer
		expected bool
	}{
		{name: "highway motorway rejected on walk", key: "highway", value: "motorway", layer: LayerWalking, expected: false},
		{name: "highway motorway_link rejected on walk", key: "highway", value: "motorway_link", layer: LayerWalking, expected: false},
		{name: "highway trunk rejected on walk", key: "highway", value: "trunk", layer: LayerWalking, expected: false},
		{name: "highway trunk_link rejected on walk", key: "highway", value: "trunk_link", layer: LayerWalking, expected: false},
		{name: "highway construction rejected on walk", key: "highway", value: "construction", layer: LayerWalking, expected: false},
		{name: "highway prohibited rejected on walk", key: "highway", value: "prohibited", layer: LayerWalking, expected: false},
		{name: "highway residential accepted on walk", key: "highway", value: "residential", layer: LayerWalking, expected: true},
		{name: "access private rejected on walk", key: "access", value: "private", layer: LayerWalking, expected: false},
		{name: "access no rejected on cycle", key: "access", value: "no", layer: LayerCycling, expected: false},
		{name: "access yes accepted on walk", key: "access", value: "yes", layer: LayerWalking, expected: true},
		{name: "foot private rejects walk", key: "foot", value: "private", layer: LayerWalking, expected: false},
		{name: "foot private does not gate cycle", key: "foot", value: "private", layer: LayerCycling, expected: true},
		{name: "bicycle private rejects cycle", key: "bicycle", value: "private", layer: LayerCycling, expected: false},
		{name: "bicycle no rejects cycle", key: "bicycle", value: "no", layer: LayerCycling, expected: false},
		{name: "bicycle none rejects cycle", key: "bicycle", value: "none", layer: LayerCycling, expected: false},
		{name: "bicycle private does not gate walk", key: "bicycle", value: "private", layer: LayerWalking, expected: true},
		{name: "cycleway shared rejects cycle", key: "cycleway", value: "shared", layer: LayerCycling, expected: false},
		{name: "cycleway lane accepted on cycle", key: "cycleway", value: "lane", layer: LayerCycling, expected: true},
		{name: "bicycle_road accepted on cycle", key: "bicycle_road", value: "yes", layer: LayerCycling, expected: true},
		{name: "bicycle_road rejected on walk", key: "bicycle_road", value: "yes", layer: LayerWalking, expected: false},
		{name: "unrecognized tag always passes", key: "surface", value: "paved", layer: LayerWalking, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tagValueMatches(tt.key, tt.value, tt.layer))
		})
	}
}

func TestWayEligibleRequiresHighwayTag(t *testing.T) {
	tags := osm.Tags{{Key: "surface", Value: "paved"}}
	if wayEligible(tags, LayerWalking) {
		t.Errorf("wayEligible without a highway tag = true, want false")
	}
}

func TestWayEligibleWalkingAcceptsPlainHighway(t *testing.T) {
	tags := osm.Tags{{Key: "highway", Value: "residential"}}
	if !wayEligible(tags, LayerWalking) {
		t.Errorf("wayEligible(residential, walk) = false, want true")
	}
}

func TestWayEligibleCyclingRequiresCycleHint(t *testing.T) {
	tags := osm.Tags{{Key: "highway", Value: "residential"}}
	if wayEligible(tags, LayerCycling) {
		t.Errorf("wayEligible(residential with no cycle hint, cycle) = true, want false")
	}

	tagsWithCycleway := osm.Tags{
		{Key: "highway", Value: "residential"},
		{Key: "cycleway", Value: "lane"},
	}
	if !wayEligible(tagsWithCycleway, LayerCycling) {
		t.Errorf("wayEligible(residential + cycleway=lane, cycle) = false, want true")
	}
}

func TestWayEligibleRejectsOnRejectedHighwayEvenWithCycleway(t *testing.T) {
	tags := osm.Tags{
		{Key: "highway", Value: "motorway"},
		{Key: "cycleway", Value: "lane"},
	}
	if wayEligible(tags, LayerCycling) {
		t.Errorf("wayEligible(motorway + cycleway=lane, cycle) = true, want false")
	}
}

func TestOptionsWantsLayer(t *testing.T) {
	all := Options{Layers: "all"}.withDefaults()
	if !all.wantsWalk() || !all.wantsBike() {
		t.Errorf("Layers=all should want both walk and bike")
	}

	walkOnly := Options{Layers: "walk"}.withDefaults()
	if !walkOnly.wantsWalk() || walkOnly.wantsBike() {
		t.Errorf("Layers=walk should want walk only")
	}
}

func TestTransferEdgeCarriesFromLayer(t *testing.T) {
	from := cellkey.New(1, 0)
	to := cellkey.New(1, cellkey.LayerWalk)
	e := transferEdge(from, to, 1.5)
	if e.Layer != from.Layer || e.Weight != 1.5 || e.From != from || e.To != to {
		t.Fatalf("transferEdge = %+v, want Layer=%v Weight=1.5 From=%+v To=%+v", e, from.Layer, from, to)
	}
}
