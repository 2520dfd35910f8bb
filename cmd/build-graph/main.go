// Command build-graph assembles a frozen GraphStore from an OSM PBF
// extract and zero or more GTFS feeds, then writes it as a msgpack+Brotli
// snapshot for cmd/server to load. Unlike the original rebuild-graph tool,
// which rebuilt a Postgres-resident graph from staged rows, this tool
// never touches Postgres: it runs osmbuilder and gtfsbuilder directly
// against file inputs and ingests their output straight into a GraphStore.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/hextransit/n-minute-city/internal/config"
	"github.com/hextransit/n-minute-city/internal/gtfs"
	"github.com/hextransit/n-minute-city/internal/gtfsbuilder"
	"github.com/hextransit/n-minute-city/internal/graphstore"
	"github.com/hextransit/n-minute-city/internal/h3cell"
	"github.com/hextransit/n-minute-city/internal/osmbuilder"
)

func main() {
	osmPath := flag.String("osm", "", "path to an OSM PBF extract (required)")
	gtfsPaths := flag.String("gtfs", "", "comma-separated GTFS ZIP paths (optional)")
	out := flag.String("out", "graph.mpk.br", "output path for the msgpack+Brotli snapshot")
	mapName := flag.String("map-name", "city", "map_name field written to the snapshot")
	version := flag.String("version", time.Now().UTC().Format("20060102T150405Z"), "version field written to the snapshot")
	flag.Parse()

	if *osmPath == "" {
		fmt.Println("Usage: build-graph --osm=<extract.osm.pbf> [--gtfs=<feed1.zip,feed2.zip>] [--out=graph.mpk.br]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := config.LoadEngineConfigFromEnv()
	ctx := context.Background()

	log.Println("🔄 n-minute-city graph build")
	log.Println("=============================")

	g := graphstore.New()

	log.Printf("Step 1: parsing OSM extract %s (layers=%s)...", *osmPath, cfg.Layers)
	osmFile, err := os.Open(*osmPath)
	if err != nil {
		log.Fatalf("❌ Failed to open OSM extract: %v", err)
	}
	osmResult, err := osmbuilder.Build(ctx, osmFile, osmbuilder.Options{
		WalkSpeed:   cfg.WalkSpeed,
		BikeSpeed:   cfg.BikeSpeed,
		BikePenalty: cfg.BikePenalty,
		Layers:      cfg.Layers,
	})
	osmFile.Close()
	if err != nil {
		log.Fatalf("❌ OSM build failed: %v", err)
	}
	log.Printf("✓ OSM pass produced %d edges", len(osmResult.Edges))

	if err := g.IngestOSM(osmResult); err != nil {
		log.Fatalf("❌ Failed to ingest OSM edges: %v", err)
	}
	log.Printf("✓ Graph has %d nodes after OSM ingestion", g.NodeCount())

	if *gtfsPaths != "" && wantsTransit(cfg.Layers) {
		offset := 0
		for _, path := range strings.Split(*gtfsPaths, ",") {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			log.Printf("Step 2: parsing GTFS feed %s (route_index_offset=%d)...", path, offset)
			feed, err := gtfs.ParseGTFSZip(path)
			if err != nil {
				log.Fatalf("❌ GTFS parse failed for %s: %v", path, err)
			}

			gtfsResult, err := gtfsbuilder.Build(feed, stopResolver(feed), calendarLookup(feed), gtfsbuilder.Options{
				RouteIndexOffset:   offset,
				WaitTimeMultiplier: cfg.WaitTimeMultiplier,
			})
			if err != nil {
				log.Fatalf("❌ GTFS build failed for %s: %v", path, err)
			}
			log.Printf("✓ GTFS pass produced %d ride edges, %d stop-frequency rows", len(gtfsResult.RideEdges), len(gtfsResult.Frequencies))

			if err := g.IngestGTFS(gtfsResult, cfg.WaitTimeMultiplier); err != nil {
				log.Fatalf("❌ Failed to ingest GTFS edges: %v", err)
			}

			offset += len(gtfsResult.RouteIndex)
		}
		log.Printf("✓ Graph has %d nodes after GTFS ingestion", g.NodeCount())
	} else {
		log.Println("Step 2: skipping GTFS ingestion (no --gtfs given, or layers excludes transit)")
	}

	log.Printf("node_hash = %x", g.NodeHash())

	outFile, err := os.Create(*out)
	if err != nil {
		log.Fatalf("❌ Failed to create snapshot file %s: %v", *out, err)
	}
	defer outFile.Close()

	if err := g.WriteSnapshot(outFile, *mapName, *version); err != nil {
		log.Fatalf("❌ Failed to write snapshot: %v", err)
	}

	log.Printf("✅ Graph snapshot written to %s", *out)
}

func wantsTransit(layers string) bool {
	return layers == "all" || layers == "walk+transit" || layers == ""
}

// stopResolver resolves a GTFS stop_id to its H3 cell at the engine's
// fixed resolution, backed by a map built once from feed.Stops.
func stopResolver(feed *gtfs.GTFSFeed) gtfsbuilder.StopResolver {
	cells := make(map[string]h3cell.Cell, len(feed.Stops))
	for _, s := range feed.Stops {
		c, err := h3cell.FromLatLng(s.Lat, s.Lon)
		if err != nil {
			log.Printf("Warning: failed to index stop %s (%f, %f): %v", s.StopID, s.Lat, s.Lon, err)
			continue
		}
		cells[s.StopID] = c
	}
	return func(stopID string) (h3cell.Cell, bool) {
		c, ok := cells[stopID]
		return c, ok
	}
}

func calendarLookup(feed *gtfs.GTFSFeed) gtfsbuilder.CalendarLookup {
	byService := make(map[string]gtfsbuilder.DayColumns, len(feed.Calendar))
	for _, c := range feed.Calendar {
		byService[c.ServiceID] = gtfsbuilder.DayColumns{
			Monday:    c.Monday,
			Tuesday:   c.Tuesday,
			Wednesday: c.Wednesday,
			Thursday:  c.Thursday,
			Friday:    c.Friday,
			Saturday:  c.Saturday,
			Sunday:    c.Sunday,
		}
	}
	return func(serviceID string) (gtfsbuilder.DayColumns, bool) {
		d, ok := byService[serviceID]
		return d, ok
	}
}
