// Command importer parses a GTFS ZIP feed and stages it in Postgres via
// internal/store, for operator inspection and re-ingestion ahead of
// cmd/build-graph. It never builds a routing graph itself — that is
// cmd/build-graph's job, running gtfsbuilder directly against the parsed
// feed in memory. Flag parsing and log-prefixed progress reporting follow
// the same conventions as the other cmd/ tools in this module.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hextransit/n-minute-city/internal/db"
	"github.com/hextransit/n-minute-city/internal/gtfs"
	"github.com/hextransit/n-minute-city/internal/store"
)

func main() {
	agencyID := flag.String("agency-id", "", "agency ID this GTFS feed belongs to (required)")
	gtfsPath := flag.String("gtfs", "", "path to a GTFS ZIP file (required)")
	flag.Parse()

	if *agencyID == "" || *gtfsPath == "" {
		fmt.Println("Usage: importer --agency-id=<id> --gtfs=<path.zip>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if _, err := os.Stat(*gtfsPath); os.IsNotExist(err) {
		log.Fatalf("GTFS file not found: %s", *gtfsPath)
	}

	log.Println("Starting GTFS staging import...")
	log.Printf("Agency ID: %s", *agencyID)
	log.Printf("GTFS file: %s", *gtfsPath)

	pool, err := db.GetDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	started := time.Now()

	feed, err := gtfs.ParseGTFSZip(*gtfsPath)
	run := store.ImportRun{AgencyID: *agencyID, StartedAt: started}
	s := store.New(pool)

	if err != nil {
		run.CompletedAt = time.Now()
		run.Status = "failed"
		run.ErrorMsg = err.Error()
		if logErr := s.RecordImportRun(ctx, run); logErr != nil {
			log.Printf("Warning: failed to record import run: %v", logErr)
		}
		log.Fatalf("Failed to parse GTFS feed: %v", err)
	}

	log.Printf("Parsed %d stops, %d routes, %d trips, %d stop_times, %d calendar entries",
		len(feed.Stops), len(feed.Routes), len(feed.Trips), len(feed.StopTimes), len(feed.Calendar))

	if err := s.StageFeed(ctx, *agencyID, feed); err != nil {
		run.CompletedAt = time.Now()
		run.Status = "failed"
		run.ErrorMsg = err.Error()
		if logErr := s.RecordImportRun(ctx, run); logErr != nil {
			log.Printf("Warning: failed to record import run: %v", logErr)
		}
		log.Fatalf("Failed to stage GTFS feed: %v", err)
	}

	run.CompletedAt = time.Now()
	run.Status = "success"
	run.StopsCount = len(feed.Stops)
	run.RoutesCount = len(feed.Routes)
	if err := s.RecordImportRun(ctx, run); err != nil {
		log.Printf("Warning: failed to record import run: %v", err)
	}

	log.Printf("Staging completed in %s", run.CompletedAt.Sub(run.StartedAt))
	log.Println("Import completed successfully! Run cmd/build-graph to assemble the routing graph.")
}
