// Package store persists a parsed GTFS feed to Postgres for staging and
// auditing ahead of graph assembly. It is optional: cmd/build-graph never
// touches it, running gtfsbuilder directly against a gtfs.GTFSFeed in
// memory. The batch-insert shape (pgx.Batch, chunked SendBatch, ON
// CONFLICT upsert) generalizes the original (stop,route) node-building
// approach to plain GTFS staging tables (stop/route/trip/stop_time/
// calendar) keyed by (agency_id, natural GTFS id).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hextransit/n-minute-city/internal/gtfs"
	"github.com/hextransit/n-minute-city/internal/models"
)

// batchSize caps how many rows accumulate in a single pgx.Batch before a
// round trip, mirroring internal/graph/builder.go's batchSize constant.
const batchSize = 1000

// Store wraps a Postgres connection pool with the GTFS staging operations.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// StageFeed persists every entity of feed under agencyID, upserting on the
// natural GTFS key so re-running an import is idempotent. stop_times is
// chunked into its own transactions since a large feed's row count can
// exceed what a single transaction should hold open.
func (s *Store) StageFeed(ctx context.Context, agencyID string, feed *gtfs.GTFSFeed) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin staging transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := stageAgencies(ctx, tx, agencyID, feed.Agencies); err != nil {
		return err
	}
	if err := stageStops(ctx, tx, agencyID, feed.Stops); err != nil {
		return err
	}
	if err := stageRoutes(ctx, tx, agencyID, feed.Routes); err != nil {
		return err
	}
	if err := stageTrips(ctx, tx, agencyID, feed.Trips); err != nil {
		return err
	}
	if err := stageCalendar(ctx, tx, agencyID, feed.Calendar); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit staging transaction: %w", err)
	}

	if err := s.stageStopTimesChunked(ctx, agencyID, feed.StopTimes); err != nil {
		return fmt.Errorf("store: stage stop_times: %w", err)
	}
	return nil
}

func stageAgencies(ctx context.Context, tx pgx.Tx, agencyID string, agencies []models.GTFSAgency) error {
	if len(agencies) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range agencies {
		batch.Queue(`
			INSERT INTO gtfs_agency (agency_id, staged_by, name, url, timezone)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (staged_by, agency_id) DO UPDATE
			SET name = EXCLUDED.name, url = EXCLUDED.url, timezone = EXCLUDED.timezone
		`, a.AgencyID, agencyID, a.AgencyName, a.AgencyURL, a.Timezone)
	}
	return execBatch(ctx, tx, batch, "agency")
}

func stageStops(ctx context.Context, tx pgx.Tx, agencyID string, stops []models.GTFSStop) error {
	if len(stops) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, st := range stops {
		batch.Queue(`
			INSERT INTO gtfs_stop (stop_id, staged_by, name, lat, lon)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (staged_by, stop_id) DO UPDATE
			SET name = EXCLUDED.name, lat = EXCLUDED.lat, lon = EXCLUDED.lon
		`, st.StopID, agencyID, st.StopName, st.Lat, st.Lon)
	}
	return execBatch(ctx, tx, batch, "stop")
}

func stageRoutes(ctx context.Context, tx pgx.Tx, agencyID string, routes []models.GTFSRoute) error {
	if len(routes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range routes {
		batch.Queue(`
			INSERT INTO gtfs_route (route_id, staged_by, agency_id, short_name, long_name, route_type, route_color)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (staged_by, route_id) DO UPDATE
			SET agency_id = EXCLUDED.agency_id, short_name = EXCLUDED.short_name,
			    long_name = EXCLUDED.long_name, route_type = EXCLUDED.route_type,
			    route_color = EXCLUDED.route_color
		`, r.RouteID, agencyID, r.AgencyID, r.ShortName, r.LongName, r.RouteType, r.RouteColor)
	}
	return execBatch(ctx, tx, batch, "route")
}

func stageTrips(ctx context.Context, tx pgx.Tx, agencyID string, trips []models.GTFSTrip) error {
	if len(trips) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	count := 0
	for _, t := range trips {
		batch.Queue(`
			INSERT INTO gtfs_trip (trip_id, staged_by, route_id, service_id, headsign, direction)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (staged_by, trip_id) DO UPDATE
			SET route_id = EXCLUDED.route_id, service_id = EXCLUDED.service_id,
			    headsign = EXCLUDED.headsign, direction = EXCLUDED.direction
		`, t.TripID, agencyID, t.RouteID, t.ServiceID, t.Headsign, t.Direction)
		count++
		if batch.Len() >= batchSize {
			if err := execBatch(ctx, tx, batch, "trip"); err != nil {
				return err
			}
			batch = &pgx.Batch{}
		}
	}
	return execBatch(ctx, tx, batch, "trip")
}

func stageCalendar(ctx context.Context, tx pgx.Tx, agencyID string, calendar []models.GTFSCalendar) error {
	if len(calendar) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range calendar {
		batch.Queue(`
			INSERT INTO gtfs_calendar (service_id, staged_by, monday, tuesday, wednesday, thursday, friday, saturday, sunday)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (staged_by, service_id) DO UPDATE
			SET monday = EXCLUDED.monday, tuesday = EXCLUDED.tuesday,
			    wednesday = EXCLUDED.wednesday, thursday = EXCLUDED.thursday,
			    friday = EXCLUDED.friday, saturday = EXCLUDED.saturday, sunday = EXCLUDED.sunday
		`, c.ServiceID, agencyID, c.Monday, c.Tuesday, c.Wednesday, c.Thursday, c.Friday, c.Saturday, c.Sunday)
	}
	return execBatch(ctx, tx, batch, "calendar")
}

func (s *Store) stageStopTimesChunked(ctx context.Context, agencyID string, stopTimes []models.GTFSStopTime) error {
	if len(stopTimes) == 0 {
		return nil
	}
	const chunkSize = 50000
	for start := 0; start < len(stopTimes); start += chunkSize {
		end := start + chunkSize
		if end > len(stopTimes) {
			end = len(stopTimes)
		}
		chunk := stopTimes[start:end]

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin chunk at offset %d: %w", start, err)
		}

		batch := &pgx.Batch{}
		for _, st := range chunk {
			batch.Queue(`
				INSERT INTO gtfs_stop_time (trip_id, staged_by, stop_id, stop_sequence, arrival_time, departure_time)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (staged_by, trip_id, stop_sequence) DO UPDATE
				SET stop_id = EXCLUDED.stop_id, arrival_time = EXCLUDED.arrival_time,
				    departure_time = EXCLUDED.departure_time
			`, st.TripID, agencyID, st.StopID, st.StopSequence, st.ArrivalTime, st.DepartureTime)
			if batch.Len() >= batchSize {
				if err := execBatch(ctx, tx, batch, "stop_time"); err != nil {
					tx.Rollback(ctx)
					return err
				}
				batch = &pgx.Batch{}
			}
		}
		if err := execBatch(ctx, tx, batch, "stop_time"); err != nil {
			tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit chunk at offset %d: %w", start, err)
		}
	}
	return nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, what string) error {
	if batch.Len() == 0 {
		return nil
	}
	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("store: insert %s row %d: %w", what, i, err)
		}
	}
	return nil
}

// ImportRun records the outcome of one StageFeed call for operator
// visibility: one row per import attempt, success or failure.
type ImportRun struct {
	AgencyID    string
	StartedAt   time.Time
	CompletedAt time.Time
	Status      string
	StopsCount  int
	RoutesCount int
	ErrorMsg    string
}

// RecordImportRun inserts a completed ImportRun as a single row, since
// this package only ever records a run after it has finished.
func (s *Store) RecordImportRun(ctx context.Context, run ImportRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gtfs_import_run (agency_id, started_at, completed_at, status, stops_count, routes_count, error_msg)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, run.AgencyID, run.StartedAt, run.CompletedAt, run.Status, run.StopsCount, run.RoutesCount, run.ErrorMsg)
	if err != nil {
		return fmt.Errorf("store: record import run: %w", err)
	}
	return nil
}
