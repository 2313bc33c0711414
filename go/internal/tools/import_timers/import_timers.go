package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/touchline/go/internal/dbconfig"
	"github.com/mcdev12/touchline/go/internal/models"
)

// Only newer snapshots replace a stored row.
const upsertTimer = `
INSERT INTO match_timers (
  match_id, current_minute, elapsed_seconds, is_running, is_half_time,
  started_at, paused_at, snapshot, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (match_id) DO UPDATE SET
  current_minute = EXCLUDED.current_minute,
  elapsed_seconds = EXCLUDED.elapsed_seconds,
  is_running = EXCLUDED.is_running,
  is_half_time = EXCLUDED.is_half_time,
  started_at = EXCLUDED.started_at,
  paused_at = EXCLUDED.paused_at,
  snapshot = EXCLUDED.snapshot,
  updated_at = EXCLUDED.updated_at
WHERE match_timers.updated_at < EXCLUDED.updated_at
`

func main() {
	path := flag.String("file", "go/internal/assets/timers.json", "JSON array of exported timer snapshots")
	flag.Parse()

	// 1) Load the exported snapshots
	snapshots, rejected, err := loadSnapshots(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load snapshots: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert in one batch and count
	batch := &pgx.Batch{}
	for _, s := range snapshots {
		raw, err := json.Marshal(s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal snapshot %s: %v\n", s.MatchID, err)
			os.Exit(1)
		}
		batch.Queue(upsertTimer,
			s.MatchID, s.CurrentMinute, s.ElapsedSeconds, s.IsRunning, s.IsHalfTime,
			s.StartedAt, s.PausedAt, raw, s.UpdatedAt,
		)
	}

	var (
		total    = len(snapshots) + rejected
		upserted int
		skipped  int
		errs     int
	)

	results := pool.SendBatch(ctx, batch)
	for _, s := range snapshots {
		tag, err := results.Exec()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error upserting timer %s: %v\n", s.MatchID, err)
			errs++
			continue
		}
		if tag.RowsAffected() == 1 {
			upserted++
		} else {
			skipped++
		}
	}
	if err := results.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close batch: %v\n", err)
		errs++
	}

	// 4) Print summary
	fmt.Printf(
		"Timer import complete: %d total, %d upserted, %d skipped (older), %d rejected, %d errors\n",
		total, upserted, skipped, rejected, errs,
	)
}

// loadSnapshots reads the export and drops records whose derived fields disagree with
// their elapsed seconds. It returns the number of dropped records.
func loadSnapshots(path string) ([]models.TimerState, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read JSON: %w", err)
	}
	var all []models.TimerState
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, 0, fmt.Errorf("unmarshal JSON: %w", err)
	}

	valid := make([]models.TimerState, 0, len(all))
	rejected := 0
	for _, s := range all {
		if !s.Valid() {
			fmt.Fprintf(os.Stderr, "skipping inconsistent snapshot for match %q\n", s.MatchID)
			rejected++
			continue
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = time.Now().UTC()
		}
		valid = append(valid, s)
	}
	return valid, rejected, nil
}
