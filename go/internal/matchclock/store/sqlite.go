package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/touchline/go/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps snapshots in a local SQLite file in WAL mode, for running the clock
// without a database server.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and initializes the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	database.SetMaxOpenConns(4)
	database.SetMaxIdleConns(2)
	database.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: database}
	if err := s.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS match_timers (
		match_id        TEXT PRIMARY KEY,
		current_minute  INTEGER NOT NULL DEFAULT 0,
		elapsed_seconds INTEGER NOT NULL DEFAULT 0,
		is_running      INTEGER NOT NULL DEFAULT 0,
		is_half_time    INTEGER NOT NULL DEFAULT 0,
		started_at      TEXT,
		paused_at       TEXT,
		updated_at      TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) GetTimerState(ctx context.Context, matchID string) (*models.TimerState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT match_id, current_minute, elapsed_seconds, is_running, is_half_time,
		        started_at, paused_at, updated_at
		 FROM match_timers WHERE match_id = ?`, matchID)

	var (
		st                  models.TimerState
		startedAt, pausedAt sql.NullString
		updatedAt           string
	)
	err := row.Scan(&st.MatchID, &st.CurrentMinute, &st.ElapsedSeconds, &st.IsRunning, &st.IsHalfTime,
		&startedAt, &pausedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get match timer: %w", err)
	}

	if st.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if st.PausedAt, err = parseNullTime(pausedAt); err != nil {
		return nil, fmt.Errorf("parse paused_at: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &st, nil
}

// SaveTimerState upserts the snapshot. Idempotent via ON CONFLICT.
func (s *SQLiteStore) SaveTimerState(ctx context.Context, state models.TimerState) error {
	if err := validate(state); err != nil {
		return err
	}

	return retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO match_timers
			   (match_id, current_minute, elapsed_seconds, is_running, is_half_time, started_at, paused_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(match_id) DO UPDATE SET
			   current_minute = excluded.current_minute,
			   elapsed_seconds = excluded.elapsed_seconds,
			   is_running = excluded.is_running,
			   is_half_time = excluded.is_half_time,
			   started_at = excluded.started_at,
			   paused_at = excluded.paused_at,
			   updated_at = excluded.updated_at`,
			state.MatchID, state.CurrentMinute, state.ElapsedSeconds, state.IsRunning, state.IsHalfTime,
			formatNullTime(state.StartedAt), formatNullTime(state.PausedAt),
			state.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

func (s *SQLiteStore) DeleteTimerState(ctx context.Context, matchID string) error {
	return retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM match_timers WHERE match_id = ?`, matchID)
		return err
	})
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
