package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/touchline/go/internal/matchclock/store/db"
	"github.com/mcdev12/touchline/go/internal/models"
	"github.com/mcdev12/touchline/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

// Querier defines what the repository needs from the database layer
type Querier interface {
	GetMatchTimer(ctx context.Context, matchID string) (db.MatchTimer, error)
	UpsertMatchTimer(ctx context.Context, arg db.UpsertMatchTimerParams) (db.MatchTimer, error)
	DeleteMatchTimer(ctx context.Context, matchID string) error
}

// PostgresStore keeps one row per match in match_timers
type PostgresStore struct {
	queries  Querier
	database *sql.DB
}

// NewPostgresStore creates a store over an open lib/pq connection pool
func NewPostgresStore(database *sql.DB) *PostgresStore {
	return &PostgresStore{
		queries:  db.New(database),
		database: database,
	}
}

// NewPostgresStoreWithQuerier creates a store over an arbitrary query layer
func NewPostgresStoreWithQuerier(querier Querier) *PostgresStore {
	return &PostgresStore{queries: querier}
}

// GetTimerState retrieves the snapshot for a match
func (s *PostgresStore) GetTimerState(ctx context.Context, matchID string) (*models.TimerState, error) {
	row, err := s.queries.GetMatchTimer(ctx, matchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get match timer: %w", err)
	}

	return s.dbTimerToModel(row), nil
}

// SaveTimerState upserts the snapshot for state.MatchID
func (s *PostgresStore) SaveTimerState(ctx context.Context, state models.TimerState) error {
	if err := validate(state); err != nil {
		return err
	}

	params, err := s.stateToParams(state)
	if err != nil {
		return err
	}
	if _, err := s.queries.UpsertMatchTimer(ctx, params); err != nil {
		return fmt.Errorf("failed to upsert match timer: %w", err)
	}
	return nil
}

// DeleteTimerState removes the snapshot for a match
func (s *PostgresStore) DeleteTimerState(ctx context.Context, matchID string) error {
	if err := s.queries.DeleteMatchTimer(ctx, matchID); err != nil {
		return fmt.Errorf("failed to delete match timer: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.database == nil {
		return nil
	}
	return s.database.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	if s.database == nil {
		return nil
	}
	return s.database.Close()
}

// stateToParams converts a snapshot to sqlc params. The full record is also kept in the
// snapshot JSONB column.
func (s *PostgresStore) stateToParams(state models.TimerState) (db.UpsertMatchTimerParams, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return db.UpsertMatchTimerParams{}, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return db.UpsertMatchTimerParams{
		MatchID:        state.MatchID,
		CurrentMinute:  int32(state.CurrentMinute),
		ElapsedSeconds: int32(state.ElapsedSeconds),
		IsRunning:      state.IsRunning,
		IsHalfTime:     state.IsHalfTime,
		StartedAt:      sqlutil.ToSqlTime(state.StartedAt),
		PausedAt:       sqlutil.ToSqlTime(state.PausedAt),
		Snapshot:       pqtype.NullRawMessage{RawMessage: raw, Valid: true},
		UpdatedAt:      state.UpdatedAt,
	}, nil
}

// dbTimerToModel converts a row to the domain model. Columns are authoritative; the
// snapshot column is only consulted when they disagree with each other.
func (s *PostgresStore) dbTimerToModel(row db.MatchTimer) *models.TimerState {
	state := &models.TimerState{
		MatchID:        row.MatchID,
		CurrentMinute:  int(row.CurrentMinute),
		ElapsedSeconds: int(row.ElapsedSeconds),
		IsRunning:      row.IsRunning,
		IsHalfTime:     row.IsHalfTime,
		StartedAt:      sqlutil.FromSqlTime(row.StartedAt),
		PausedAt:       sqlutil.FromSqlTime(row.PausedAt),
		UpdatedAt:      row.UpdatedAt,
	}
	if state.Valid() || !row.Snapshot.Valid {
		return state
	}

	var snap models.TimerState
	if err := json.Unmarshal(row.Snapshot.RawMessage, &snap); err != nil || !snap.Valid() || snap.MatchID != row.MatchID {
		log.Warn().Str("match_id", row.MatchID).Msg("match timer row inconsistent and snapshot unusable")
		return state
	}
	return &snap
}
