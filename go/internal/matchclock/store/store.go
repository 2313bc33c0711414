package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/touchline/go/internal/models"
)

// Store is the persistent timer store. GetTimerState returns (nil, nil) when no snapshot
// exists for the match.
type Store interface {
	GetTimerState(ctx context.Context, matchID string) (*models.TimerState, error)
	SaveTimerState(ctx context.Context, state models.TimerState) error
	DeleteTimerState(ctx context.Context, matchID string) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*KVStore)(nil)
)

var ErrInvalidState = errors.New("invalid timer state")

func validate(state models.TimerState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: match=%q minute=%d elapsed=%d half_time=%v",
			ErrInvalidState, state.MatchID, state.CurrentMinute, state.ElapsedSeconds, state.IsHalfTime)
	}
	return nil
}
