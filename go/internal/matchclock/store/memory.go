package store

import (
	"context"
	"sync"

	"github.com/mcdev12/touchline/go/internal/models"
)

// MemoryStore keeps snapshots in process. Used for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]models.TimerState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]models.TimerState)}
}

func (s *MemoryStore) GetTimerState(ctx context.Context, matchID string) (*models.TimerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[matchID]
	if !ok {
		return nil, nil
	}
	st = st.Clone()
	return &st, nil
}

func (s *MemoryStore) SaveTimerState(ctx context.Context, state models.TimerState) error {
	if err := validate(state); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.MatchID] = state.Clone()
	return nil
}

func (s *MemoryStore) DeleteTimerState(ctx context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, matchID)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
