package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcdev12/touchline/go/internal/models"
	"github.com/rs/zerolog/log"
)

const snapshotWriteTimeout = 5 * time.Second

// snapshotWriter persists snapshots one at a time in the order they were queued.
type snapshotWriter struct {
	store   TimerStore
	metrics MetricsCollector

	mu     sync.Mutex
	closed bool
	queue  chan snapshotJob
	done   chan struct{}
}

// snapshotJob is a queued write. written, when set, is closed once the job is finished
// with, whether it was saved, failed or dropped.
type snapshotJob struct {
	state   models.TimerState
	written chan struct{}
}

func (j snapshotJob) finish() {
	if j.written != nil {
		close(j.written)
	}
}

func newSnapshotWriter(store TimerStore, metrics MetricsCollector, size int) *snapshotWriter {
	return &snapshotWriter{
		store:   store,
		metrics: metrics,
		queue:   make(chan snapshotJob, size),
		done:    make(chan struct{}),
	}
}

// enqueue never blocks. A full queue drops the snapshot; the next one supersedes it.
// written may be nil.
func (w *snapshotWriter) enqueue(state models.TimerState, written chan struct{}) bool {
	job := snapshotJob{state: state, written: written}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		log.Warn().Str("match_id", state.MatchID).Msg("snapshot writer closed, dropping snapshot")
		w.metrics.RecordSnapshotDropped()
		job.finish()
		return false
	}

	select {
	case w.queue <- job:
		return true
	default:
		log.Warn().
			Str("match_id", state.MatchID).
			Int("elapsed_seconds", state.ElapsedSeconds).
			Int("queue_size", cap(w.queue)).
			Msg("snapshot queue full, dropping snapshot")
		w.metrics.RecordSnapshotDropped()
		job.finish()
		return false
	}
}

func (w *snapshotWriter) run(ctx context.Context) {
	defer close(w.done)

	for job := range w.queue {
		w.write(ctx, job.state)
		job.finish()
	}
}

func (w *snapshotWriter) write(ctx context.Context, state models.TimerState) {
	writeCtx, cancel := context.WithTimeout(ctx, snapshotWriteTimeout)
	defer cancel()

	start := time.Now()
	err := w.store.SaveTimerState(writeCtx, state)
	w.metrics.RecordSnapshotWrite(err == nil, time.Since(start))

	if err != nil {
		log.Error().
			Err(err).
			Str("match_id", state.MatchID).
			Int("elapsed_seconds", state.ElapsedSeconds).
			Msg("failed to write timer snapshot")
		return
	}
	log.Debug().
		Str("match_id", state.MatchID).
		Int("elapsed_seconds", state.ElapsedSeconds).
		Bool("is_running", state.IsRunning).
		Msg("timer snapshot written")
}

// close stops accepting snapshots and waits for queued ones to be written.
func (w *snapshotWriter) close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out draining snapshot writer (%d pending): %w", len(w.queue), ctx.Err())
	}
}
