package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/touchline/go/internal/matchclock/events"
	"github.com/mcdev12/touchline/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Status is the engine's state machine position
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusRunning Status = "RUNNING"
	StatusPaused  Status = "PAUSED"
)

const (
	tickInterval = time.Second

	// DefaultSnapshotEvery is how many ticks pass between periodic snapshot requests.
	DefaultSnapshotEvery = 5

	// DefaultEventBuffer is the outbound event channel capacity.
	DefaultEventBuffer = 256

	commandBufferSize = 16
)

// ErrEngineClosed is returned by Send once Close has been called.
var ErrEngineClosed = errors.New("clock engine closed")

// Option configures an Engine
type Option func(*Engine)

// WithSnapshotEvery overrides the periodic snapshot cadence.
func WithSnapshotEvery(ticks int) Option {
	return func(e *Engine) {
		if ticks > 0 {
			e.snapshotEvery = ticks
		}
	}
}

// WithEventBuffer overrides the outbound event channel capacity.
func WithEventBuffer(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.eventCh = make(chan events.Event, size)
		}
	}
}

// Engine is the match clock. It owns its state privately inside Run and talks to the
// outside only through the command and event channels.
type Engine struct {
	clock         clockwork.Clock
	snapshotEvery int

	commandCh chan events.Command
	eventCh   chan events.Event

	closeMu sync.RWMutex
	closed  bool

	// Everything below is touched only by the Run goroutine.
	status             Status
	state              models.TimerState
	runID              string
	halfTimeReached    bool
	ticksSinceSnapshot int
	ticker             clockwork.Ticker
}

// New creates an idle engine. Call Run in its own goroutine to start processing commands.
func New(clock clockwork.Clock, opts ...Option) *Engine {
	e := &Engine{
		clock:         clock,
		snapshotEvery: DefaultSnapshotEvery,
		commandCh:     make(chan events.Command, commandBufferSize),
		eventCh:       make(chan events.Event, DefaultEventBuffer),
		status:        StatusIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns the outbound event stream. It is closed when Run returns.
func (e *Engine) Events() <-chan events.Event {
	return e.eventCh
}

// Send enqueues a command. Commands are processed in the order they are sent.
func (e *Engine) Send(ctx context.Context, cmd events.Command) error {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()

	if e.closed {
		return ErrEngineClosed
	}

	select {
	case e.commandCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting commands. Commands already queued are still processed, after
// which Run returns and the event channel is closed.
func (e *Engine) Close() {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	close(e.commandCh)
}

// Run processes commands and ticks until the command channel is closed or ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	log.Debug().Int("snapshot_every", e.snapshotEvery).Msg("clock engine started")

	defer close(e.eventCh)
	defer e.stopTicker()

	for {
		var tickCh <-chan time.Time
		if e.ticker != nil {
			tickCh = e.ticker.Chan()
		}

		select {
		case <-ctx.Done():
			log.Debug().Str("match_id", e.state.MatchID).Msg("clock engine context cancelled")
			return nil
		case cmd, ok := <-e.commandCh:
			if !ok {
				log.Debug().Str("match_id", e.state.MatchID).Msg("clock engine command channel closed")
				return nil
			}
			e.handleCommand(ctx, cmd)
		case <-tickCh:
			e.tick(ctx)
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd events.Command) {
	switch cmd.Type {
	case events.CommandStart:
		e.handleStart(ctx, cmd)
	case events.CommandPause:
		e.handlePause(ctx, cmd)
	case events.CommandResume:
		e.handleResume(ctx, cmd)
	case events.CommandSetMinute:
		e.handleSetMinute(ctx, cmd)
	case events.CommandStop:
		e.handleStop(ctx, cmd)
	default:
		e.emitError(ctx, cmd.Type, fmt.Errorf("unrecognized command %q", cmd.Type))
	}
}

func (e *Engine) handleStart(ctx context.Context, cmd events.Command) {
	if e.status != StatusIdle {
		e.emitError(ctx, cmd.Type, fmt.Errorf("cannot START while %s", e.status))
		return
	}

	p, err := events.ParseStartPayload(cmd)
	if err != nil {
		e.emitError(ctx, cmd.Type, err)
		return
	}

	elapsed := p.InitialElapsedSeconds
	if elapsed == 0 && p.InitialMinute > 0 {
		elapsed = p.InitialMinute * 60
	}

	now := e.clock.Now()
	e.state = models.TimerState{
		MatchID:   p.MatchID,
		StartedAt: &now,
		IsRunning: true,
		UpdatedAt: now,
	}
	e.state.SetElapsed(elapsed)
	e.runID = p.RunID
	// Starting inside the window is not a crossing.
	e.halfTimeReached = e.state.IsHalfTime
	e.ticksSinceSnapshot = 0
	e.status = StatusRunning
	e.startTicker()

	log.Debug().
		Str("match_id", p.MatchID).
		Str("run_id", p.RunID).
		Int("elapsed_seconds", elapsed).
		Msg("clock engine running")

	e.emitPersist(ctx)
}

func (e *Engine) handlePause(ctx context.Context, cmd events.Command) {
	if e.status != StatusRunning {
		e.emitError(ctx, cmd.Type, fmt.Errorf("cannot PAUSE while %s", e.status))
		return
	}

	e.stopTicker()
	now := e.clock.Now()
	e.state.IsRunning = false
	e.state.PausedAt = &now
	e.state.UpdatedAt = now
	e.status = StatusPaused

	e.emitPersist(ctx)
}

func (e *Engine) handleResume(ctx context.Context, cmd events.Command) {
	if e.status != StatusPaused {
		e.emitError(ctx, cmd.Type, fmt.Errorf("cannot RESUME while %s", e.status))
		return
	}

	now := e.clock.Now()
	e.state.PausedAt = nil
	e.state.StartedAt = &now
	e.state.IsRunning = true
	e.state.UpdatedAt = now
	e.ticksSinceSnapshot = 0
	e.status = StatusRunning
	e.startTicker()
	// Resume does not force a snapshot; the next periodic one covers it.
}

func (e *Engine) handleSetMinute(ctx context.Context, cmd events.Command) {
	if e.status == StatusIdle {
		e.emitError(ctx, cmd.Type, fmt.Errorf("cannot SET_MINUTE while %s", e.status))
		return
	}

	minute, err := events.ParseSetMinutePayload(cmd)
	if err != nil {
		e.emitError(ctx, cmd.Type, err)
		return
	}

	e.state.SetElapsed(minute * 60)
	e.state.UpdatedAt = e.clock.Now()
	crossed := e.observeHalfTime()

	e.emitPersist(ctx)
	e.emitTick(ctx)
	if crossed {
		e.emitHalfTime(ctx)
	}
}

func (e *Engine) handleStop(ctx context.Context, cmd events.Command) {
	if e.status == StatusIdle {
		e.emitError(ctx, cmd.Type, fmt.Errorf("cannot STOP while %s", e.status))
		return
	}

	e.stopTicker()
	e.state.IsRunning = false
	e.state.UpdatedAt = e.clock.Now()

	e.emit(ctx, events.EventTypePersist, events.PersistPayload{State: e.state.Clone(), Final: true})

	log.Debug().
		Str("match_id", e.state.MatchID).
		Int("elapsed_seconds", e.state.ElapsedSeconds).
		Msg("clock engine stopped")

	e.state = models.TimerState{}
	e.runID = ""
	e.halfTimeReached = false
	e.ticksSinceSnapshot = 0
	e.status = StatusIdle
}

// tick advances the clock by one second.
func (e *Engine) tick(ctx context.Context) {
	if e.status != StatusRunning {
		return
	}

	e.state.SetElapsed(e.state.ElapsedSeconds + 1)
	e.state.UpdatedAt = e.clock.Now()
	crossed := e.observeHalfTime()

	e.emitTick(ctx)
	if crossed {
		e.emitHalfTime(ctx)
	}

	e.ticksSinceSnapshot++
	if e.ticksSinceSnapshot >= e.snapshotEvery {
		e.ticksSinceSnapshot = 0
		e.emitPersist(ctx)
	}
}

// observeHalfTime records the current half-time membership and reports a false->true edge.
func (e *Engine) observeHalfTime() bool {
	was := e.halfTimeReached
	e.halfTimeReached = e.state.IsHalfTime
	return !was && e.state.IsHalfTime
}

func (e *Engine) startTicker() {
	e.stopTicker()
	e.ticker = e.clock.NewTicker(tickInterval)
}

func (e *Engine) stopTicker() {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}

func (e *Engine) emitTick(ctx context.Context) {
	e.emit(ctx, events.EventTypeTick, events.TickPayload{
		CurrentMinute:  events.IntPtr(e.state.CurrentMinute),
		ElapsedSeconds: events.IntPtr(e.state.ElapsedSeconds),
		IsHalfTime:     events.BoolPtr(e.state.IsHalfTime),
	})
}

func (e *Engine) emitPersist(ctx context.Context) {
	e.emit(ctx, events.EventTypePersist, events.PersistPayload{State: e.state.Clone()})
}

func (e *Engine) emitHalfTime(ctx context.Context) {
	e.emit(ctx, events.EventTypeHalfTime, events.HalfTimePayload{CurrentMinute: e.state.CurrentMinute})
}

func (e *Engine) emitError(ctx context.Context, cmdType events.CommandType, err error) {
	log.Debug().
		Err(err).
		Str("command", string(cmdType)).
		Str("status", string(e.status)).
		Msg("clock engine rejected command")

	e.emit(ctx, events.EventTypeError, events.ErrorPayload{Error: err.Error(), Command: cmdType})
}

func (e *Engine) emit(ctx context.Context, t events.EventType, payload any) {
	ev, err := events.NewEvent(t, e.state.MatchID, e.runID, e.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build engine event")
		return
	}

	select {
	case e.eventCh <- ev:
	case <-ctx.Done():
	}
}
