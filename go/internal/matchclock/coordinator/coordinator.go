package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/touchline/go/internal/matchclock/events"
	"github.com/mcdev12/touchline/go/internal/models"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotInitialized is returned by every public operation when no engine is running,
	// either because Init was never called or because Close already ran.
	ErrNotInitialized = errors.New("timer coordinator: engine not initialized")

	// ErrInvalidMinute is returned by SetMinute for negative minutes.
	ErrInvalidMinute = errors.New("timer coordinator: minute must be >= 0")
)

const (
	DefaultDriftThreshold  = 2 * time.Second
	DefaultWriterQueueSize = 64

	// DefaultStopFlushTimeout bounds how long a stop waits for its final snapshot.
	DefaultStopFlushTimeout = snapshotWriteTimeout + time.Second
)

// TimerStore is the durable snapshot store. GetTimerState returns (nil, nil) when no
// snapshot exists for matchID.
type TimerStore interface {
	GetTimerState(ctx context.Context, matchID string) (*models.TimerState, error)
	SaveTimerState(ctx context.Context, state models.TimerState) error
	DeleteTimerState(ctx context.Context, matchID string) error
}

// Engine is what the coordinator needs from a clock engine
type Engine interface {
	Run(ctx context.Context) error
	Send(ctx context.Context, cmd events.Command) error
	Events() <-chan events.Event
	Close()
}

// EngineFactory builds a fresh engine for Init
type EngineFactory func() Engine

// Observable is the locally observable clock state read by the UI layer.
type Observable struct {
	MatchID        string `json:"match_id,omitempty"`
	CurrentMinute  int    `json:"current_minute"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	IsRunning      bool   `json:"is_running"`
	IsHalfTime     bool   `json:"is_half_time"`
}

// HalfTimeHook is called once per half-time event of the active match.
type HalfTimeHook func(matchID string, minute int)

// activeMatch is the handle for the match whose engine spell is live.
type activeMatch struct {
	matchID string
	runID   string
}

// pendingStop is the stop waiting for its run's final snapshot to be written.
type pendingStop struct {
	runID   string
	flushed chan struct{}
}

// Option configures a Coordinator
type Option func(*Coordinator)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithMetrics(m MetricsCollector) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithDriftThreshold sets how stale a running snapshot must be before foreground
// regain issues a correction.
func WithDriftThreshold(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.driftThreshold = d
		}
	}
}

func WithWriterQueueSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.writerQueueSize = n
		}
	}
}

// WithStopFlushTimeout sets how long a stop waits for the final snapshot of the
// stopped run before giving up on it.
func WithStopFlushTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.stopFlushTimeout = d
		}
	}
}

// Coordinator is the facade the rest of the application uses to drive the match clock.
// It owns the engine, keeps the observable copy of the clock and persists snapshots.
type Coordinator struct {
	store            TimerStore
	newEngine        EngineFactory
	clock            clockwork.Clock
	metrics          MetricsCollector
	driftThreshold   time.Duration
	writerQueueSize  int
	stopFlushTimeout time.Duration

	// opMu serializes public operations. It is held across engine sends, so the event
	// loop must never take it.
	opMu      sync.Mutex
	engine    Engine
	writer    *snapshotWriter
	runCancel context.CancelFunc
	loopDone  chan struct{}

	// mu guards everything the event loop touches.
	mu          sync.RWMutex
	active      *activeMatch
	pendingStop *pendingStop
	obs         Observable
	subs        map[int]chan Observable
	nextSubID   int
	hooks       []HalfTimeHook
}

// New creates a coordinator. Call Init before using it.
func New(store TimerStore, newEngine EngineFactory, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:            store,
		newEngine:        newEngine,
		clock:            clockwork.NewRealClock(),
		metrics:          &NoOpMetricsCollector{},
		driftThreshold:   DefaultDriftThreshold,
		writerQueueSize:  DefaultWriterQueueSize,
		stopFlushTimeout: DefaultStopFlushTimeout,
		subs:             make(map[int]chan Observable),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init creates the engine and starts the event loop and snapshot writer. ctx bounds the
// lifetime of both. Calling Init on an initialized coordinator is a no-op.
func (c *Coordinator) Init(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.engine != nil {
		return nil
	}

	eng := c.newEngine()
	if eng == nil {
		return fmt.Errorf("engine factory returned nil")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.engine = eng
	c.runCancel = cancel
	c.writer = newSnapshotWriter(c.store, c.metrics, c.writerQueueSize)
	c.loopDone = make(chan struct{})

	go func() {
		if err := eng.Run(runCtx); err != nil {
			log.Error().Err(err).Msg("clock engine exited with error")
		}
	}()
	go c.writer.run(runCtx)
	go c.consume(runCtx, eng, c.writer, c.loopDone)

	log.Info().
		Dur("drift_threshold", c.driftThreshold).
		Int("writer_queue_size", c.writerQueueSize).
		Msg("timer coordinator initialized")
	return nil
}

// Initialized reports whether Init has run and Close has not.
func (c *Coordinator) Initialized() bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.engine != nil
}

// StartTimer makes matchID the active match, resuming from its last snapshot if there is one.
func (c *Coordinator) StartTimer(ctx context.Context, matchID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.engine == nil {
		return ErrNotInitialized
	}
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}

	if cur := c.activeHandle(); cur != nil {
		if cur.matchID == matchID {
			log.Info().Str("match_id", matchID).Msg("timer already active for match, ignoring start")
			return nil
		}
		log.Info().
			Str("match_id", cur.matchID).
			Str("next_match_id", matchID).
			Msg("stopping active match before starting another")
		if err := c.stopLocked(ctx); err != nil {
			return err
		}
	}

	initialMinute, initialElapsed := 0, 0
	prior, err := c.store.GetTimerState(ctx, matchID)
	switch {
	case err != nil:
		log.Error().Err(err).Str("match_id", matchID).Msg("failed to read timer snapshot, starting from zero")
	case prior == nil:
	case prior.MatchID != matchID || !prior.Valid():
		log.Warn().
			Str("match_id", matchID).
			Int("elapsed_seconds", prior.ElapsedSeconds).
			Int("current_minute", prior.CurrentMinute).
			Msg("ignoring inconsistent timer snapshot, starting from zero")
	default:
		initialMinute, initialElapsed = prior.CurrentMinute, prior.ElapsedSeconds
	}

	handle := &activeMatch{matchID: matchID, runID: uuid.NewString()}
	c.mu.Lock()
	c.active = handle
	c.setObservableLocked(Observable{
		MatchID:        matchID,
		CurrentMinute:  initialMinute,
		ElapsedSeconds: initialElapsed,
		IsRunning:      true,
		IsHalfTime:     models.IsHalfTimeMinute(initialMinute),
	})
	c.mu.Unlock()

	cmd := events.NewStartCommand(events.StartPayload{
		MatchID:               matchID,
		RunID:                 handle.runID,
		InitialMinute:         initialMinute,
		InitialElapsedSeconds: initialElapsed,
	})
	if err := c.engine.Send(ctx, cmd); err != nil {
		c.mu.Lock()
		c.active = nil
		c.setObservableLocked(Observable{})
		c.mu.Unlock()
		return fmt.Errorf("failed to send START: %w", err)
	}

	log.Info().
		Str("match_id", matchID).
		Str("run_id", handle.runID).
		Int("elapsed_seconds", initialElapsed).
		Msg("match timer started")
	return nil
}

// PauseTimer pauses the active match.
func (c *Coordinator) PauseTimer(ctx context.Context) error {
	return c.forward(ctx, events.NewPauseCommand(), func(o *Observable) { o.IsRunning = false })
}

// ResumeTimer resumes the active match.
func (c *Coordinator) ResumeTimer(ctx context.Context) error {
	return c.forward(ctx, events.NewResumeCommand(), func(o *Observable) { o.IsRunning = true })
}

// SetMinute corrects the active match clock to the start of minute.
func (c *Coordinator) SetMinute(ctx context.Context, minute int) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.engine == nil {
		return ErrNotInitialized
	}
	return c.setMinuteLocked(ctx, minute)
}

func (c *Coordinator) setMinuteLocked(ctx context.Context, minute int) error {
	if minute < 0 {
		log.Error().Int("minute", minute).Msg("rejected negative minute")
		return fmt.Errorf("%w: got %d", ErrInvalidMinute, minute)
	}
	return c.forwardLocked(ctx, events.NewSetMinuteCommand(minute), func(o *Observable) {
		o.CurrentMinute = minute
		o.ElapsedSeconds = minute * 60
		o.IsHalfTime = models.IsHalfTimeMinute(minute)
	})
}

// StopTimer stops the active match and resets the observable state. It returns once the
// final snapshot of the stopped run has been written, so a following StartTimer resumes
// from it. Stopping with no active match is a logged no-op.
func (c *Coordinator) StopTimer(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.engine == nil {
		return ErrNotInitialized
	}
	if c.activeHandle() == nil {
		log.Info().Msg("stop requested with no active match")
		return nil
	}
	return c.stopLocked(ctx)
}

func (c *Coordinator) stopLocked(ctx context.Context) error {
	c.mu.Lock()
	var stop *pendingStop
	if c.active != nil {
		stop = &pendingStop{runID: c.active.runID, flushed: make(chan struct{})}
		c.pendingStop = stop
	}
	c.mu.Unlock()

	if err := c.engine.Send(ctx, events.NewStopCommand()); err != nil {
		c.mu.Lock()
		c.pendingStop = nil
		c.mu.Unlock()
		return fmt.Errorf("failed to send STOP: %w", err)
	}

	c.mu.Lock()
	matchID := ""
	if c.active != nil {
		matchID = c.active.matchID
	}
	c.active = nil
	c.setObservableLocked(Observable{})
	c.mu.Unlock()

	if stop != nil {
		if err := c.awaitFinalSnapshot(ctx, matchID, stop); err != nil {
			return err
		}
	}

	log.Info().Str("match_id", matchID).Msg("match timer stopped")
	return nil
}

// awaitFinalSnapshot blocks until the writer is done with the stopped run's final
// snapshot, the engine rejects the STOP, or the flush timeout passes.
func (c *Coordinator) awaitFinalSnapshot(ctx context.Context, matchID string, stop *pendingStop) error {
	timer := time.NewTimer(c.stopFlushTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-stop.flushed:
		return nil
	case <-timer.C:
		log.Warn().
			Str("match_id", matchID).
			Str("run_id", stop.runID).
			Dur("timeout", c.stopFlushTimeout).
			Msg("final snapshot not written in time, continuing")
	case <-ctx.Done():
		err = fmt.Errorf("stopped %s before its final snapshot was written: %w", matchID, ctx.Err())
	}

	c.mu.Lock()
	if c.pendingStop == stop {
		c.pendingStop = nil
	}
	c.mu.Unlock()
	return err
}

// GetTimerState reads the stored snapshot for matchID. A nil state means none exists.
func (c *Coordinator) GetTimerState(ctx context.Context, matchID string) (*models.TimerState, error) {
	if !c.Initialized() {
		return nil, ErrNotInitialized
	}
	state, err := c.store.GetTimerState(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get timer state for %s: %w", matchID, err)
	}
	return state, nil
}

// ClearTimerState deletes the stored snapshot for matchID.
func (c *Coordinator) ClearTimerState(ctx context.Context, matchID string) error {
	if !c.Initialized() {
		return ErrNotInitialized
	}
	if err := c.store.DeleteTimerState(ctx, matchID); err != nil {
		return fmt.Errorf("failed to clear timer state for %s: %w", matchID, err)
	}
	log.Info().Str("match_id", matchID).Msg("timer state cleared")
	return nil
}

// HandleForegroundRegain resynchronizes the engine after the process was suspended or
// throttled, using the persisted snapshot of the active match.
func (c *Coordinator) HandleForegroundRegain(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.engine == nil {
		return ErrNotInitialized
	}
	cur := c.activeHandle()
	if cur == nil {
		return nil
	}

	snap, err := c.store.GetTimerState(ctx, cur.matchID)
	if err != nil {
		log.Error().Err(err).Str("match_id", cur.matchID).Msg("failed to read snapshot for drift check")
		return nil
	}
	if snap == nil {
		return nil
	}

	now := c.clock.Now()
	minute, drift, ok := driftCorrection(*snap, now, c.driftThreshold)
	if !ok {
		log.Debug().
			Str("match_id", cur.matchID).
			Dur("since_update", now.Sub(snap.UpdatedAt)).
			Bool("is_running", snap.IsRunning).
			Msg("no drift correction needed")
		return nil
	}

	log.Info().
		Str("match_id", cur.matchID).
		Int("drift_seconds", drift).
		Int("corrected_minute", minute).
		Msg("correcting clock drift")
	c.metrics.RecordDriftCorrection(drift)
	return c.setMinuteLocked(ctx, minute)
}

// Teardown forces the stop sequence for a running match so its final snapshot request
// is queued before the process goes away.
func (c *Coordinator) Teardown(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.engine == nil {
		return ErrNotInitialized
	}

	c.mu.RLock()
	running := c.active != nil && c.obs.IsRunning
	c.mu.RUnlock()
	if !running {
		return nil
	}

	log.Info().Msg("teardown: forcing stop of running match")
	return c.stopLocked(ctx)
}

// Close shuts the engine down after it has processed every queued command, then drains
// pending snapshot writes. ctx bounds the wait. Close on a closed coordinator is a no-op.
func (c *Coordinator) Close(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.engine == nil {
		return nil
	}

	eng, writer, loopDone, cancel := c.engine, c.writer, c.loopDone, c.runCancel
	c.engine, c.writer, c.loopDone, c.runCancel = nil, nil, nil, nil
	defer cancel()

	eng.Close()

	var err error
	select {
	case <-loopDone:
	case <-ctx.Done():
		err = fmt.Errorf("timed out waiting for clock engine: %w", ctx.Err())
	}

	if werr := writer.close(ctx); werr != nil && err == nil {
		err = werr
	}

	c.mu.Lock()
	c.active = nil
	c.pendingStop = nil
	c.setObservableLocked(Observable{})
	c.mu.Unlock()

	log.Info().Err(err).Msg("timer coordinator closed")
	return err
}

// Observe returns the current observable state.
func (c *Coordinator) Observe() Observable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.obs
}

// Subscribe returns a channel that receives every observable change. A slow subscriber
// only ever sees the latest value. Call the returned func to unsubscribe.
func (c *Coordinator) Subscribe() (<-chan Observable, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Observable, 1)
	ch <- c.obs
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

// OnHalfTime registers a hook for half-time events of the active match.
func (c *Coordinator) OnHalfTime(hook HalfTimeHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Metrics returns the configured collector.
func (c *Coordinator) Metrics() MetricsCollector {
	return c.metrics
}

// forward sends cmd to the engine when a match is active and applies the optimistic
// update to the observable state.
func (c *Coordinator) forward(ctx context.Context, cmd events.Command, update func(*Observable)) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.engine == nil {
		return ErrNotInitialized
	}
	return c.forwardLocked(ctx, cmd, update)
}

func (c *Coordinator) forwardLocked(ctx context.Context, cmd events.Command, update func(*Observable)) error {
	if c.activeHandle() == nil {
		log.Warn().Str("command", string(cmd.Type)).Msg("no active match, command not sent")
		return nil
	}

	if err := c.engine.Send(ctx, cmd); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd.Type, err)
	}

	c.mu.Lock()
	obs := c.obs
	update(&obs)
	c.setObservableLocked(obs)
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) activeHandle() *activeMatch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// setObservableLocked stores obs and fans it out to subscribers. Callers hold mu.
func (c *Coordinator) setObservableLocked(obs Observable) {
	c.obs = obs
	for _, ch := range c.subs {
		select {
		case ch <- obs:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- obs:
			default:
			}
		}
	}
}
