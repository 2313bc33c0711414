package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/touchline/go/internal/matchclock/engine"
	"github.com/mcdev12/touchline/go/internal/matchclock/events"
	"github.com/mcdev12/touchline/go/internal/models"
)

var t0 = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

// stopReply is how fakeEngine answers STOP.
type stopReply int

const (
	stopFinalSnapshot stopReply = iota
	stopReject
	stopSilent
)

// fakeEngine records commands and lets tests inject events. Like the real engine it
// answers STOP with a final snapshot of the last started run, carrying the elapsed time
// of the last tick a test emitted for it.
type fakeEngine struct {
	mu      sync.Mutex
	cmds    []events.Command
	eventCh chan events.Event
	stop    chan struct{}
	once    sync.Once

	onStop  stopReply
	run     events.StartPayload
	elapsed int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		eventCh: make(chan events.Event, 64),
		stop:    make(chan struct{}),
	}
}

func (f *fakeEngine) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-f.stop:
	}
	close(f.eventCh)
	return nil
}

func (f *fakeEngine) Send(ctx context.Context, cmd events.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)

	switch cmd.Type {
	case events.CommandStart:
		f.run, _ = events.ParseStartPayload(cmd)
		f.elapsed = f.run.InitialElapsedSeconds
	case events.CommandStop:
		switch f.onStop {
		case stopFinalSnapshot:
			f.reply(events.EventTypePersist, events.PersistPayload{
				State: snapshot(f.run.MatchID, f.elapsed, false, t0),
				Final: true,
			})
		case stopReject:
			f.reply(events.EventTypeError, events.ErrorPayload{Error: "cannot STOP while IDLE", Command: events.CommandStop})
		}
	}
	return nil
}

func (f *fakeEngine) reply(typ events.EventType, payload any) {
	ev, err := events.NewEvent(typ, f.run.MatchID, f.run.RunID, t0, payload)
	if err != nil {
		panic(err)
	}
	f.eventCh <- ev
}

func (f *fakeEngine) stopWith(reply stopReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStop = reply
}

func (f *fakeEngine) Events() <-chan events.Event { return f.eventCh }

func (f *fakeEngine) Close() { f.once.Do(func() { close(f.stop) }) }

func (f *fakeEngine) commands() []events.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Command(nil), f.cmds...)
}

func (f *fakeEngine) commandTypes() []events.CommandType {
	var types []events.CommandType
	for _, cmd := range f.commands() {
		types = append(types, cmd.Type)
	}
	return types
}

func (f *fakeEngine) lastStart(t *testing.T) events.StartPayload {
	t.Helper()
	cmds := f.commands()
	for i := len(cmds) - 1; i >= 0; i-- {
		if cmds[i].Type == events.CommandStart {
			p, err := events.ParseStartPayload(cmds[i])
			if err != nil {
				t.Fatalf("ParseStartPayload: %v", err)
			}
			return p
		}
	}
	t.Fatal("no START command sent")
	return events.StartPayload{}
}

func (f *fakeEngine) emit(t *testing.T, typ events.EventType, matchID, runID string, payload any) {
	t.Helper()
	ev, err := events.NewEvent(typ, matchID, runID, t0, payload)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if tick, ok := payload.(events.TickPayload); ok && tick.ElapsedSeconds != nil {
		f.mu.Lock()
		if runID == f.run.RunID {
			f.elapsed = *tick.ElapsedSeconds
		}
		f.mu.Unlock()
	}
	f.eventCh <- ev
}

type stubStore struct {
	mu      sync.Mutex
	states  map[string]models.TimerState
	saved   []models.TimerState
	getErr  error
	saveErr error
	block   chan struct{}
	saving  chan struct{}
	delay   time.Duration
}

func newStubStore() *stubStore {
	return &stubStore{states: make(map[string]models.TimerState)}
}

func (s *stubStore) GetTimerState(ctx context.Context, matchID string) (*models.TimerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	st, ok := s.states[matchID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *stubStore) SaveTimerState(ctx context.Context, state models.TimerState) error {
	s.mu.Lock()
	block, saving, delay := s.block, s.saving, s.delay
	s.mu.Unlock()
	time.Sleep(delay)
	if block != nil {
		saving <- struct{}{}
		<-block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.states[state.MatchID] = state
	s.saved = append(s.saved, state)
	return nil
}

func (s *stubStore) DeleteTimerState(ctx context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, matchID)
	return nil
}

func (s *stubStore) put(state models.TimerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.MatchID] = state
}

func (s *stubStore) savedStates() []models.TimerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TimerState(nil), s.saved...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestCoordinator(t *testing.T, store TimerStore, opts ...Option) (*Coordinator, *fakeEngine) {
	t.Helper()
	fe := newFakeEngine()
	c := New(store, func() Engine { return fe }, opts...)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c, fe
}

func snapshot(matchID string, elapsed int, running bool, updatedAt time.Time) models.TimerState {
	st := models.TimerState{MatchID: matchID, IsRunning: running, UpdatedAt: updatedAt}
	st.SetElapsed(elapsed)
	return st
}

func TestOperationsRequireInit(t *testing.T) {
	ctx := context.Background()
	ops := map[string]func(c *Coordinator) error{
		"StartTimer":  func(c *Coordinator) error { return c.StartTimer(ctx, "g1") },
		"PauseTimer":  func(c *Coordinator) error { return c.PauseTimer(ctx) },
		"ResumeTimer": func(c *Coordinator) error { return c.ResumeTimer(ctx) },
		"SetMinute":   func(c *Coordinator) error { return c.SetMinute(ctx, 10) },
		"StopTimer":   func(c *Coordinator) error { return c.StopTimer(ctx) },
		"GetTimerState": func(c *Coordinator) error {
			_, err := c.GetTimerState(ctx, "g1")
			return err
		},
		"ClearTimerState":        func(c *Coordinator) error { return c.ClearTimerState(ctx, "g1") },
		"HandleForegroundRegain": func(c *Coordinator) error { return c.HandleForegroundRegain(ctx) },
		"Teardown":               func(c *Coordinator) error { return c.Teardown(ctx) },
	}

	for name, op := range ops {
		t.Run(name+"/before init", func(t *testing.T) {
			c := New(newStubStore(), func() Engine { return newFakeEngine() })
			if err := op(c); !errors.Is(err, ErrNotInitialized) {
				t.Fatalf("got %v, want ErrNotInitialized", err)
			}
		})
		t.Run(name+"/after close", func(t *testing.T) {
			c := New(newStubStore(), func() Engine { return newFakeEngine() })
			if err := c.Init(ctx); err != nil {
				t.Fatalf("Init: %v", err)
			}
			if err := c.Close(ctx); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if err := op(c); !errors.Is(err, ErrNotInitialized) {
				t.Fatalf("got %v, want ErrNotInitialized", err)
			}
		})
	}
}

func TestStartTimerFreshMatch(t *testing.T) {
	c, fe := newTestCoordinator(t, newStubStore())

	if err := c.StartTimer(context.Background(), "g1"); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	p := fe.lastStart(t)
	if p.MatchID != "g1" || p.InitialMinute != 0 || p.InitialElapsedSeconds != 0 || p.RunID == "" {
		t.Fatalf("unexpected START payload: %+v", p)
	}
	obs := c.Observe()
	if obs.MatchID != "g1" || !obs.IsRunning || obs.CurrentMinute != 0 {
		t.Fatalf("unexpected observable after start: %+v", obs)
	}
}

func TestStartTimerResumesFromSnapshot(t *testing.T) {
	store := newStubStore()
	store.put(snapshot("g1", 2710, false, t0))
	c, fe := newTestCoordinator(t, store)

	if err := c.StartTimer(context.Background(), "g1"); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	p := fe.lastStart(t)
	if p.InitialMinute != 45 || p.InitialElapsedSeconds != 2710 {
		t.Fatalf("START did not resume from snapshot: %+v", p)
	}
	obs := c.Observe()
	if obs.CurrentMinute != 45 || obs.ElapsedSeconds != 2710 || !obs.IsHalfTime {
		t.Fatalf("optimistic state not seeded from snapshot: %+v", obs)
	}
}

func TestStartTimerIgnoresInconsistentSnapshot(t *testing.T) {
	store := newStubStore()
	store.put(models.TimerState{MatchID: "g1", ElapsedSeconds: 1800, CurrentMinute: 12})
	c, fe := newTestCoordinator(t, store)

	if err := c.StartTimer(context.Background(), "g1"); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if p := fe.lastStart(t); p.InitialElapsedSeconds != 0 || p.InitialMinute != 0 {
		t.Fatalf("inconsistent snapshot was used: %+v", p)
	}
}

func TestStartTimerReadFailureStartsFromZero(t *testing.T) {
	store := newStubStore()
	store.getErr = errors.New("connection refused")
	c, fe := newTestCoordinator(t, store)

	if err := c.StartTimer(context.Background(), "g1"); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if p := fe.lastStart(t); p.InitialElapsedSeconds != 0 {
		t.Fatalf("expected zero start, got %+v", p)
	}
}

func TestStartTimerStopsPreviousMatch(t *testing.T) {
	c, fe := newTestCoordinator(t, newStubStore())
	ctx := context.Background()

	if err := c.StartTimer(ctx, "g1"); err != nil {
		t.Fatalf("StartTimer g1: %v", err)
	}
	firstRun := fe.lastStart(t).RunID
	if err := c.StartTimer(ctx, "g2"); err != nil {
		t.Fatalf("StartTimer g2: %v", err)
	}

	got := fe.commandTypes()
	want := []events.CommandType{events.CommandStart, events.CommandStop, events.CommandStart}
	if len(got) != len(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("commands = %v, want %v", got, want)
		}
	}
	if p := fe.lastStart(t); p.MatchID != "g2" || p.RunID == firstRun {
		t.Fatalf("second START reused handle: %+v", p)
	}
	if obs := c.Observe(); obs.MatchID != "g2" {
		t.Fatalf("active match = %q, want g2", obs.MatchID)
	}
}

func TestStartTimerSameMatchIsNoop(t *testing.T) {
	c, fe := newTestCoordinator(t, newStubStore())
	ctx := context.Background()

	_ = c.StartTimer(ctx, "g1")
	if err := c.StartTimer(ctx, "g1"); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if n := len(fe.commands()); n != 1 {
		t.Fatalf("sent %d commands, want 1", n)
	}
}

func TestTickAppliesFieldsPresent(t *testing.T) {
	c, fe := newTestCoordinator(t, newStubStore())
	_ = c.StartTimer(context.Background(), "g1")
	run := fe.lastStart(t).RunID

	fe.emit(t, events.EventTypeTick, "g1", run, events.TickPayload{
		CurrentMinute:  events.IntPtr(3),
		ElapsedSeconds: events.IntPtr(200),
		IsHalfTime:     events.BoolPtr(false),
	})
	waitFor(t, "full tick", func() bool { return c.Observe().ElapsedSeconds == 200 })

	fe.emit(t, events.EventTypeTick, "g1", run, events.TickPayload{ElapsedSeconds: events.IntPtr(201)})
	waitFor(t, "partial tick", func() bool { return c.Observe().ElapsedSeconds == 201 })

	if obs := c.Observe(); obs.CurrentMinute != 3 || !obs.IsRunning {
		t.Fatalf("partial tick clobbered other fields: %+v", obs)
	}
}

func TestEventsFromInactiveRunAreIgnored(t *testing.T) {
	store := newStubStore()
	c, fe := newTestCoordinator(t, store)
	ctx := context.Background()

	_ = c.StartTimer(ctx, "g1")
	run := fe.lastStart(t).RunID
	if err := c.StopTimer(ctx); err != nil {
		t.Fatalf("StopTimer: %v", err)
	}

	var hooked atomic.Bool
	c.OnHalfTime(func(string, int) { hooked.Store(true) })

	fe.emit(t, events.EventTypeTick, "g1", run, events.TickPayload{ElapsedSeconds: events.IntPtr(2700), CurrentMinute: events.IntPtr(45)})
	fe.emit(t, events.EventTypeHalfTime, "g1", run, events.HalfTimePayload{CurrentMinute: 45})
	// Snapshots of a stopped run are still written.
	fe.emit(t, events.EventTypePersist, "g1", run, events.PersistPayload{State: snapshot("g1", 2700, false, t0)})

	waitFor(t, "late snapshot", func() bool { return len(store.savedStates()) == 2 })
	if obs := c.Observe(); obs != (Observable{}) {
		t.Fatalf("stale events changed observable state: %+v", obs)
	}
	if hooked.Load() {
		t.Fatal("half-time hook fired for inactive run")
	}
}

func TestHalfTimeHook(t *testing.T) {
	c, fe := newTestCoordinator(t, newStubStore())
	_ = c.StartTimer(context.Background(), "g1")

	got := make(chan int, 1)
	c.OnHalfTime(func(matchID string, minute int) {
		if matchID == "g1" {
			got <- minute
		}
	})
	fe.emit(t, events.EventTypeHalfTime, "g1", fe.lastStart(t).RunID, events.HalfTimePayload{CurrentMinute: 45})

	select {
	case m := <-got:
		if m != 45 {
			t.Fatalf("hook minute = %d, want 45", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("half-time hook not called")
	}
}

func TestSnapshotsWrittenInOrder(t *testing.T) {
	store := newStubStore()
	c, fe := newTestCoordinator(t, store)
	_ = c.StartTimer(context.Background(), "g1")
	run := fe.lastStart(t).RunID

	for _, elapsed := range []int{5, 10, 15, 20} {
		fe.emit(t, events.EventTypePersist, "g1", run, events.PersistPayload{State: snapshot("g1", elapsed, true, t0)})
	}

	waitFor(t, "four snapshots", func() bool { return len(store.savedStates()) == 4 })
	for i, st := range store.savedStates() {
		if st.ElapsedSeconds != (i+1)*5 {
			t.Fatalf("snapshot %d has elapsed %d; writes reordered", i, st.ElapsedSeconds)
		}
	}
}

func TestSnapshotWriteFailureIsNonFatal(t *testing.T) {
	store := newStubStore()
	store.saveErr = errors.New("disk full")
	metrics := NewCounterMetrics()
	c, fe := newTestCoordinator(t, store, WithMetrics(metrics))
	ctx := context.Background()

	_ = c.StartTimer(ctx, "g1")
	fe.emit(t, events.EventTypePersist, "g1", fe.lastStart(t).RunID, events.PersistPayload{State: snapshot("g1", 5, true, t0)})

	waitFor(t, "failed write", func() bool { return metrics.Snapshot().SnapshotWriteErrors == 1 })
	if err := c.PauseTimer(ctx); err != nil {
		t.Fatalf("PauseTimer after failed write: %v", err)
	}
}

func TestFullWriterQueueDropsSnapshot(t *testing.T) {
	store := newStubStore()
	store.block = make(chan struct{})
	store.saving = make(chan struct{}, 4)
	metrics := NewCounterMetrics()
	c, fe := newTestCoordinator(t, store, WithMetrics(metrics), WithWriterQueueSize(1))
	_ = c.StartTimer(context.Background(), "g1")
	run := fe.lastStart(t).RunID

	fe.emit(t, events.EventTypePersist, "g1", run, events.PersistPayload{State: snapshot("g1", 5, true, t0)})
	select {
	case <-store.saving:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never picked up first snapshot")
	}
	fe.emit(t, events.EventTypePersist, "g1", run, events.PersistPayload{State: snapshot("g1", 10, true, t0)})
	fe.emit(t, events.EventTypePersist, "g1", run, events.PersistPayload{State: snapshot("g1", 15, true, t0)})

	waitFor(t, "dropped snapshot", func() bool { return metrics.Snapshot().SnapshotsDropped == 1 })
	close(store.block)
	waitFor(t, "remaining writes", func() bool { return len(store.savedStates()) == 2 })
}

func TestEngineErrorIsRecorded(t *testing.T) {
	metrics := NewCounterMetrics()
	c, fe := newTestCoordinator(t, newStubStore(), WithMetrics(metrics))
	_ = c.StartTimer(context.Background(), "g1")

	fe.emit(t, events.EventTypeError, "g1", fe.lastStart(t).RunID, events.ErrorPayload{Error: "cannot PAUSE while PAUSED", Command: events.CommandPause})
	waitFor(t, "engine error", func() bool { return metrics.Snapshot().EngineErrors == 1 })
}

func TestSetMinute(t *testing.T) {
	c, fe := newTestCoordinator(t, newStubStore())
	ctx := context.Background()
	_ = c.StartTimer(ctx, "g1")

	if err := c.SetMinute(ctx, -1); !errors.Is(err, ErrInvalidMinute) {
		t.Fatalf("SetMinute(-1) = %v, want ErrInvalidMinute", err)
	}
	if n := len(fe.commands()); n != 1 {
		t.Fatal("negative minute reached the engine")
	}

	if err := c.SetMinute(ctx, 50); err != nil {
		t.Fatalf("SetMinute: %v", err)
	}
	cmds := fe.commands()
	m, err := events.ParseSetMinutePayload(cmds[len(cmds)-1])
	if err != nil || m != 50 {
		t.Fatalf("SET_MINUTE payload = (%d, %v), want 50", m, err)
	}
	obs := c.Observe()
	if obs.CurrentMinute != 50 || obs.ElapsedSeconds != 3000 || !obs.IsHalfTime {
		t.Fatalf("optimistic update not applied: %+v", obs)
	}
}

func TestPauseResumeUpdateRunningFlag(t *testing.T) {
	c, fe := newTestCoordinator(t, newStubStore())
	ctx := context.Background()
	_ = c.StartTimer(ctx, "g1")

	if err := c.PauseTimer(ctx); err != nil {
		t.Fatalf("PauseTimer: %v", err)
	}
	if c.Observe().IsRunning {
		t.Fatal("still running after pause")
	}
	if err := c.ResumeTimer(ctx); err != nil {
		t.Fatalf("ResumeTimer: %v", err)
	}
	if !c.Observe().IsRunning {
		t.Fatal("not running after resume")
	}

	got := fe.commandTypes()
	if got[1] != events.CommandPause || got[2] != events.CommandResume {
		t.Fatalf("commands = %v", got)
	}
}

func TestCommandsWithoutActiveMatchAreNotSent(t *testing.T) {
	c, fe := newTestCoordinator(t, newStubStore())
	ctx := context.Background()

	for name, op := range map[string]func() error{
		"pause":  func() error { return c.PauseTimer(ctx) },
		"resume": func() error { return c.ResumeTimer(ctx) },
		"minute": func() error { return c.SetMinute(ctx, 10) },
		"stop":   func() error { return c.StopTimer(ctx) },
	} {
		if err := op(); err != nil {
			t.Fatalf("%s with no active match: %v", name, err)
		}
	}
	if n := len(fe.commands()); n != 0 {
		t.Fatalf("sent %d commands with no active match", n)
	}
}

func TestStopTimerResetsObservableAndKeepsSnapshot(t *testing.T) {
	store := newStubStore()
	c, fe := newTestCoordinator(t, store)
	ctx := context.Background()

	_ = c.StartTimer(ctx, "g1")
	run := fe.lastStart(t).RunID
	fe.emit(t, events.EventTypeTick, "g1", run, events.TickPayload{
		CurrentMinute: events.IntPtr(46), ElapsedSeconds: events.IntPtr(2770), IsHalfTime: events.BoolPtr(true),
	})
	waitFor(t, "tick", func() bool { return c.Observe().ElapsedSeconds == 2770 })

	if err := c.StopTimer(ctx); err != nil {
		t.Fatalf("StopTimer: %v", err)
	}

	if obs := c.Observe(); obs != (Observable{}) {
		t.Fatalf("observable not reset: %+v", obs)
	}

	// StopTimer returns only after the final snapshot is stored.
	if saved := store.savedStates(); len(saved) != 1 || saved[0].IsRunning {
		t.Fatalf("saved after stop = %+v, want one stopped snapshot", saved)
	}
	st, err := c.GetTimerState(ctx, "g1")
	if err != nil || st == nil || st.ElapsedSeconds != 2770 {
		t.Fatalf("GetTimerState = (%+v, %v)", st, err)
	}

	if err := c.ClearTimerState(ctx, "g1"); err != nil {
		t.Fatalf("ClearTimerState: %v", err)
	}
	if st, _ := c.GetTimerState(ctx, "g1"); st != nil {
		t.Fatalf("snapshot survived clear: %+v", st)
	}

	// a fresh start must re-read the store
	_ = c.StartTimer(ctx, "g1")
	if p := fe.lastStart(t); p.InitialElapsedSeconds != 0 || p.RunID == run {
		t.Fatalf("restart after clear: %+v", p)
	}
}

func TestStopWaitsForFinalSnapshot(t *testing.T) {
	store := newStubStore()
	store.block = make(chan struct{})
	store.saving = make(chan struct{}, 1)
	c, fe := newTestCoordinator(t, store)
	ctx := context.Background()

	_ = c.StartTimer(ctx, "g1")
	fe.emit(t, events.EventTypeTick, "g1", fe.lastStart(t).RunID, events.TickPayload{ElapsedSeconds: events.IntPtr(480)})

	stopped := make(chan error, 1)
	go func() { stopped <- c.StopTimer(ctx) }()

	select {
	case <-store.saving:
	case <-time.After(2 * time.Second):
		t.Fatal("final snapshot never reached the store")
	}
	select {
	case err := <-stopped:
		t.Fatalf("StopTimer returned before the final snapshot was stored: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(store.block)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("StopTimer: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StopTimer did not return after the write finished")
	}

	// a restart reads what the stop wrote
	_ = c.StartTimer(ctx, "g1")
	if p := fe.lastStart(t); p.InitialElapsedSeconds != 480 {
		t.Fatalf("restart resumed from %d, want 480", p.InitialElapsedSeconds)
	}
}

func TestStopWithoutFinalSnapshot(t *testing.T) {
	tests := []struct {
		name  string
		reply stopReply
	}{
		{"engine rejects stop", stopReject},
		{"engine never answers", stopSilent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStubStore()
			c, fe := newTestCoordinator(t, store, WithStopFlushTimeout(100*time.Millisecond))
			ctx := context.Background()
			_ = c.StartTimer(ctx, "g1")
			fe.stopWith(tt.reply)

			start := time.Now()
			if err := c.StopTimer(ctx); err != nil {
				t.Fatalf("StopTimer: %v", err)
			}
			if tt.reply == stopReject && time.Since(start) >= 100*time.Millisecond {
				t.Fatal("rejected stop waited for the flush timeout")
			}
			if obs := c.Observe(); obs != (Observable{}) {
				t.Fatalf("observable not reset: %+v", obs)
			}
			if n := len(store.savedStates()); n != 0 {
				t.Fatalf("saved %d snapshots, want none", n)
			}

			// the coordinator is still usable
			if err := c.StartTimer(ctx, "g2"); err != nil {
				t.Fatalf("StartTimer after stop: %v", err)
			}
		})
	}
}

func TestStopWaitHonorsContext(t *testing.T) {
	c, fe := newTestCoordinator(t, newStubStore())
	_ = c.StartTimer(context.Background(), "g1")
	fe.stopWith(stopSilent)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.StopTimer(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("StopTimer = %v, want DeadlineExceeded", err)
	}
	if obs := c.Observe(); obs != (Observable{}) {
		t.Fatalf("match still active after stop: %+v", obs)
	}
}

func TestForegroundRegainDrift(t *testing.T) {
	tests := []struct {
		name       string
		running    bool
		now        time.Time
		wantMinute int
		wantSet    bool
	}{
		{"above threshold", true, t0.Add(12 * time.Second), 5, true},
		{"below threshold", true, t0.Add(time.Second), 0, false},
		{"paused", false, t0.Add(time.Minute), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStubStore()
			store.put(snapshot("g1", 300, tt.running, t0))
			metrics := NewCounterMetrics()
			c, fe := newTestCoordinator(t, store,
				WithClock(clockwork.NewFakeClockAt(tt.now)),
				WithMetrics(metrics),
			)
			ctx := context.Background()
			_ = c.StartTimer(ctx, "g1")

			if err := c.HandleForegroundRegain(ctx); err != nil {
				t.Fatalf("HandleForegroundRegain: %v", err)
			}

			cmds := fe.commands()
			last := cmds[len(cmds)-1]
			if !tt.wantSet {
				if last.Type != events.CommandStart {
					t.Fatalf("unexpected correction: %v", fe.commandTypes())
				}
				return
			}
			m, err := events.ParseSetMinutePayload(last)
			if last.Type != events.CommandSetMinute || err != nil || m != tt.wantMinute {
				t.Fatalf("last command %s minute %d (%v), want SET_MINUTE %d", last.Type, m, err, tt.wantMinute)
			}
			if s := metrics.Snapshot(); s.DriftCorrections != 1 || s.DriftSecondsTotal != 12 {
				t.Fatalf("drift metrics = %+v", s)
			}
		})
	}
}

func TestForegroundRegainWithoutActiveMatch(t *testing.T) {
	store := newStubStore()
	store.getErr = errors.New("store should not be read")
	c, fe := newTestCoordinator(t, store)

	if err := c.HandleForegroundRegain(context.Background()); err != nil {
		t.Fatalf("HandleForegroundRegain: %v", err)
	}
	if len(fe.commands()) != 0 {
		t.Fatal("correction issued with no active match")
	}
}

func TestTeardownStopsOnlyRunningMatch(t *testing.T) {
	c, fe := newTestCoordinator(t, newStubStore())
	ctx := context.Background()

	_ = c.StartTimer(ctx, "g1")
	_ = c.PauseTimer(ctx)
	if err := c.Teardown(ctx); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if got := fe.commandTypes(); got[len(got)-1] == events.CommandStop {
		t.Fatal("teardown stopped a paused match")
	}

	_ = c.ResumeTimer(ctx)
	if err := c.Teardown(ctx); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if got := fe.commandTypes(); got[len(got)-1] != events.CommandStop {
		t.Fatalf("teardown did not stop running match: %v", got)
	}
}

func TestSubscribeReceivesLatestState(t *testing.T) {
	c, _ := newTestCoordinator(t, newStubStore())
	ch, unsubscribe := c.Subscribe()

	if initial := <-ch; initial != (Observable{}) {
		t.Fatalf("initial value = %+v", initial)
	}

	_ = c.StartTimer(context.Background(), "g1")
	_ = c.SetMinute(context.Background(), 12)

	select {
	case obs := <-ch:
		if obs.MatchID != "g1" || obs.CurrentMinute != 12 {
			t.Fatalf("subscriber saw %+v, want latest state", obs)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed on unsubscribe")
	}
	unsubscribe()
}

func TestWithRealEngine(t *testing.T) {
	fc := clockwork.NewFakeClockAt(t0)
	store := newStubStore()
	c := New(store, func() Engine { return engine.New(fc) }, WithClock(fc))
	ctx := context.Background()
	if err := c.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := c.StartTimer(ctx, "g1"); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	for i := 1; i <= 65; i++ {
		blockCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := fc.BlockUntilContext(blockCtx, 1); err != nil {
			cancel()
			t.Fatalf("ticker not armed before tick %d: %v", i, err)
		}
		cancel()
		fc.Advance(time.Second)
		waitFor(t, "tick", func() bool { return c.Observe().ElapsedSeconds == i })
	}

	if obs := c.Observe(); obs.CurrentMinute != 1 || obs.ElapsedSeconds != 65 || !obs.IsRunning {
		t.Fatalf("after 65 ticks: %+v", obs)
	}
	waitFor(t, "periodic snapshot", func() bool {
		st, _ := store.GetTimerState(ctx, "g1")
		return st != nil && st.ElapsedSeconds == 65
	})

	if err := c.Teardown(ctx); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if obs := c.Observe(); obs != (Observable{}) {
		t.Fatalf("observable after teardown: %+v", obs)
	}
	st, _ := store.GetTimerState(ctx, "g1")
	if st == nil || st.IsRunning || st.ElapsedSeconds != 65 {
		t.Fatalf("final snapshot = %+v", st)
	}
}

// tickEngine advances the fake clock one second at a time and waits for each tick to
// reach the observable state.
func tickEngine(t *testing.T, fc *clockwork.FakeClock, c *Coordinator, n int) {
	t.Helper()
	base := c.Observe().ElapsedSeconds
	for i := 1; i <= n; i++ {
		blockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := fc.BlockUntilContext(blockCtx, 1)
		cancel()
		if err != nil {
			t.Fatalf("ticker not armed before tick %d: %v", i, err)
		}
		fc.Advance(time.Second)
		want := base + i
		waitFor(t, "tick", func() bool { return c.Observe().ElapsedSeconds == want })
	}
}

func TestRestartAfterStopResumesFromFinalSnapshot(t *testing.T) {
	tests := []struct {
		name  string
		delay time.Duration
	}{
		{"fast store", 0},
		{"slow store", 30 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := clockwork.NewFakeClockAt(t0)
			store := newStubStore()
			store.delay = tt.delay
			c := New(store, func() Engine { return engine.New(fc) }, WithClock(fc))
			ctx := context.Background()
			if err := c.Init(ctx); err != nil {
				t.Fatalf("Init: %v", err)
			}
			t.Cleanup(func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = c.Close(closeCtx)
			})

			// 8 ticks leaves the last periodic snapshot at 5.
			_ = c.StartTimer(ctx, "g1")
			tickEngine(t, fc, c, 8)

			if err := c.StopTimer(ctx); err != nil {
				t.Fatalf("StopTimer: %v", err)
			}
			if err := c.StartTimer(ctx, "g1"); err != nil {
				t.Fatalf("StartTimer: %v", err)
			}
			if obs := c.Observe(); obs.ElapsedSeconds != 8 {
				t.Fatalf("restart resumed from %d, want 8", obs.ElapsedSeconds)
			}

			// switching away and back goes through the same stop
			_ = c.StartTimer(ctx, "g2")
			tickEngine(t, fc, c, 3)
			if err := c.StartTimer(ctx, "g1"); err != nil {
				t.Fatalf("StartTimer g1: %v", err)
			}
			if obs := c.Observe(); obs.MatchID != "g1" || obs.ElapsedSeconds != 8 {
				t.Fatalf("switch back resumed %+v, want g1 at 8", obs)
			}
			tickEngine(t, fc, c, 2)

			if err := c.StopTimer(ctx); err != nil {
				t.Fatalf("StopTimer: %v", err)
			}
			g1, _ := store.GetTimerState(ctx, "g1")
			g2, _ := store.GetTimerState(ctx, "g2")
			if g1 == nil || g1.ElapsedSeconds != 10 || g1.IsRunning {
				t.Fatalf("g1 snapshot = %+v, want stopped at 10", g1)
			}
			if g2 == nil || g2.ElapsedSeconds != 3 || g2.IsRunning {
				t.Fatalf("g2 snapshot = %+v, want stopped at 3", g2)
			}
		})
	}
}
