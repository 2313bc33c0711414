package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/touchline/go/internal/matchclock/events"
	"github.com/rs/zerolog/log"
)

// consume applies engine events in arrival order until the engine closes its event channel.
func (c *Coordinator) consume(ctx context.Context, eng Engine, writer *snapshotWriter, done chan struct{}) {
	defer close(done)

	for ev := range eng.Events() {
		if err := c.handleEvent(ctx, ev, writer); err != nil {
			log.Error().
				Err(err).
				Str("event_type", string(ev.Type)).
				Str("match_id", ev.MatchID).
				Msg("failed to handle engine event")
		}
	}
	log.Debug().Msg("engine event stream closed")
}

// handleEvent routes a single engine event
func (c *Coordinator) handleEvent(ctx context.Context, ev events.Event, writer *snapshotWriter) error {
	payload, err := events.ParseEventPayload(ev)
	if err != nil {
		var unknown *events.UnknownEventError
		if errors.As(err, &unknown) {
			log.Warn().
				Str("event_type", string(ev.Type)).
				Str("match_id", ev.MatchID).
				Msg("unknown engine event type - ignoring")
			return nil
		}
		return fmt.Errorf("failed to decode %s payload: %w", ev.Type, err)
	}

	switch p := payload.(type) {
	case events.TickPayload:
		c.handleTick(ev, p)

	case events.PersistPayload:
		// Snapshots are written even for a run that is no longer active; STOP's final
		// snapshot arrives after the handle is gone.
		writer.enqueue(p.State, c.takeStopWaiter(ev, p.Final))

	case events.HalfTimePayload:
		c.handleHalfTime(ev, p)

	case events.ErrorPayload:
		log.Error().
			Str("match_id", ev.MatchID).
			Str("command", string(p.Command)).
			Str("error", p.Error).
			Msg("clock engine reported error")
		c.metrics.RecordEngineError(string(p.Command))
		if p.Command == events.CommandStop {
			c.releaseStopWaiter()
		}
	}
	return nil
}

// takeStopWaiter hands the pending stop's channel to the writer when ev is the final
// snapshot of the run being stopped.
func (c *Coordinator) takeStopWaiter(ev events.Event, final bool) chan struct{} {
	if !final {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingStop == nil || c.pendingStop.runID != ev.RunID {
		return nil
	}
	flushed := c.pendingStop.flushed
	c.pendingStop = nil
	return flushed
}

// releaseStopWaiter unblocks a stop the engine rejected; there is no final snapshot coming.
func (c *Coordinator) releaseStopWaiter() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingStop != nil {
		close(c.pendingStop.flushed)
		c.pendingStop = nil
	}
}

// handleTick overwrites the observable fields present in the payload.
func (c *Coordinator) handleTick(ev events.Event, payload events.TickPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isActiveRunLocked(ev) {
		log.Debug().
			Str("match_id", ev.MatchID).
			Str("run_id", ev.RunID).
			Msg("dropping tick from inactive run")
		return
	}

	obs := c.obs
	if payload.CurrentMinute != nil {
		obs.CurrentMinute = *payload.CurrentMinute
	}
	if payload.ElapsedSeconds != nil {
		obs.ElapsedSeconds = *payload.ElapsedSeconds
	}
	if payload.IsHalfTime != nil {
		obs.IsHalfTime = *payload.IsHalfTime
	}
	c.setObservableLocked(obs)
}

func (c *Coordinator) handleHalfTime(ev events.Event, payload events.HalfTimePayload) {
	c.mu.RLock()
	active := c.isActiveRunLocked(ev)
	hooks := append([]HalfTimeHook(nil), c.hooks...)
	c.mu.RUnlock()

	if !active {
		return
	}

	log.Info().
		Str("match_id", ev.MatchID).
		Int("current_minute", payload.CurrentMinute).
		Msg("half-time reached")

	for _, hook := range hooks {
		hook(ev.MatchID, payload.CurrentMinute)
	}
}

func (c *Coordinator) isActiveRunLocked(ev events.Event) bool {
	return c.active != nil && c.active.matchID == ev.MatchID && c.active.runID == ev.RunID
}
