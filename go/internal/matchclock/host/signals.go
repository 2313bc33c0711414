package host

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
)

// Handler reacts to a host-environment signal.
type Handler func(ctx context.Context) error

// Signals is a registry for the two host-environment signals the match clock reacts to:
// the process regaining the foreground after suspension, and process teardown.
type Signals struct {
	mu         sync.Mutex
	foreground []Handler
	teardown   []Handler
}

func NewSignals() *Signals {
	return &Signals{}
}

// OnForegroundRegain registers fn to run whenever the host regains the foreground.
func (s *Signals) OnForegroundRegain(fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foreground = append(s.foreground, fn)
}

// OnTeardown registers fn to run when the host is about to go away.
func (s *Signals) OnTeardown(fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown = append(s.teardown, fn)
}

// ForegroundRegained runs the foreground handlers in registration order.
func (s *Signals) ForegroundRegained(ctx context.Context) {
	s.fire(ctx, "foreground_regain", s.handlers(&s.foreground))
}

// TearDown runs the teardown handlers in registration order and returns once all of
// them have returned.
func (s *Signals) TearDown(ctx context.Context) {
	s.fire(ctx, "teardown", s.handlers(&s.teardown))
}

func (s *Signals) handlers(list *[]Handler) []Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Handler(nil), (*list)...)
}

func (s *Signals) fire(ctx context.Context, name string, handlers []Handler) {
	log.Debug().Str("signal", name).Int("handlers", len(handlers)).Msg("host signal")
	for _, h := range handlers {
		if err := h(ctx); err != nil {
			log.Error().Err(err).Str("signal", name).Msg("host signal handler failed")
		}
	}
}

// NotifyOS binds OS signals to the registry until ctx is done: SIGCONT (resumed after a
// stop) fires foreground regain, SIGINT and SIGTERM fire teardown. The returned channel is
// closed once teardown handlers have finished.
func NotifyOS(ctx context.Context, s *Signals) <-chan struct{} {
	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGCONT, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGCONT {
					s.ForegroundRegained(ctx)
					continue
				}
				log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
				s.TearDown(ctx)
				close(done)
				return
			}
		}
	}()

	return done
}
