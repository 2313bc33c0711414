package main

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/touchline/go/internal/matchclock/coordinator"
	"github.com/mcdev12/touchline/go/internal/matchclock/engine"
	"github.com/mcdev12/touchline/go/internal/matchclock/gateway"
	"github.com/mcdev12/touchline/go/internal/matchclock/host"
	"github.com/mcdev12/touchline/go/internal/matchclock/store"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Store       store.Store
	Coordinator *coordinator.Coordinator
	Metrics     *coordinator.CounterMetrics
	Gateway     *gateway.Service
	Signals     *host.Signals
}

func setupServices(cfg *Config, st store.Store) *Services {
	// Store → Coordinator (owns the engine) → Gateway
	clock := clockwork.NewRealClock()
	metrics := coordinator.NewCounterMetrics()

	newEngine := func() coordinator.Engine {
		return engine.New(clock,
			engine.WithSnapshotEvery(cfg.Clock.SnapshotEveryTicks),
			engine.WithEventBuffer(cfg.Clock.EventBuffer),
		)
	}
	coord := coordinator.New(st, newEngine,
		coordinator.WithClock(clock),
		coordinator.WithMetrics(metrics),
		coordinator.WithDriftThreshold(cfg.Clock.DriftThreshold),
		coordinator.WithWriterQueueSize(cfg.Clock.WriterQueueSize),
		coordinator.WithStopFlushTimeout(cfg.Clock.StopFlushTimeout),
	)

	gw := gateway.NewService(gateway.DefaultConfig(), coord, st)

	signals := host.NewSignals()
	signals.OnForegroundRegain(coord.HandleForegroundRegain)
	signals.OnTeardown(func(ctx context.Context) error {
		if err := coord.Teardown(ctx); err != nil {
			log.Error().Err(err).Msg("teardown stop failed")
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Clock.TeardownTimeout)
		defer cancel()
		return coord.Close(closeCtx)
	})
	gw.OnForeground(signals.ForegroundRegained)

	return &Services{
		Store:       st,
		Coordinator: coord,
		Metrics:     metrics,
		Gateway:     gw,
		Signals:     signals,
	}
}
