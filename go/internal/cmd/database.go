package main

import (
	"context"
	"fmt"

	"github.com/mcdev12/touchline/go/internal/dbconfig"
	"github.com/mcdev12/touchline/go/internal/matchclock/store"
	"github.com/rs/zerolog/log"
)

// openStore opens the snapshot store selected by cfg.Driver.
func openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case driverMemory:
		log.Warn().Msg("using in-memory timer store; snapshots will not survive a restart")
		return store.NewMemoryStore(), nil

	case driverPostgres:
		database, err := dbconfig.NewConfigFromEnv().Open(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewPostgresStore(database), nil

	case driverSQLite:
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("using sqlite timer store")
		return s, nil

	case driverNATS:
		return store.ConnectKVStore(ctx, cfg.NATS.URL, cfg.NATS.Bucket)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
