package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/touchline/go/internal/matchclock/gateway"
	"github.com/mcdev12/touchline/go/internal/matchclock/host"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("touchline failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "touchline",
		Short:         "Live match clock server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging("info")
			if err := godotenv.Load(); err != nil {
				log.Debug().Err(err).Msg("could not load .env file")
			}
		},
	}

	root.AddCommand(newServeCmd(), newTimerCmd())
	return root
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the match clock server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				log.Error().Err(err).Msg("failed to load config")
				return err
			}
			setupLogging(cfg.LogLevel)
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	return cmd
}

func runServe(ctx context.Context, cfg *Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open timer store")
		return err
	}
	defer st.Close()

	services := setupServices(cfg, st)
	if err := services.Coordinator.Init(ctx); err != nil {
		return fmt.Errorf("failed to start timer coordinator: %w", err)
	}

	teardownDone := host.NotifyOS(ctx, services.Signals)
	go services.Gateway.Start(ctx)

	server := setupServer(cfg, services)
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.Store.Driver).Msg("match clock server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-teardownDone:
	case <-ctx.Done():
	case err = <-serverErr:
		log.Error().Err(err).Msg("server failed")
		services.Signals.TearDown(ctx)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Clock.TeardownTimeout)
	defer stop()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("server shutdown failed")
	}
	// No-op when teardown already closed it.
	if cerr := services.Coordinator.Close(shutdownCtx); cerr != nil {
		log.Error().Err(cerr).Msg("timer coordinator close failed")
	}

	log.Info().Msg("match clock server stopped")
	return err
}

func newTimerCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Inspect stored match clock snapshots",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "server base URL")

	getCmd := &cobra.Command{
		Use:   "get <match-id>",
		Short: "Print the stored snapshot for a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := gateway.NewTimerServiceClient(http.DefaultClient, addr)
			state, err := client.GetTimerState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if state == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "no snapshot for match %s\n", args[0])
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <match-id>",
		Short: "Delete the stored snapshot for a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := gateway.NewTimerServiceClient(http.DefaultClient, addr)
			if err := client.ClearTimerState(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared snapshot for match %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(getCmd, clearCmd)
	return cmd
}
