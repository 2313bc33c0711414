package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/mcdev12/touchline/go/internal/matchclock/coordinator"
	"github.com/rs/zerolog/log"
)

// Coordinator is everything the gateway uses from the timer coordinator
type Coordinator interface {
	TimerController
	HealthSource
	OnHalfTime(hook coordinator.HalfTimeHook)
}

// Service is the match clock gateway: timer RPCs, the websocket display stream, snapshot
// endpoints and health.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	healthHandler     *HealthHandler
	timerService      *TimerService
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new gateway service. store is pinged by /health and may be nil.
func NewService(config Config, coord Coordinator, store Pinger) *Service {
	cm := NewConnectionManager(config.ConnectionConfig, coord)

	coord.OnHalfTime(func(matchID string, minute int) {
		msg, err := newTimerMessage(MessageTypeHalfTime, matchID, time.Now(), HalfTimeData{CurrentMinute: minute})
		if err != nil {
			log.Error().Err(err).Str("match_id", matchID).Msg("failed to build half-time message")
			return
		}
		cm.Broadcast(msg)
	})

	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
		stateHandler:      NewStateHandler(coord),
		healthHandler: NewHealthHandler(coord, store, func() int {
			return cm.GetConnectionStats().TotalConnections
		}),
		timerService: NewTimerService(coord),
	}
}

// OnForeground forwards websocket foreground messages to fn
func (s *Service) OnForeground(fn func(ctx context.Context)) {
	s.connectionManager.OnForeground(fn)
}

// Start runs the broadcast loop until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting match clock gateway")
	s.connectionManager.Start(ctx)
	log.Info().Msg("match clock gateway stopped")
	return nil
}

// RegisterRoutes registers every gateway route
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	path, handler := NewTimerServiceHandler(s.timerService)
	mux.Handle(path, handler)
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	mux.Handle("GET /health", s.healthHandler)
	log.Info().Str("rpc_path", path).Msg("match clock gateway routes registered")
}
