package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/mcdev12/touchline/go/internal/matchclock/coordinator"
)

// Pinger is implemented by stores that can report their connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthSource is what /health reports on
type HealthSource interface {
	Initialized() bool
	Observe() coordinator.Observable
	Metrics() coordinator.MetricsCollector
}

type HealthResponse struct {
	Status      string                       `json:"status"`
	Initialized bool                         `json:"initialized"`
	ActiveMatch string                       `json:"active_match,omitempty"`
	IsRunning   bool                         `json:"is_running"`
	Store       string                       `json:"store"`
	StoreError  string                       `json:"store_error,omitempty"`
	Connections int                          `json:"connections"`
	Metrics     *coordinator.MetricsSnapshot `json:"metrics,omitempty"`
}

// HealthHandler serves /health
type HealthHandler struct {
	source      HealthSource
	store       Pinger
	connections func() int
	pingTimeout time.Duration
}

// NewHealthHandler creates a health handler. store may be nil when the backing store
// cannot be pinged.
func NewHealthHandler(source HealthSource, store Pinger, connections func() int) *HealthHandler {
	return &HealthHandler{
		source:      source,
		store:       store,
		connections: connections,
		pingTimeout: 2 * time.Second,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	obs := h.source.Observe()
	resp := HealthResponse{
		Status:      "ok",
		Initialized: h.source.Initialized(),
		ActiveMatch: obs.MatchID,
		IsRunning:   obs.IsRunning,
		Store:       "unchecked",
	}
	if h.connections != nil {
		resp.Connections = h.connections()
	}
	if m, ok := h.source.Metrics().(interface {
		Snapshot() coordinator.MetricsSnapshot
	}); ok {
		snap := m.Snapshot()
		resp.Metrics = &snap
	}

	status := http.StatusOK
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.pingTimeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Store = "unavailable"
			resp.StoreError = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Store = "ok"
		}
	}
	if !resp.Initialized {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
