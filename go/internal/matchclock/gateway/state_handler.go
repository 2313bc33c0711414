package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/touchline/go/internal/matchclock/coordinator"
	"github.com/rs/zerolog/log"
)

// StateHandler handles HTTP requests for stored timer snapshots and the live clock
type StateHandler struct {
	ctrl TimerController
}

// NewStateHandler creates a new state handler
func NewStateHandler(ctrl TimerController) *StateHandler {
	return &StateHandler{ctrl: ctrl}
}

// HandleGetTimerState handles GET /api/matches/{id}/timer
func (h *StateHandler) HandleGetTimerState(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	if matchID == "" {
		http.Error(w, "match id is required", http.StatusBadRequest)
		return
	}

	state, err := h.ctrl.GetTimerState(r.Context(), matchID)
	if err != nil {
		log.Error().Err(err).Str("match_id", matchID).Msg("failed to get timer state")
		http.Error(w, "failed to get timer state", statusFor(err))
		return
	}
	if state == nil {
		http.Error(w, "no timer snapshot for match", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// HandleClearTimerState handles DELETE /api/matches/{id}/timer
func (h *StateHandler) HandleClearTimerState(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("id")
	if matchID == "" {
		http.Error(w, "match id is required", http.StatusBadRequest)
		return
	}

	if err := h.ctrl.ClearTimerState(r.Context(), matchID); err != nil {
		log.Error().Err(err).Str("match_id", matchID).Msg("failed to clear timer state")
		http.Error(w, "failed to clear timer state", statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetClock handles GET /api/timer
func (h *StateHandler) HandleGetClock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Observe())
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/matches/{id}/timer", h.HandleGetTimerState)
	mux.HandleFunc("DELETE /api/matches/{id}/timer", h.HandleClearTimerState)
	mux.HandleFunc("GET /api/timer", h.HandleGetClock)
}

func statusFor(err error) int {
	if errors.Is(err, coordinator.ErrNotInitialized) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
