package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taskmesh/taskmesh/internal/control"
	"github.com/taskmesh/taskmesh/internal/logger"
	"github.com/taskmesh/taskmesh/internal/task"
)

// AdminHandler handles control-surface (C8) HTTP requests: circuit
// breakers, dead-letter queue, and aggregate retry/execution stats,
// grounded on original_source's retry_management.py endpoint set.
type AdminHandler struct {
	surface *control.Surface
}

func NewAdminHandler(s *control.Surface) *AdminHandler {
	return &AdminHandler{surface: s}
}

// ListBreakers handles GET /admin/circuit-breakers.
func (h *AdminHandler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.surface.Breakers())
}

// ResetBreaker handles POST /admin/circuit-breakers/{kind}/reset.
func (h *AdminHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if kind == "" {
		h.respondError(w, http.StatusBadRequest, "kind is required")
		return
	}
	h.surface.ResetBreaker(kind)
	logger.Info().Str("kind", kind).Msg("circuit breaker reset")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "circuit breaker reset",
		"kind":    kind,
	})
}

// SimulateFailureRequest is the POST /admin/simulate-failure body.
type SimulateFailureRequest struct {
	Kind      string `json:"kind"`
	ErrorType string `json:"error_type,omitempty"`
}

// SimulateFailure handles POST /admin/simulate-failure, a test hook for
// exercising a kind's breaker without a real handler error.
func (h *AdminHandler) SimulateFailure(w http.ResponseWriter, r *http.Request) {
	var req SimulateFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Kind == "" {
		h.respondError(w, http.StatusBadRequest, "kind is required")
		return
	}
	h.surface.SimulateFailure(req.Kind)
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "simulated failure recorded",
		"kind":    req.Kind,
	})
}

// ListDeadLetters handles GET /admin/dead-letters.
func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	entries, err := h.surface.ListDeadLetters(r.Context(), kind)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list dead letters")
		h.respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	h.respondJSON(w, http.StatusOK, entries)
}

// RetryDeadLetter handles POST /admin/dead-letters/{taskID}/retry.
func (h *AdminHandler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "task id must be numeric")
		return
	}
	if err := h.surface.RetryDeadLetter(r.Context(), id); err != nil {
		if err == task.ErrTaskNotFound {
			h.respondError(w, http.StatusNotFound, "dead letter not found")
			return
		}
		logger.Error().Err(err).Int64("task_id", id).Msg("failed to retry dead letter")
		h.respondError(w, http.StatusInternalServerError, "failed to retry dead letter")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "task re-queued",
		"task_id": id,
	})
}

// PurgeDeadLetters handles DELETE /admin/dead-letters.
func (h *AdminHandler) PurgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	olderThanHours := 24
	if v := r.URL.Query().Get("older_than_hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			olderThanHours = n
		}
	}

	purged, err := h.surface.PurgeDeadLetters(r.Context(), kind, olderThanHours)
	if err != nil {
		logger.Error().Err(err).Msg("failed to purge dead letters")
		h.respondError(w, http.StatusInternalServerError, "failed to purge dead letters")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "dead letters purged",
		"purged":  purged,
	})
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	stats, err := h.surface.Stats(r.Context(), kind)
	if err != nil {
		logger.Error().Err(err).Msg("failed to compute stats")
		h.respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *AdminHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
