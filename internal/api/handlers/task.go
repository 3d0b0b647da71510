package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskmesh/taskmesh/internal/control"
	"github.com/taskmesh/taskmesh/internal/logger"
	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/task"
)

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	surface      *control.Surface
	maxQueueSize int64
}

func NewTaskHandler(s *control.Surface, maxQueueSize int64) *TaskHandler {
	return &TaskHandler{surface: s, maxQueueSize: maxQueueSize}
}

// CreateTaskRequest is the submission payload, matching original_source's
// TaskRequest (task_type/payload/max_retries/scheduled_at).
type CreateTaskRequest struct {
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	MaxRetries  int             `json:"max_retries"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
}

// Create handles POST /api/v1/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Kind == "" {
		h.respondError(w, http.StatusBadRequest, "kind is required")
		return
	}

	if h.maxQueueSize > 0 {
		if stats, err := h.surface.QueueStats(r.Context()); err == nil {
			if stats.ReadyDepth >= h.maxQueueSize {
				h.respondError(w, http.StatusServiceUnavailable, "queue at capacity")
				return
			}
		}
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	t, err := h.surface.SubmitTask(r.Context(), req.Kind, req.Payload, maxRetries, req.ScheduledAt)
	if err != nil {
		var unrecognized *store.ErrUnrecognizedKind
		if errors.As(err, &unrecognized) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error().Err(err).Str("kind", req.Kind).Msg("failed to submit task")
		h.respondError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	logger.Info().Int64("task_id", t.ID).Str("kind", t.Kind).Msg("task submitted")
	h.respondJSON(w, http.StatusCreated, t)
}

// Get handles GET /api/v1/tasks/{taskID}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "task id must be numeric")
		return
	}

	t, err := h.surface.GetTask(r.Context(), id)
	if err != nil {
		if err == task.ErrTaskNotFound {
			h.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Int64("task_id", id).Msg("failed to get task")
		h.respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	h.respondJSON(w, http.StatusOK, t)
}

// Cancel handles DELETE /api/v1/tasks/{taskID}.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "task id must be numeric")
		return
	}

	if err := h.surface.Store.UpdateStatus(r.Context(), id, task.StateCancelled, store.UpdateOpts{}); err != nil {
		if err == task.ErrTaskNotFound {
			h.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		if err == task.ErrInvalidTransition {
			h.respondError(w, http.StatusConflict, "task cannot be cancelled in current state")
			return
		}
		logger.Error().Err(err).Int64("task_id", id).Msg("failed to cancel task")
		h.respondError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}

	t, err := h.surface.GetTask(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load cancelled task")
		return
	}

	logger.Info().Int64("task_id", id).Msg("task cancelled")
	h.respondJSON(w, http.StatusOK, t)
}

// List handles GET /api/v1/tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	tasks, err := h.surface.ListTasks(r.Context(), limit, offset)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"limit": limit,
		"offset": offset,
	})
}

// QueueStats handles GET /api/v1/tasks/queue/stats.
func (h *TaskHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.surface.QueueStats(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to get queue stats")
		h.respondError(w, http.StatusInternalServerError, "failed to get queue statistics")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// QueueCleanup handles POST /api/v1/tasks/queue/cleanup.
func (h *TaskHandler) QueueCleanup(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.surface.CleanupQueue(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to clean up queue")
		h.respondError(w, http.StatusInternalServerError, "failed to clean up queue")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "stale leases reclaimed",
		"reclaimed_ids": cleared,
	})
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

func parseTaskID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
