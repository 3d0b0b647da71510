package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdminHandler() *AdminHandler {
	return NewAdminHandler(newTestSurface())
}

func TestAdminHandler_respondJSON(t *testing.T) {
	h := &AdminHandler{}

	w := httptest.NewRecorder()
	data := map[string]string{"status": "ok"}

	h.respondJSON(w, http.StatusOK, data)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
}

func TestAdminHandler_respondError(t *testing.T) {
	h := &AdminHandler{}

	w := httptest.NewRecorder()
	h.respondError(w, http.StatusNotFound, "task not found")

	assert.Equal(t, http.StatusNotFound, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "Not Found", response["error"])
	assert.Equal(t, "task not found", response["message"])
}

func TestAdminHandler_ListBreakers_Empty(t *testing.T) {
	h := newTestAdminHandler()

	req := httptest.NewRequest(http.MethodGet, "/admin/circuit-breakers", nil)
	w := httptest.NewRecorder()

	h.ListBreakers(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var records []map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &records)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAdminHandler_ResetBreaker_MissingKind(t *testing.T) {
	h := newTestAdminHandler()

	req := httptest.NewRequest(http.MethodPost, "/admin/circuit-breakers//reset", nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("kind", "")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.ResetBreaker(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_ResetBreaker_Success(t *testing.T) {
	h := newTestAdminHandler()

	req := httptest.NewRequest(http.MethodPost, "/admin/circuit-breakers/text_processing/reset", nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("kind", "text_processing")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.ResetBreaker(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminHandler_SimulateFailure_MissingKind(t *testing.T) {
	h := newTestAdminHandler()

	req := httptest.NewRequest(http.MethodPost, "/admin/simulate-failure", nil)
	w := httptest.NewRecorder()

	h.SimulateFailure(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_ListDeadLetters_Empty(t *testing.T) {
	h := newTestAdminHandler()

	req := httptest.NewRequest(http.MethodGet, "/admin/dead-letters", nil)
	w := httptest.NewRecorder()

	h.ListDeadLetters(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var entries []map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &entries)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdminHandler_RetryDeadLetter_InvalidID(t *testing.T) {
	h := newTestAdminHandler()

	req := httptest.NewRequest(http.MethodPost, "/admin/dead-letters/abc/retry", nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("taskID", "abc")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.RetryDeadLetter(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_RetryDeadLetter_NotFound(t *testing.T) {
	h := newTestAdminHandler()

	req := httptest.NewRequest(http.MethodPost, "/admin/dead-letters/999/retry", nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("taskID", "999")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.RetryDeadLetter(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandler_PurgeDeadLetters_Default(t *testing.T) {
	h := newTestAdminHandler()

	req := httptest.NewRequest(http.MethodDelete, "/admin/dead-letters", nil)
	w := httptest.NewRecorder()

	h.PurgeDeadLetters(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminHandler_Stats(t *testing.T) {
	h := newTestAdminHandler()

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	w := httptest.NewRecorder()

	h.Stats(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var stats RetryStatsResponse
	err := json.Unmarshal(w.Body.Bytes(), &stats)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.CircuitBreaker.Total)
}

// RetryStatsResponse decodes only the circuit_breaker_stats part of the
// control.RetryStats JSON, which is all the test above asserts on.
type RetryStatsResponse struct {
	CircuitBreaker struct {
		Total int `json:"total_circuit_breakers"`
	} `json:"circuit_breaker_stats"`
}
