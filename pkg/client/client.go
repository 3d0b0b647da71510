package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RequestEditorFn lets an Option mutate an outgoing request before it is
// sent, e.g. to attach a header.
type RequestEditorFn func(ctx context.Context, req *http.Request) error

// Client is a thin HTTP wrapper over the control-surface API exposed by
// internal/api: task submission/lookup, queue stats, circuit-breaker
// administration and the dead-letter queue, plus a WebSocket event feed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	editor     RequestEditorFn
	ws         *WebSocketClient
}

// New creates a Client pointed at baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("client: baseURL is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: o.httpClient,
		editor:     o.applyHeaders(),
	}, nil
}

// TaskResponse mirrors the JSON shape of internal/task.Task as rendered
// by the API, kept separate so the SDK has no compile-time dependency on
// internal packages.
type TaskResponse struct {
	ID           int64           `json:"id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ScheduledAt  *time.Time      `json:"scheduled_at,omitempty"`
	WorkerID     string          `json:"worker_id,omitempty"`
}

// CreateTaskRequest is the POST /api/v1/tasks body.
type CreateTaskRequest struct {
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	MaxRetries  int             `json:"max_retries,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
}

// QueueStats mirrors control.QueueStats.
type QueueStats struct {
	ReadyDepth int64 `json:"ready_depth"`
	InFlight   int64 `json:"in_flight"`
}

// BreakerRecord mirrors breaker.Record.
type BreakerRecord struct {
	Kind          string     `json:"kind"`
	State         int        `json:"state"`
	Failures      int        `json:"failures"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

// DeadLetterEntry mirrors dlq.Entry.
type DeadLetterEntry struct {
	TaskID       int64           `json:"task_id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	ErrorMessage string          `json:"error_message"`
	ErrorKind    string          `json:"error_kind"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	CreatedAt    time.Time       `json:"created_at"`
	FailedAt     time.Time       `json:"failed_at"`
}

// RetryStats mirrors control.RetryStats.
type RetryStats struct {
	Execution      json.RawMessage `json:"execution_stats"`
	CircuitBreaker struct {
		Total    int `json:"total_circuit_breakers"`
		Open     int `json:"open_circuits"`
		HalfOpen int `json:"half_open_circuits"`
		Closed   int `json:"closed_circuits"`
	} `json:"circuit_breaker_stats"`
	DeadLetter struct {
		Total  int            `json:"total_dead_letters"`
		ByKind map[string]int `json:"by_kind"`
	} `json:"dead_letter_stats"`
}

// apiError is the shape handlers.ErrorResponse serializes on failure.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SubmitTask issues POST /api/v1/tasks.
func (c *Client) SubmitTask(ctx context.Context, req CreateTaskRequest) (*TaskResponse, error) {
	var out TaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", req, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTaskByID issues GET /api/v1/tasks/{id}.
func (c *Client) GetTaskByID(ctx context.Context, taskID int64) (*TaskResponse, error) {
	var out TaskResponse
	path := "/api/v1/tasks/" + strconv.FormatInt(taskID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelTaskByID issues DELETE /api/v1/tasks/{id}.
func (c *Client) CancelTaskByID(ctx context.Context, taskID int64) (*TaskResponse, error) {
	var out TaskResponse
	path := "/api/v1/tasks/" + strconv.FormatInt(taskID, 10)
	if err := c.do(ctx, http.MethodDelete, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks issues GET /api/v1/tasks.
func (c *Client) ListTasks(ctx context.Context, limit, offset int) ([]*TaskResponse, error) {
	path := fmt.Sprintf("/api/v1/tasks?limit=%d&offset=%d", limit, offset)
	var out struct {
		Tasks []*TaskResponse `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// GetQueueStatistics issues GET /api/v1/tasks/queue/stats.
func (c *Client) GetQueueStatistics(ctx context.Context) (*QueueStats, error) {
	var out QueueStats
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/queue/stats", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CleanupQueue issues POST /api/v1/tasks/queue/cleanup, returning the ids
// whose in-flight leases were cleared.
func (c *Client) CleanupQueue(ctx context.Context) ([]int64, error) {
	var out struct {
		ReclaimedIDs []int64 `json:"reclaimed_ids"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/queue/cleanup", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.ReclaimedIDs, nil
}

// ListBreakers issues GET /admin/circuit-breakers.
func (c *Client) ListBreakers(ctx context.Context) ([]BreakerRecord, error) {
	var out []BreakerRecord
	if err := c.do(ctx, http.MethodGet, "/admin/circuit-breakers", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResetBreaker issues POST /admin/circuit-breakers/{kind}/reset.
func (c *Client) ResetBreaker(ctx context.Context, kind string) error {
	path := "/admin/circuit-breakers/" + url.PathEscape(kind) + "/reset"
	return c.do(ctx, http.MethodPost, path, nil, http.StatusOK, nil)
}

// SimulateFailure issues POST /admin/simulate-failure, a test hook for
// tripping a kind's breaker without a real handler error.
func (c *Client) SimulateFailure(ctx context.Context, kind string) error {
	body := map[string]string{"kind": kind}
	return c.do(ctx, http.MethodPost, "/admin/simulate-failure", body, http.StatusOK, nil)
}

// ListDeadLetters issues GET /admin/dead-letters, optionally filtered by kind.
func (c *Client) ListDeadLetters(ctx context.Context, kind string) ([]DeadLetterEntry, error) {
	path := "/admin/dead-letters"
	if kind != "" {
		path += "?kind=" + url.QueryEscape(kind)
	}
	var out []DeadLetterEntry
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RetryDeadLetter issues POST /admin/dead-letters/{taskID}/retry.
func (c *Client) RetryDeadLetter(ctx context.Context, taskID int64) error {
	path := "/admin/dead-letters/" + strconv.FormatInt(taskID, 10) + "/retry"
	return c.do(ctx, http.MethodPost, path, nil, http.StatusOK, nil)
}

// PurgeDeadLetters issues DELETE /admin/dead-letters.
func (c *Client) PurgeDeadLetters(ctx context.Context, kind string, olderThanHours int) error {
	path := fmt.Sprintf("/admin/dead-letters?kind=%s&older_than_hours=%d", url.QueryEscape(kind), olderThanHours)
	return c.do(ctx, http.MethodDelete, path, nil, http.StatusOK, nil)
}

// Stats issues GET /admin/stats.
func (c *Client) Stats(ctx context.Context, dlqKind string) (*RetryStats, error) {
	path := "/admin/stats"
	if dlqKind != "" {
		path += "?kind=" + url.QueryEscape(dlqKind)
	}
	var out RetryStats
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConnectWebSocket establishes a WebSocket connection for real-time events.
func (c *Client) ConnectWebSocket(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL)
	return c.ws.Connect(ctx)
}

// Events returns a channel that receives WebSocket events. Call
// ConnectWebSocket first; an unconnected client returns a closed channel.
func (c *Client) Events() <-chan *Event {
	if c.ws == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket closes the WebSocket connection.
func (c *Client) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// SubscribeEvents subscribes to specific event types over an existing
// WebSocket connection.
func (c *Client) SubscribeEvents(eventTypes ...EventType) error {
	if c.ws == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.ws.Subscribe(eventTypes...)
}

// do issues an HTTP request against path, JSON-encoding body when present
// and JSON-decoding the response into out when status matches wantStatus.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, wantStatus int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.editor != nil {
		if err := c.editor(ctx, req); err != nil {
			return fmt.Errorf("apply request options: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s (status %d)", apiErr.Error, apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
