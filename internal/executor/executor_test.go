package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/apperr"
	"github.com/taskmesh/taskmesh/internal/breaker"
	"github.com/taskmesh/taskmesh/internal/dlq"
	"github.com/taskmesh/taskmesh/internal/queue"
	"github.com/taskmesh/taskmesh/internal/retrypolicy"
	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/task"
)

type harness struct {
	st  *store.MemoryStore
	q   *queue.MemoryQueue
	dl  *dlq.MemoryDLQ
	dq  *queue.MemoryDelayQueue
	brk *breaker.Registry
	ex  *Executor
}

func newHarness(t *testing.T, threshold int) *harness {
	t.Helper()
	st := store.NewMemoryStore(store.NewKindSet("text_processing"))
	q := queue.NewMemoryQueue(queue.Config{LeaseTTL: time.Minute})
	dl := dlq.NewMemoryDLQ()
	dq := queue.NewMemoryDelayQueue()
	brk := breaker.NewRegistry(breaker.Config{FailureThreshold: threshold, RecoveryTimeout: time.Hour})
	re := retrypolicy.NewEngine(retrypolicy.Config{BaseDelay: time.Millisecond}, brk, apperr.DefaultClassifier)

	ex := New(Config{
		Store:      st,
		Queue:      q,
		Breakers:   brk,
		Retry:      re,
		DLQ:        dl,
		Delay:      dq,
		Classifier: apperr.DefaultClassifier,
	})
	return &harness{st: st, q: q, dl: dl, dq: dq, brk: brk, ex: ex}
}

func (h *harness) submit(t *testing.T, maxRetries int) *task.Task {
	t.Helper()
	tk, err := h.st.Create(context.Background(), "text_processing", []byte(`{}`), maxRetries, nil)
	require.NoError(t, err)
	return tk
}

func TestExecutor_Execute_Success(t *testing.T) {
	h := newHarness(t, 5)
	tk := h.submit(t, 3)
	h.ex.RegisterHandler("text_processing", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return []byte(`{"ok":true}`), nil
	})

	require.NoError(t, h.ex.Execute(context.Background(), queue.Envelope{ID: tk.ID, Kind: tk.Kind}))

	got, _ := h.st.Get(context.Background(), tk.ID)
	assert.Equal(t, task.StateCompleted, got.Status)
	assert.Equal(t, int64(1), h.ex.Stats().Successful)
}

func TestExecutor_Execute_MissingTaskAcksAndDrops(t *testing.T) {
	h := newHarness(t, 5)
	require.NoError(t, h.q.Enqueue(context.Background(), queue.Envelope{ID: 999}))
	require.NoError(t, h.ex.Execute(context.Background(), queue.Envelope{ID: 999}))
	inFlight, _ := h.q.InFlightCount(context.Background())
	assert.Equal(t, int64(0), inFlight)
}

// P6: a task already terminal is acked without being re-executed or
// re-recorded against the counters beyond total_executed.
func TestExecutor_Execute_DedupOnTerminal(t *testing.T) {
	h := newHarness(t, 5)
	tk := h.submit(t, 3)
	calls := 0
	h.ex.RegisterHandler("text_processing", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		calls++
		return []byte(`{}`), nil
	})

	ctx := context.Background()
	require.NoError(t, h.ex.Execute(ctx, queue.Envelope{ID: tk.ID, Kind: tk.Kind}))
	require.NoError(t, h.ex.Execute(ctx, queue.Envelope{ID: tk.ID, Kind: tk.Kind}))

	assert.Equal(t, 1, calls, "handler must not run twice for an already-terminal task")
	assert.Equal(t, int64(1), h.ex.Stats().Successful)
	assert.Equal(t, int64(2), h.ex.Stats().TotalExecuted)
}

func TestExecutor_Execute_NoHandlerFailsTerminally(t *testing.T) {
	h := newHarness(t, 5)
	tk := h.submit(t, 3)
	require.NoError(t, h.ex.Execute(context.Background(), queue.Envelope{ID: tk.ID, Kind: tk.Kind}))

	got, _ := h.st.Get(context.Background(), tk.ID)
	assert.Equal(t, task.StateFailed, got.Status)
	ok, _ := h.dl.Contains(context.Background(), tk.ID)
	assert.True(t, ok)
}

// RETRYING must be durable before the retry timer is armed: simulate by
// checking store state immediately after a failing execution.
func TestExecutor_Execute_RetryingWrittenBeforeTimerArmed(t *testing.T) {
	h := newHarness(t, 5)
	tk := h.submit(t, 3)
	h.ex.RegisterHandler("text_processing", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return nil, apperr.New(apperr.KindTransientNetwork, errors.New("timeout"))
	})

	require.NoError(t, h.ex.Execute(context.Background(), queue.Envelope{ID: tk.ID, Kind: tk.Kind}))

	got, _ := h.st.Get(context.Background(), tk.ID)
	assert.Equal(t, task.StateRetrying, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	due, err := h.dq.PopDue(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []int64{tk.ID}, due)
}

func TestExecutor_Execute_RetryExhaustionRoutesToDLQ(t *testing.T) {
	h := newHarness(t, 5)
	tk := h.submit(t, 0) // no retries allowed
	h.ex.RegisterHandler("text_processing", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return nil, apperr.New(apperr.KindTransientNetwork, errors.New("timeout"))
	})

	require.NoError(t, h.ex.Execute(context.Background(), queue.Envelope{ID: tk.ID, Kind: tk.Kind}))

	got, _ := h.st.Get(context.Background(), tk.ID)
	assert.Equal(t, task.StateFailed, got.Status)
	ok, _ := h.dl.Contains(context.Background(), tk.ID)
	assert.True(t, ok)
}

func TestExecutor_Execute_RecordsBreakerFailure(t *testing.T) {
	h := newHarness(t, 1)
	tk := h.submit(t, 0)
	h.ex.RegisterHandler("text_processing", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return nil, apperr.Validation("bad input")
	})
	require.NoError(t, h.ex.Execute(context.Background(), queue.Envelope{ID: tk.ID, Kind: tk.Kind}))

	assert.False(t, h.brk.Allow("text_processing"))
}

func TestExecutor_ReenqueueDue_RebuildsEnvelopeForRetrying(t *testing.T) {
	h := newHarness(t, 5)
	tk := h.submit(t, 3)
	require.NoError(t, h.st.UpdateStatus(context.Background(), tk.ID, task.StateRunning, store.UpdateOpts{}))
	require.NoError(t, h.st.BumpRetry(context.Background(), tk.ID))

	h.ex.ReenqueueDue(context.Background(), tk.ID)

	size, _ := h.q.Size(context.Background())
	assert.Equal(t, int64(1), size)
}

func TestExecutor_ReenqueueDue_SkipsNonRetryingTask(t *testing.T) {
	h := newHarness(t, 5)
	tk := h.submit(t, 3)
	h.ex.ReenqueueDue(context.Background(), tk.ID) // still Pending
	size, _ := h.q.Size(context.Background())
	assert.Equal(t, int64(0), size)
}

func TestExecutor_Stats_DerivedRates(t *testing.T) {
	h := newHarness(t, 5)
	tk := h.submit(t, 3)
	h.ex.RegisterHandler("text_processing", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return []byte(`{}`), nil
	})
	require.NoError(t, h.ex.Execute(context.Background(), queue.Envelope{ID: tk.ID, Kind: tk.Kind}))

	stats := h.ex.Stats()
	assert.Equal(t, float64(100), stats.SuccessRate)
	assert.Equal(t, float64(0), stats.FailureRate)
}

func TestExecutor_Stats_ZeroExecutedNoDivideByZero(t *testing.T) {
	h := newHarness(t, 5)
	stats := h.ex.Stats()
	assert.Equal(t, float64(0), stats.SuccessRate)
}
