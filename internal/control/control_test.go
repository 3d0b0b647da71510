package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/breaker"
	"github.com/taskmesh/taskmesh/internal/dlq"
	"github.com/taskmesh/taskmesh/internal/queue"
	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/task"
)

func newSurface(t *testing.T) *Surface {
	t.Helper()
	st := store.NewMemoryStore(store.NewKindSet("text_processing"))
	q := queue.NewMemoryQueue(queue.Config{LeaseTTL: time.Minute})
	brk := breaker.NewRegistry(breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Hour})
	d := dlq.NewMemoryDLQ()
	return New(st, q, brk, d, nil)
}

func TestSurface_SubmitTask_EnqueuesPending(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	tk, err := s.SubmitTask(ctx, "text_processing", []byte(`{}`), 3, nil)
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, tk.Status)

	size, _ := s.Queue.Size(ctx)
	assert.Equal(t, int64(1), size)
}

func TestSurface_SubmitTask_ScheduledDoesNotEnqueue(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)
	_, err := s.SubmitTask(ctx, "text_processing", nil, 3, &future)
	require.NoError(t, err)

	size, _ := s.Queue.Size(ctx)
	assert.Equal(t, int64(0), size)
}

func TestSurface_GetTask_And_ListTasks(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	created, err := s.SubmitTask(ctx, "text_processing", nil, 3, nil)
	require.NoError(t, err)

	got, err := s.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	all, err := s.ListTasks(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSurface_QueueStats(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	_, err := s.SubmitTask(ctx, "text_processing", nil, 3, nil)
	require.NoError(t, err)

	stats, err := s.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ReadyDepth)
	assert.Equal(t, int64(0), stats.InFlight)
}

func TestSurface_CleanupQueue_ReturnsReclaimedIDs(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	ids, err := s.CleanupQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSurface_Breakers_ResetAndSimulateFailure(t *testing.T) {
	s := newSurface(t)
	s.SimulateFailure("text_processing")
	s.SimulateFailure("text_processing")

	records := s.Breakers()
	require.Len(t, records, 1)
	assert.Equal(t, breaker.StateOpen, records[0].State)

	s.ResetBreaker("text_processing")
	records = s.Breakers()
	assert.Equal(t, breaker.StateClosed, records[0].State)
}

func TestSurface_DeadLetterLifecycle(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	tk, err := s.SubmitTask(ctx, "text_processing", []byte(`{"a":1}`), 0, nil)
	require.NoError(t, err)
	require.NoError(t, s.Store.UpdateStatus(ctx, tk.ID, task.StateRunning, store.UpdateOpts{}))
	require.NoError(t, s.Store.UpdateStatus(ctx, tk.ID, task.StateFailed, store.UpdateOpts{ErrorMessage: "boom"}))
	require.NoError(t, s.DLQ.Add(ctx, dlq.Entry{TaskID: tk.ID, Kind: tk.Kind, Payload: tk.Payload, FailedAt: time.Now()}))

	entries, err := s.ListDeadLetters(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, s.RetryDeadLetter(ctx, tk.ID))

	got, _ := s.GetTask(ctx, tk.ID)
	assert.Equal(t, task.StatePending, got.Status)

	size, _ := s.Queue.Size(ctx)
	assert.Equal(t, int64(1), size)

	ok, _ := s.DLQ.Contains(ctx, tk.ID)
	assert.False(t, ok)
}

func TestSurface_RetryDeadLetter_NotFound(t *testing.T) {
	s := newSurface(t)
	err := s.RetryDeadLetter(context.Background(), 999)
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestSurface_PurgeDeadLetters(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	old := time.Now().Add(-200 * time.Hour)
	require.NoError(t, s.DLQ.Add(ctx, dlq.Entry{TaskID: 1, Kind: "k", FailedAt: old}))

	count, err := s.PurgeDeadLetters(ctx, "", 168)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSurface_Stats_AggregatesAcrossComponents(t *testing.T) {
	s := newSurface(t)
	ctx := context.Background()
	s.SimulateFailure("k1")
	s.SimulateFailure("k1")
	require.NoError(t, s.DLQ.Add(ctx, dlq.Entry{TaskID: 1, Kind: "k1", FailedAt: time.Now()}))

	stats, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CircuitBreaker.Total)
	assert.Equal(t, 1, stats.CircuitBreaker.Open)
	assert.Equal(t, 1, stats.DeadLetter.Total)
	assert.Equal(t, 1, stats.DeadLetter.ByKind["k1"])
}
