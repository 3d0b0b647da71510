package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/internal/apperr"
	"github.com/taskmesh/taskmesh/internal/breaker"
	"github.com/taskmesh/taskmesh/internal/executor"
	"github.com/taskmesh/taskmesh/internal/queue"
	"github.com/taskmesh/taskmesh/internal/retrypolicy"
	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/task"
)

func newPoolHarness(t *testing.T) (*Pool, *store.MemoryStore, *queue.MemoryQueue) {
	t.Helper()
	st := store.NewMemoryStore(store.NewKindSet("text_processing"))
	q := queue.NewMemoryQueue(queue.Config{LeaseTTL: 30 * time.Millisecond})
	brk := breaker.NewRegistry(breaker.Config{FailureThreshold: 100, RecoveryTimeout: time.Hour})
	re := retrypolicy.NewEngine(retrypolicy.Config{BaseDelay: time.Millisecond}, brk, apperr.DefaultClassifier)
	ex := executor.New(executor.Config{Store: st, Queue: q, Breakers: brk, Retry: re, Classifier: apperr.DefaultClassifier})
	ex.RegisterHandler("text_processing", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return []byte(`{}`), nil
	})

	pool := NewPool(Config{
		Concurrency:      2,
		PopTimeout:       20 * time.Millisecond,
		RecoveryInterval: 10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	}, q, st, ex, nil)
	return pool, st, q
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "busy", StateBusy.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestNewPool_GeneratesIDWhenEmpty(t *testing.T) {
	pool, _, _ := newPoolHarness(t)
	assert.Contains(t, pool.ID(), "worker-")
}

func TestNewPool_DefaultsAppliedForZeroConfig(t *testing.T) {
	pool := NewPool(Config{}, nil, nil, nil, nil)
	assert.Equal(t, 1, pool.cfg.Concurrency)
	assert.Equal(t, 5*time.Second, pool.cfg.PopTimeout)
	assert.Equal(t, 10*time.Second, pool.cfg.RecoveryInterval)
}

func TestPool_ProcessesEnqueuedTaskToCompletion(t *testing.T) {
	pool, st, q := newPoolHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk, err := st.Create(ctx, "text_processing", []byte(`{}`), 3, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, queue.Envelope{ID: tk.ID, Kind: tk.Kind}))

	pool.Start(ctx)
	defer pool.Stop(context.Background())

	require.Eventually(t, func() bool {
		got, err := st.Get(ctx, tk.ID)
		return err == nil && got.Status == task.StateCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestPool_ActiveTasksZeroBeforeStart(t *testing.T) {
	pool, _, _ := newPoolHarness(t)
	assert.Equal(t, 0, pool.ActiveTasks())
}

func TestPool_Reclaim_RequeuesOrphanedRunningTask(t *testing.T) {
	pool, st, q := newPoolHarness(t)
	ctx := context.Background()

	tk, err := st.Create(ctx, "text_processing", []byte(`{}`), 3, nil)
	require.NoError(t, err)
	require.NoError(t, st.UpdateStatus(ctx, tk.ID, task.StateRunning, store.UpdateOpts{}))
	require.NoError(t, q.Enqueue(ctx, queue.Envelope{ID: tk.ID, Kind: tk.Kind}))
	_, err = q.Pop(ctx, time.Second) // simulate a worker picking it up, then crashing
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond) // exceed the 30ms lease TTL

	pool.reclaim(ctx)

	size, _ := q.Size(ctx)
	assert.Equal(t, int64(1), size)
}

func TestPool_Reclaim_SkipsAlreadyTerminalTask(t *testing.T) {
	pool, st, q := newPoolHarness(t)
	ctx := context.Background()

	tk, err := st.Create(ctx, "text_processing", []byte(`{}`), 3, nil)
	require.NoError(t, err)
	require.NoError(t, st.UpdateStatus(ctx, tk.ID, task.StateRunning, store.UpdateOpts{}))
	require.NoError(t, q.Enqueue(ctx, queue.Envelope{ID: tk.ID, Kind: tk.Kind}))
	_, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, st.UpdateStatus(ctx, tk.ID, task.StateCompleted, store.UpdateOpts{}))

	time.Sleep(40 * time.Millisecond)
	pool.reclaim(ctx)

	size, _ := q.Size(ctx)
	assert.Equal(t, int64(0), size)
}
