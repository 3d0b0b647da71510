// Package control implements the Control Surface (C8): transport-agnostic
// operations over the other seven components, grounded 1:1 on the
// original system's retry_management.py + tasks.py operation list and
// wired to HTTP by internal/api the way the teacher wires its own
// internal/api/handlers onto internal/worker and internal/queue.
package control

import (
	"context"
	"time"

	"github.com/taskmesh/taskmesh/internal/breaker"
	"github.com/taskmesh/taskmesh/internal/dlq"
	"github.com/taskmesh/taskmesh/internal/executor"
	"github.com/taskmesh/taskmesh/internal/queue"
	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/task"
)

// Surface bundles the component handles the control operations need.
type Surface struct {
	Store    store.Store
	Queue    queue.Queue
	Breakers *breaker.Registry
	DLQ      dlq.DLQ
	Executor *executor.Executor
}

func New(st store.Store, q queue.Queue, breakers *breaker.Registry, d dlq.DLQ, ex *executor.Executor) *Surface {
	return &Surface{Store: st, Queue: q, Breakers: breakers, DLQ: d, Executor: ex}
}

// QueueStats is the response shape of tasks.py's GET /queue/stats.
type QueueStats struct {
	ReadyDepth int64 `json:"ready_depth"`
	InFlight   int64 `json:"in_flight"`
}

func (s *Surface) QueueStats(ctx context.Context) (QueueStats, error) {
	depth, err := s.Queue.Size(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	inFlight, err := s.Queue.InFlightCount(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{ReadyDepth: depth, InFlight: inFlight}, nil
}

// CleanupQueue reclaims stale in-flight leases, mirroring tasks.py's
// POST /queue/cleanup. It returns the ids whose leases were cleared and
// does not re-enqueue them — cleanup here is purely the lease sweep. The
// worker recovery loop re-enqueues only the ids its own sweeps return,
// so ids cleared here are not re-enqueued by it either.
func (s *Surface) CleanupQueue(ctx context.Context) ([]int64, error) {
	return s.Queue.ReclaimStale(ctx)
}

// Breakers lists every known breaker's record, mirroring
// retry_management.py's GET /circuit-breakers.
func (s *Surface) Breakers() []breaker.Record {
	if s.Breakers == nil {
		return nil
	}
	return s.Breakers.List()
}

// ResetBreaker forces kind's breaker back to Closed, mirroring POST
// /circuit-breakers/{task_type}/reset.
func (s *Surface) ResetBreaker(kind string) {
	if s.Breakers != nil {
		s.Breakers.Reset(kind)
	}
}

// SimulateFailure records a synthetic failure against kind's breaker,
// mirroring POST /simulate-failure (a test hook for exercising the
// breaker without a real handler error).
func (s *Surface) SimulateFailure(kind string) {
	if s.Breakers != nil {
		s.Breakers.RecordFailure(kind)
	}
}

// ListDeadLetters mirrors GET /dead-letters.
func (s *Surface) ListDeadLetters(ctx context.Context, kind string) ([]dlq.Entry, error) {
	return s.DLQ.List(ctx, kind)
}

// RetryDeadLetter pops a DLQ entry, resets the task to Pending via
// Store.Requeue (P7), and re-enqueues it — mirroring POST
// /dead-letters/{task_id}/retry.
func (s *Surface) RetryDeadLetter(ctx context.Context, id int64) error {
	entry, err := s.DLQ.Pop(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return task.ErrTaskNotFound
	}
	if err := s.Store.Requeue(ctx, id); err != nil {
		return err
	}
	return s.Queue.Enqueue(ctx, queue.Envelope{ID: id, Kind: entry.Kind, Payload: entry.Payload})
}

// PurgeDeadLetters mirrors DELETE /dead-letters.
func (s *Surface) PurgeDeadLetters(ctx context.Context, kind string, olderThanHours int) (int, error) {
	return s.DLQ.Purge(ctx, kind, olderThanHours)
}

// RetryStats is the response shape of GET /stats: execution counters
// plus derived circuit-breaker and dead-letter summaries.
type RetryStats struct {
	Execution      executor.Stats        `json:"execution_stats"`
	CircuitBreaker CircuitBreakerSummary `json:"circuit_breaker_stats"`
	DeadLetter     DeadLetterSummary     `json:"dead_letter_stats"`
}

type CircuitBreakerSummary struct {
	Total    int `json:"total_circuit_breakers"`
	Open     int `json:"open_circuits"`
	HalfOpen int `json:"half_open_circuits"`
	Closed   int `json:"closed_circuits"`
}

type DeadLetterSummary struct {
	Total     int            `json:"total_dead_letters"`
	ByKind    map[string]int `json:"by_kind"`
}

func (s *Surface) Stats(ctx context.Context, dlqKind string) (RetryStats, error) {
	var out RetryStats
	if s.Executor != nil {
		out.Execution = s.Executor.Stats()
	}

	records := s.Breakers()
	out.CircuitBreaker.Total = len(records)
	for _, r := range records {
		switch r.State {
		case breaker.StateOpen:
			out.CircuitBreaker.Open++
		case breaker.StateHalfOpen:
			out.CircuitBreaker.HalfOpen++
		case breaker.StateClosed:
			out.CircuitBreaker.Closed++
		}
	}

	entries, err := s.DLQ.List(ctx, dlqKind)
	if err != nil {
		return out, err
	}
	out.DeadLetter.Total = len(entries)
	out.DeadLetter.ByKind = make(map[string]int)
	for _, e := range entries {
		out.DeadLetter.ByKind[e.Kind]++
	}
	return out, nil
}

// SubmitTask mirrors tasks.py's POST / (create_task).
func (s *Surface) SubmitTask(ctx context.Context, kind string, payload []byte, maxRetries int, scheduledAt *time.Time) (*task.Task, error) {
	t, err := s.Store.Create(ctx, kind, payload, maxRetries, scheduledAt)
	if err != nil {
		return nil, err
	}
	if t.Status == task.StatePending {
		if err := s.Queue.Enqueue(ctx, queue.Envelope{ID: t.ID, Kind: t.Kind, Payload: t.Payload}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// GetTask mirrors GET /{task_id}.
func (s *Surface) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	return s.Store.Get(ctx, id)
}

// ListTasks mirrors GET / (list_tasks).
func (s *Surface) ListTasks(ctx context.Context, limit, offset int) ([]*task.Task, error) {
	return s.Store.List(ctx, limit, offset)
}
