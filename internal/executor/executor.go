// Package executor implements the Task Executor (C6): the coordinator of
// one job's lifecycle, grounded on the teacher's worker/executor.go +
// worker/pool.go (handleTaskSuccess/handleTaskFailure) and the original
// system's enhanced_task_executor.py (execute_task's success/failure
// branching and process-local execution_stats counters).
package executor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskmesh/taskmesh/internal/apperr"
	"github.com/taskmesh/taskmesh/internal/breaker"
	"github.com/taskmesh/taskmesh/internal/dlq"
	"github.com/taskmesh/taskmesh/internal/events"
	"github.com/taskmesh/taskmesh/internal/queue"
	"github.com/taskmesh/taskmesh/internal/retrypolicy"
	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/task"
)

// Handler is a pure function from payload to a result value or an error.
// Concrete workloads (text transform, summarization, batch map, image
// processing) are out of scope here; they are plugged in by the process
// composing the Executor.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Counters are the process-local execution counters of §4.6.
type Counters struct {
	TotalExecuted int64 `json:"total_executed"`
	Successful    int64 `json:"successful"`
	Failed        int64 `json:"failed"`
	Retried       int64 `json:"retried"`
}

// Stats adds the derived rates of §4.6.
type Stats struct {
	Counters
	SuccessRate float64 `json:"success_rate,omitempty"`
	FailureRate float64 `json:"failure_rate,omitempty"`
	RetryRate   float64 `json:"retry_rate,omitempty"`
}

// Executor is the C6 component.
type Executor struct {
	store      store.Store
	queue      queue.Queue
	breakers   *breaker.Registry
	retry      *retrypolicy.Engine
	dlq        dlq.DLQ
	delay      queue.DelayQueue
	classifier apperr.Classifier
	publisher  events.Publisher
	logger     zerolog.Logger

	handlers map[string]Handler

	totalExecuted atomic.Int64
	successful    atomic.Int64
	failed        atomic.Int64
	retried       atomic.Int64
}

type Config struct {
	Store      store.Store
	Queue      queue.Queue
	Breakers   *breaker.Registry
	Retry      *retrypolicy.Engine
	DLQ        dlq.DLQ
	Delay      queue.DelayQueue
	Classifier apperr.Classifier
	Publisher  events.Publisher
	Logger     zerolog.Logger
}

func New(cfg Config) *Executor {
	if cfg.Classifier == nil {
		cfg.Classifier = apperr.DefaultClassifier
	}
	return &Executor{
		store:      cfg.Store,
		queue:      cfg.Queue,
		breakers:   cfg.Breakers,
		retry:      cfg.Retry,
		dlq:        cfg.DLQ,
		delay:      cfg.Delay,
		classifier: cfg.Classifier,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger,
		handlers:   make(map[string]Handler),
	}
}

// RegisterHandler plugs a black-box handler in for a kind.
func (e *Executor) RegisterHandler(kind string, h Handler) {
	e.handlers[kind] = h
}

func (e *Executor) publish(ctx context.Context, evtType events.EventType, data map[string]interface{}) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, events.NewEvent(evtType, data)); err != nil {
		e.logger.Debug().Err(err).Msg("event publish failed")
	}
}

// Execute runs one job lifecycle for envelope env, per §4.6.
func (e *Executor) Execute(ctx context.Context, env queue.Envelope) error {
	e.totalExecuted.Add(1)

	t, err := e.store.Get(ctx, env.ID)
	if err != nil {
		// Step 1: absent task — log and ack (drop).
		e.logger.Warn().Int64("task_id", env.ID).Err(err).Msg("executor: task missing, dropping envelope")
		return e.queue.Ack(ctx, env.ID)
	}

	// §5 at-least-once pre-check: a task already terminal means a prior
	// delivery already finished it. Ack without re-executing or
	// re-recording breaker/counters beyond total_executed (P6).
	if t.Status == task.StateCompleted || t.Status == task.StateFailed || t.Status == task.StateCancelled {
		return e.queue.Ack(ctx, env.ID)
	}

	if err := e.store.UpdateStatus(ctx, t.ID, task.StateRunning, store.UpdateOpts{}); err != nil {
		if err == task.ErrInvalidTransition {
			// Another actor already finalized the task: treat as a
			// successful dispatch, don't double-record breaker events.
			return e.queue.Ack(ctx, env.ID)
		}
		return err
	}

	handler, ok := e.handlers[t.Kind]
	if !ok {
		return e.fail(ctx, t, apperr.Validation("no handler registered for kind "+t.Kind))
	}

	result, runErr := handler(ctx, t.Payload)
	if runErr != nil {
		return e.failAttempt(ctx, t, runErr)
	}

	if err := e.store.UpdateStatus(ctx, t.ID, task.StateCompleted, store.UpdateOpts{Result: result}); err != nil {
		if err == task.ErrInvalidTransition {
			return e.queue.Ack(ctx, env.ID)
		}
		return err
	}
	if e.breakers != nil {
		e.breakers.RecordSuccess(t.Kind)
	}
	e.successful.Add(1)
	e.publish(ctx, events.EventTaskCompleted, events.TaskEventData(t.ID, t.Kind, nil))
	return e.queue.Ack(ctx, env.ID)
}

// failAttempt handles a handler-raised error per §4.6 step 5: record the
// breaker observation, consult the retry engine, and either arm a retry
// or route the task to the dead-letter queue.
func (e *Executor) failAttempt(ctx context.Context, t *task.Task, runErr error) error {
	if e.breakers != nil {
		e.breakers.RecordFailure(t.Kind)
	}

	retry, delay := false, time.Duration(0)
	if e.retry != nil {
		retry, delay = e.retry.ShouldRetry(t, runErr)
	}

	if retry {
		if err := e.store.BumpRetry(ctx, t.ID); err != nil && err != task.ErrInvalidTaskData {
			return err
		}
		// RETRYING is written before the timer is armed (resolves the
		// design notes' ordering ambiguity).
		if e.delay != nil {
			if err := e.delay.Schedule(ctx, t.ID, time.Now().UTC().Add(delay)); err != nil {
				e.logger.Error().Err(err).Int64("task_id", t.ID).Msg("executor: failed to arm retry timer")
			}
		}
		e.retried.Add(1)
		e.publish(ctx, events.EventTaskRetrying, events.TaskEventData(t.ID, t.Kind, map[string]interface{}{"delay_seconds": delay.Seconds()}))
		return e.queue.Ack(ctx, t.ID)
	}

	return e.fail(ctx, t, runErr)
}

// fail is the terminal-failure path shared by the handler-missing and
// no-retry branches: FAILED + DLQ insert.
func (e *Executor) fail(ctx context.Context, t *task.Task, runErr error) error {
	kind := e.classifier.Classify(runErr)
	if err := e.store.UpdateStatus(ctx, t.ID, task.StateFailed, store.UpdateOpts{
		ErrorMessage: runErr.Error(),
		ErrorKind:    string(kind),
	}); err != nil {
		if err == task.ErrInvalidTransition {
			return e.queue.Ack(ctx, t.ID)
		}
		return err
	}
	if e.dlq != nil {
		_ = e.dlq.Add(ctx, dlq.Entry{
			TaskID:       t.ID,
			Kind:         t.Kind,
			Payload:      t.Payload,
			ErrorMessage: runErr.Error(),
			ErrorKind:    string(kind),
			RetryCount:   t.RetryCount,
			MaxRetries:   t.MaxRetries,
			CreatedAt:    t.CreatedAt,
			FailedAt:     time.Now().UTC(),
		})
	}
	e.failed.Add(1)
	e.publish(ctx, events.EventTaskFailed, events.TaskEventData(t.ID, t.Kind, map[string]interface{}{"error_kind": string(kind)}))
	return e.queue.Ack(ctx, t.ID)
}

// ReenqueueDue is the Scheduler callback for a fired retry timer: it
// rebuilds a fresh envelope for the id and enqueues it through C2, the
// "deferred task that, after delay seconds, calls C2.enqueue" of §4.6.
func (e *Executor) ReenqueueDue(ctx context.Context, id int64) {
	t, err := e.store.Get(ctx, id)
	if err != nil {
		e.logger.Warn().Int64("task_id", id).Err(err).Msg("executor: retry timer fired for missing task")
		return
	}
	if t.Status != task.StateRetrying {
		return
	}
	env := queue.Envelope{ID: t.ID, Kind: t.Kind, Payload: t.Payload}
	if err := e.queue.Enqueue(ctx, env); err != nil {
		e.logger.Error().Err(err).Int64("task_id", id).Msg("executor: failed to re-enqueue retrying task")
	}
}

// Stats returns the execution counters and derived rates of §4.6.
func (e *Executor) Stats() Stats {
	c := Counters{
		TotalExecuted: e.totalExecuted.Load(),
		Successful:    e.successful.Load(),
		Failed:        e.failed.Load(),
		Retried:       e.retried.Load(),
	}
	s := Stats{Counters: c}
	if c.TotalExecuted > 0 {
		total := float64(c.TotalExecuted)
		s.SuccessRate = float64(c.Successful) / total * 100
		s.FailureRate = float64(c.Failed) / total * 100
		s.RetryRate = float64(c.Retried) / total * 100
	}
	return s
}
