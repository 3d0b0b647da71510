package task

import (
	"encoding/json"
	"time"
)

// Task is the durable record owned by the store (C1). Payload and Result
// are kept as opaque encoded blobs at this boundary; handlers decode them,
// the store never inspects their shape.
type Task struct {
	ID          int64           `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Status      State           `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`
}

// New constructs a Task in StatePending (or StateScheduled when
// scheduledAt is set), with retry_count=0 per spec §4.1 create().
func New(id int64, kind string, payload json.RawMessage, maxRetries int, scheduledAt *time.Time) *Task {
	now := time.Now().UTC()
	t := &Task{
		ID:         id,
		Kind:       kind,
		Payload:    payload,
		Status:     StatePending,
		RetryCount: 0,
		MaxRetries: maxRetries,
		CreatedAt:  now,
	}
	if scheduledAt != nil && scheduledAt.After(now) {
		t.Status = StateScheduled
		t.ScheduledAt = scheduledAt
	}
	return t
}

// CanRetry reports whether another attempt is permitted under the task's
// own cap, independent of breaker/classifier decisions (I3).
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// Clone returns a deep-enough copy safe to hand to callers without
// aliasing the store's internal state.
func (t *Task) Clone() *Task {
	c := *t
	if t.Payload != nil {
		c.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.ScheduledAt != nil {
		v := *t.ScheduledAt
		c.ScheduledAt = &v
	}
	return &c
}

func (t *Task) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

func FromJSON(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// StateMachine enforces the transition DAG and the timestamp rules of
// I1/I2/I4 on a single Task. It does not persist anything; the store
// wraps it with per-id serialization and durability.
type StateMachine struct {
	task *Task
}

func NewStateMachine(t *Task) *StateMachine {
	return &StateMachine{task: t}
}

func (sm *StateMachine) Transition(target State) error {
	if !sm.task.Status.CanTransitionTo(target) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	sm.task.Status = target
	switch target {
	case StateRunning:
		if sm.task.StartedAt == nil {
			sm.task.StartedAt = &now
		}
	case StateCompleted, StateFailed:
		sm.task.CompletedAt = &now
	}
	return nil
}

// Activate moves a Scheduled task to Pending once its due time arrives.
func (sm *StateMachine) Activate() error {
	if sm.task.Status != StateScheduled {
		return ErrInvalidTransition
	}
	sm.task.Status = StatePending
	sm.task.ScheduledAt = nil
	return nil
}

// Start marks the task Running and records the worker owning it (I4:
// started_at set on first Running transition, never cleared again).
func (sm *StateMachine) Start(workerID string) error {
	if err := sm.Transition(StateRunning); err != nil {
		return err
	}
	sm.task.WorkerID = workerID
	return nil
}

// Complete marks the task Completed with its result, clearing error
// fields per I1.
func (sm *StateMachine) Complete(result json.RawMessage) error {
	if err := sm.Transition(StateCompleted); err != nil {
		return err
	}
	sm.task.Result = result
	sm.task.ErrorMessage = ""
	sm.task.ErrorKind = ""
	return nil
}

// Fail marks the task Failed with the terminal error, per I2.
func (sm *StateMachine) Fail(errMessage, errKind string) error {
	if err := sm.Transition(StateFailed); err != nil {
		return err
	}
	sm.task.ErrorMessage = errMessage
	sm.task.ErrorKind = errKind
	return nil
}

// BumpRetry atomically increments retry_count and moves the task to
// Retrying; it fails once retry_count has reached max_retries (§4.1).
func (sm *StateMachine) BumpRetry() error {
	if sm.task.RetryCount >= sm.task.MaxRetries {
		return ErrInvalidTaskData
	}
	if err := sm.Transition(StateRetrying); err != nil {
		return err
	}
	sm.task.RetryCount++
	return nil
}

// Cancel marks the task Cancelled; only legal from Pending/Scheduled.
func (sm *StateMachine) Cancel() error {
	return sm.Transition(StateCancelled)
}

// Requeue resets a Failed task back to Pending with retry_count=0,
// implementing the DLQ round-trip of P7.
func (sm *StateMachine) Requeue() error {
	if err := sm.Transition(StatePending); err != nil {
		return err
	}
	sm.task.RetryCount = 0
	sm.task.ErrorMessage = ""
	sm.task.ErrorKind = ""
	sm.task.WorkerID = ""
	sm.task.StartedAt = nil
	sm.task.CompletedAt = nil
	return nil
}
