// Package store implements the Task Store (C1): the durable, per-id
// serialized source of truth for task status, retries, timestamps,
// payload and result. Two implementations share the Store interface —
// a Redis-backed one for production and an in-memory one for tests and
// for running without Redis, collapsing the teacher's two
// coexisting-backend problem into one abstraction per the design notes.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/taskmesh/taskmesh/internal/task"
)

// UpdateOpts carries the optional fields of update_status (§4.1).
type UpdateOpts struct {
	Result       json.RawMessage
	ErrorMessage string
	ErrorKind    string
}

// Store is the C1 contract. All writes for a given id serialize; readers
// see committed state.
type Store interface {
	// Create assigns an id and persists a new task in Pending (or
	// Scheduled, if scheduledAt is in the future). Returns
	// ErrUnrecognizedKind if kind is not in the recognized set.
	Create(ctx context.Context, kind string, payload json.RawMessage, maxRetries int, scheduledAt *time.Time) (*task.Task, error)
	// Get returns a copy of the task, or ErrNotFound.
	Get(ctx context.Context, id int64) (*task.Task, error)
	// UpdateStatus applies a state transition with the I1/I2/I4
	// timestamp rules, rejecting illegal transitions with
	// task.ErrInvalidTransition. Idempotent for an identical repeat.
	UpdateStatus(ctx context.Context, id int64, status task.State, opts UpdateOpts) error
	// BumpRetry atomically increments retry_count and moves the task to
	// Retrying; fails if retry_count has reached max_retries.
	BumpRetry(ctx context.Context, id int64) error
	// Activate moves a Scheduled task whose due time has arrived to
	// Pending (supplemental — scheduled submission).
	Activate(ctx context.Context, id int64) error
	// Requeue resets a Failed task to Pending, retry_count=0 (DLQ
	// round-trip, P7).
	Requeue(ctx context.Context, id int64) error
	// List returns a paginated, id-ascending snapshot.
	List(ctx context.Context, limit, offset int) ([]*task.Task, error)
	// DueScheduled returns the ids of Scheduled tasks whose due time has
	// passed asOf.
	DueScheduled(ctx context.Context, asOf time.Time) ([]int64, error)
}

// ErrUnrecognizedKind classifies a submit against an unknown kind
// (maps to apperr.KindValidation at the transport boundary).
type ErrUnrecognizedKind struct{ Kind string }

func (e *ErrUnrecognizedKind) Error() string { return "unrecognized task kind: " + e.Kind }

// ErrNotFound is returned by Get/UpdateStatus/BumpRetry/Requeue/Activate
// when no task exists for the given id.
var ErrNotFound = task.ErrTaskNotFound

// KindSet is the closed, configurable set of recognized kinds (§6).
type KindSet map[string]struct{}

func NewKindSet(kinds ...string) KindSet {
	s := make(KindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

func (s KindSet) Recognized(kind string) bool {
	_, ok := s[kind]
	return ok
}
