// Package dlq implements the Dead-Letter Queue (C5): a parking lot for
// permanently failed tasks, grounded on the original system's
// DeadLetterQueue (a dict keyed by task id, cutoff-time purge) and the
// teacher's queue/dlq.go, collapsed from a stream+set pair to a
// hash+sorted-set pair since a DLQ entry here is a single flat snapshot,
// not an event log.
package dlq

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is the DLQ snapshot of spec §3.
type Entry struct {
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

// DLQ is the C5 contract.
type DLQ interface {
	// Add inserts a snapshot keyed by task id.
	Add(ctx context.Context, e Entry) error
	// List returns entries, optionally filtered by kind.
	List(ctx context.Context, kind string) ([]Entry, error)
	// Pop atomically removes and returns the entry for id, or
	// (nil, nil) if absent. Atomic against a concurrent Purge.
	Pop(ctx context.Context, id int64) (*Entry, error)
	// Contains reports whether id currently has a DLQ entry.
	Contains(ctx context.Context, id int64) (bool, error)
	// Purge removes entries older than olderThanHours (optionally
	// filtered by kind), returning the count removed.
	Purge(ctx context.Context, kind string, olderThanHours int) (int, error)
	// Size returns the total number of entries.
	Size(ctx context.Context) (int64, error)
}
