package queue

import (
	"context"
	"sync"
	"time"
)

type leaseEntry struct {
	env      Envelope
	deadline time.Time // zero means "no TTL set"
}

// MemoryQueue is an in-process Queue, the in-memory analogue of
// RedisQueue for tests and for running without Redis.
type MemoryQueue struct {
	cfg Config

	mu       sync.Mutex
	ready    []Envelope
	inFlight map[int64]*leaseEntry
	notify   chan struct{}
}

func NewMemoryQueue(cfg Config) *MemoryQueue {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	return &MemoryQueue{
		cfg:      cfg,
		inFlight: make(map[int64]*leaseEntry),
		notify:   make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, env Envelope) error {
	q.mu.Lock()
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now().UTC()
	}
	q.ready = append(q.ready, env)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			env := q.ready[0]
			q.ready = q.ready[1:]
			q.inFlight[env.ID] = &leaseEntry{env: env, deadline: time.Now().Add(q.cfg.LeaseTTL)}
			q.mu.Unlock()
			return &env, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrEmpty
		case <-q.notify:
			// loop and re-check
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
	return nil
}

func (q *MemoryQueue) Size(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready)), nil
}

func (q *MemoryQueue) InFlightCount(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.inFlight)), nil
}

func (q *MemoryQueue) ReclaimStale(ctx context.Context) ([]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	var cleared []int64
	for id, e := range q.inFlight {
		if e.deadline.IsZero() || now.After(e.deadline) {
			delete(q.inFlight, id)
			cleared = append(cleared, id)
		}
	}
	return cleared, nil
}
