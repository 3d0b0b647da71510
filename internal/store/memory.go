package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/task"
)

// MemoryStore is an in-process Store, guarded by a single mutex — the
// Go analogue of the original system's in-memory TaskQueue fallback for
// when no durable backend is configured.
type MemoryStore struct {
	mu     sync.Mutex
	kinds  KindSet
	nextID int64
	tasks  map[int64]*task.Task
}

func NewMemoryStore(kinds KindSet) *MemoryStore {
	return &MemoryStore{
		kinds: kinds,
		tasks: make(map[int64]*task.Task),
	}
}

func (s *MemoryStore) Create(ctx context.Context, kind string, payload json.RawMessage, maxRetries int, scheduledAt *time.Time) (*task.Task, error) {
	if s.kinds != nil && !s.kinds.Recognized(kind) {
		return nil, &ErrUnrecognizedKind{Kind: kind}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := task.New(s.nextID, kind, payload, maxRetries, scheduledAt)
	s.tasks[t.ID] = t
	return t.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id int64, status task.State, opts UpdateOpts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status == status {
		// Idempotent repeat: apply result/error fields but don't
		// re-validate a transition that already happened.
		applyOpts(t, opts)
		return nil
	}
	sm := task.NewStateMachine(t)
	switch status {
	case task.StateRunning:
		if err := sm.Start(t.WorkerID); err != nil {
			return err
		}
	case task.StateCompleted:
		if err := sm.Complete(opts.Result); err != nil {
			return err
		}
		return nil
	case task.StateFailed:
		if err := sm.Fail(opts.ErrorMessage, opts.ErrorKind); err != nil {
			return err
		}
		return nil
	case task.StateCancelled:
		if err := sm.Cancel(); err != nil {
			return err
		}
	default:
		if err := sm.Transition(status); err != nil {
			return err
		}
	}
	applyOpts(t, opts)
	return nil
}

func applyOpts(t *task.Task, opts UpdateOpts) {
	if opts.Result != nil {
		t.Result = opts.Result
	}
	if opts.ErrorMessage != "" {
		t.ErrorMessage = opts.ErrorMessage
	}
	if opts.ErrorKind != "" {
		t.ErrorKind = opts.ErrorKind
	}
}

func (s *MemoryStore) BumpRetry(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	return task.NewStateMachine(t).BumpRetry()
}

func (s *MemoryStore) Activate(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	return task.NewStateMachine(t).Activate()
}

func (s *MemoryStore) Requeue(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	return task.NewStateMachine(t).Requeue()
}

func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if offset >= len(ids) {
		return []*task.Task{}, nil
	}
	end := offset + limit
	if end > len(ids) || limit <= 0 {
		end = len(ids)
	}
	out := make([]*task.Task, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, s.tasks[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) DueScheduled(ctx context.Context, asOf time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, t := range s.tasks {
		if t.Status == task.StateScheduled && t.ScheduledAt != nil && !t.ScheduledAt.After(asOf) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
