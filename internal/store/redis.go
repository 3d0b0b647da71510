package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskmesh/taskmesh/internal/task"
)

const (
	taskKeyPrefix    = "taskmesh:task:"
	taskCounterKey   = "taskmesh:tasks:next_id"
	taskIndexKey     = "taskmesh:tasks:index"
	scheduledZSetKey = "taskmesh:tasks:scheduled"
)

func taskKey(id int64) string { return fmt.Sprintf("%s%d", taskKeyPrefix, id) }

// RedisStore is the durable C1 implementation. Each task is a JSON blob
// at taskmesh:task:{id}; tasks:index orders ids for list(); per-id writes
// serialize via an optimistic WATCH/MULTI transaction on the task key,
// generalizing the teacher's SetNX distributed-lock pattern
// (queue/scheduler.go) into a proper compare-and-swap.
type RedisStore struct {
	client *redis.Client
	kinds  KindSet
}

func NewRedisStore(client *redis.Client, kinds KindSet) *RedisStore {
	return &RedisStore{client: client, kinds: kinds}
}

func (s *RedisStore) Create(ctx context.Context, kind string, payload json.RawMessage, maxRetries int, scheduledAt *time.Time) (*task.Task, error) {
	if s.kinds != nil && !s.kinds.Recognized(kind) {
		return nil, &ErrUnrecognizedKind{Kind: kind}
	}

	id, err := s.client.Incr(ctx, taskCounterKey).Result()
	if err != nil {
		return nil, fmt.Errorf("assign task id: %w", err)
	}
	t := task.New(id, kind, payload, maxRetries, scheduledAt)

	data, err := t.ToJSON()
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, taskKey(id), data, 0)
	pipe.ZAdd(ctx, taskIndexKey, redis.Z{Score: float64(id), Member: id})
	if t.Status == task.StateScheduled {
		pipe.ZAdd(ctx, scheduledZSetKey, redis.Z{Score: float64(t.ScheduledAt.Unix()), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}
	return t.Clone(), nil
}

func (s *RedisStore) Get(ctx context.Context, id int64) (*task.Task, error) {
	data, err := s.client.Get(ctx, taskKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task.FromJSON(data)
}

// mutate runs fn against the current task under an optimistic
// WATCH/MULTI transaction, retrying on a concurrent writer's interleaved
// update. fn returns the task to persist, or an error to abort.
func (s *RedisStore) mutate(ctx context.Context, id int64, fn func(t *task.Task) error) error {
	key := taskKey(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		t, err := task.FromJSON(data)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		encoded, err := t.ToJSON()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("task %d: too much write contention", id)
}

func (s *RedisStore) UpdateStatus(ctx context.Context, id int64, status task.State, opts UpdateOpts) error {
	return s.mutate(ctx, id, func(t *task.Task) error {
		if t.Status == status {
			applyOpts(t, opts)
			return nil
		}
		sm := task.NewStateMachine(t)
		var err error
		switch status {
		case task.StateRunning:
			err = sm.Start(t.WorkerID)
		case task.StateCompleted:
			return sm.Complete(opts.Result)
		case task.StateFailed:
			return sm.Fail(opts.ErrorMessage, opts.ErrorKind)
		case task.StateCancelled:
			err = sm.Cancel()
		default:
			err = sm.Transition(status)
		}
		if err != nil {
			return err
		}
		applyOpts(t, opts)
		return nil
	})
}

func (s *RedisStore) BumpRetry(ctx context.Context, id int64) error {
	return s.mutate(ctx, id, func(t *task.Task) error {
		return task.NewStateMachine(t).BumpRetry()
	})
}

func (s *RedisStore) Activate(ctx context.Context, id int64) error {
	err := s.mutate(ctx, id, func(t *task.Task) error {
		return task.NewStateMachine(t).Activate()
	})
	if err == nil {
		s.client.ZRem(ctx, scheduledZSetKey, id)
	}
	return err
}

func (s *RedisStore) Requeue(ctx context.Context, id int64) error {
	return s.mutate(ctx, id, func(t *task.Task) error {
		return task.NewStateMachine(t).Requeue()
	})
}

func (s *RedisStore) List(ctx context.Context, limit, offset int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.ZRangeByScore(ctx, taskIndexKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    "+inf",
		Offset: int64(offset),
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*task.Task, 0, len(ids))
	for _, idStr := range ids {
		data, err := s.client.Get(ctx, taskKeyPrefix+idStr).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		t, err := task.FromJSON(data)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *RedisStore) DueScheduled(ctx context.Context, asOf time.Time) ([]int64, error) {
	idStrs, err := s.client.ZRangeByScore(ctx, scheduledZSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", asOf.Unix()),
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(idStrs))
	for _, s := range idStrs {
		var id int64
		if _, err := fmt.Sscanf(s, "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
