package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyListKey    = "taskmesh:queue:ready"
	inflightHashKey = "taskmesh:queue:inflight"
	leaseKeyPrefix  = "taskmesh:queue:lease:"
)

func leaseKey(id int64) string { return leaseKeyPrefix + strconv.FormatInt(id, 10) }

// RedisQueue is the durable C2 implementation, grounded on the original
// system's redis_queue.py (a plain RPUSH/BLPOP list plus a per-id
// processing:{id} TTL marker) rather than the teacher's multi-priority
// Redis Streams consumer groups — spec's C2 contract is a single FIFO
// with an explicit lease, which a list plus a TTL'd marker key
// expresses directly.
type RedisQueue struct {
	client *redis.Client
	cfg    Config
}

func NewRedisQueue(client *redis.Client, cfg Config) *RedisQueue {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	return &RedisQueue{client: client, cfg: cfg}
}

func (q *RedisQueue) Enqueue(ctx context.Context, env Envelope) error {
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, readyListKey, data).Err()
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	res, err := q.client.BLPop(ctx, timeout, readyListKey).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	// res[0] is the key name, res[1] the popped value.
	var env Envelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, inflightHashKey, env.ID, res[1])
	pipe.Set(ctx, leaseKey(env.ID), "1", q.cfg.LeaseTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("register in-flight: %w", err)
	}
	return &env, nil
}

func (q *RedisQueue) Ack(ctx context.Context, id int64) error {
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, inflightHashKey, strconv.FormatInt(id, 10))
	pipe.Del(ctx, leaseKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, readyListKey).Result()
}

func (q *RedisQueue) InFlightCount(ctx context.Context) (int64, error) {
	return q.client.HLen(ctx, inflightHashKey).Result()
}

// ReclaimStale clears in-flight markers whose lease key is absent —
// expired (Redis removes it automatically) or never set — without
// re-enqueuing, matching the reclaim_stale contract exactly. The
// cleared ids are returned so the worker recovery loop can decide
// whether to re-enqueue them.
func (q *RedisQueue) ReclaimStale(ctx context.Context) ([]int64, error) {
	fields, err := q.client.HKeys(ctx, inflightHashKey).Result()
	if err != nil {
		return nil, err
	}
	var cleared []int64
	for _, idStr := range fields {
		id, convErr := strconv.ParseInt(idStr, 10, 64)
		if convErr != nil {
			continue
		}
		exists, err := q.client.Exists(ctx, leaseKey(id)).Result()
		if err != nil {
			return cleared, err
		}
		if exists == 0 {
			if err := q.client.HDel(ctx, inflightHashKey, idStr).Err(); err != nil {
				return cleared, err
			}
			cleared = append(cleared, id)
		}
	}
	return cleared, nil
}
