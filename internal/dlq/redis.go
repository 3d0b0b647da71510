package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	entriesHashKey = "taskmesh:dlq:entries"
	indexZSetKey   = "taskmesh:dlq:index"
)

// RedisDLQ is the durable C5 implementation: a hash of task id -> JSON
// snapshot plus a sorted set of task id by failed_at, so purge() is a
// ZRANGEBYSCORE scan rather than a full table scan.
type RedisDLQ struct {
	client *redis.Client
}

func NewRedisDLQ(client *redis.Client) *RedisDLQ {
	return &RedisDLQ{client: client}
}

func (d *RedisDLQ) Add(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	field := strconv.FormatInt(e.TaskID, 10)
	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, entriesHashKey, field, data)
	pipe.ZAdd(ctx, indexZSetKey, redis.Z{Score: float64(e.FailedAt.Unix()), Member: e.TaskID})
	_, err = pipe.Exec(ctx)
	return err
}

func (d *RedisDLQ) List(ctx context.Context, kind string) ([]Entry, error) {
	raw, err := d.client.HGetAll(ctx, entriesHashKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, v := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// popScript atomically fetches and deletes an entry, so a Requeue racing
// a concurrent Purge either wins outright or observes the entry already
// gone — never a torn read.
var popScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[1])
if v then
	redis.call('HDEL', KEYS[1], ARGV[1])
	redis.call('ZREM', KEYS[2], ARGV[1])
end
return v
`)

func (d *RedisDLQ) Pop(ctx context.Context, id int64) (*Entry, error) {
	res, err := popScript.Run(ctx, d.client, []string{entriesHashKey, indexZSetKey}, id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s, ok := res.(string)
	if !ok || s == "" {
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (d *RedisDLQ) Contains(ctx context.Context, id int64) (bool, error) {
	return d.client.HExists(ctx, entriesHashKey, strconv.FormatInt(id, 10)).Result()
}

func (d *RedisDLQ) Purge(ctx context.Context, kind string, olderThanHours int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanHours) * time.Hour).Unix()
	ids, err := d.client.ZRangeByScore(ctx, indexZSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, idStr := range ids {
		if kind != "" {
			v, err := d.client.HGet(ctx, entriesHashKey, idStr).Result()
			if err == redis.Nil {
				d.client.ZRem(ctx, indexZSetKey, idStr)
				continue
			}
			if err != nil {
				return count, err
			}
			var e Entry
			if err := json.Unmarshal([]byte(v), &e); err == nil && e.Kind != kind {
				continue
			}
		}
		pipe := d.client.TxPipeline()
		pipe.HDel(ctx, entriesHashKey, idStr)
		pipe.ZRem(ctx, indexZSetKey, idStr)
		if _, err := pipe.Exec(ctx); err == nil {
			count++
		}
	}
	return count, nil
}

func (d *RedisDLQ) Size(ctx context.Context) (int64, error) {
	return d.client.HLen(ctx, entriesHashKey).Result()
}
