package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DelayQueue is a priority queue keyed by due-time: the single timer
// wheel the design notes call for, replacing one detached goroutine/timer
// per retry with one structure polled by one goroutine. It arms retry
// delays; scheduled task submissions are activated separately, from the
// store's DueScheduled.
type DelayQueue interface {
	// Schedule arms id to become due at dueAt. Scheduling an id that is
	// already pending reschedules it.
	Schedule(ctx context.Context, id int64, dueAt time.Time) error
	// Cancel removes id if still pending; a no-op if already due/popped.
	Cancel(ctx context.Context, id int64) error
	// PopDue atomically removes and returns every id due at or before
	// asOf.
	PopDue(ctx context.Context, asOf time.Time) ([]int64, error)
}

// --- in-memory implementation: a min-heap ordered by due time ---

type timerItem struct {
	id    int64
	dueAt time.Time
}

type timerHeap []timerItem

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].dueAt.Before(h[j].dueAt) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(timerItem)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemoryDelayQueue is the in-process DelayQueue, backing MemoryQueue-based
// deployments and tests.
type MemoryDelayQueue struct {
	mu    sync.Mutex
	items timerHeap
	index map[int64]int // not populated; Schedule and Cancel scan items by id
}

func NewMemoryDelayQueue() *MemoryDelayQueue {
	return &MemoryDelayQueue{items: timerHeap{}}
}

func (d *MemoryDelayQueue) Schedule(ctx context.Context, id int64, dueAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, it := range d.items {
		if it.id == id {
			heap.Remove(&d.items, i)
			break
		}
	}
	heap.Push(&d.items, timerItem{id: id, dueAt: dueAt})
	return nil
}

func (d *MemoryDelayQueue) Cancel(ctx context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, it := range d.items {
		if it.id == id {
			heap.Remove(&d.items, i)
			return nil
		}
	}
	return nil
}

func (d *MemoryDelayQueue) PopDue(ctx context.Context, asOf time.Time) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var due []int64
	for len(d.items) > 0 && !d.items[0].dueAt.After(asOf) {
		item := heap.Pop(&d.items).(timerItem)
		due = append(due, item.id)
	}
	return due, nil
}

// --- Redis implementation: a sorted set keyed by due-time ---

// RedisDelayQueue stores due times in a ZSET, generalizing the teacher's
// queue/scheduler.go (originally built only for scheduled-submission
// activation against its own "tasks:scheduled" ZSET).
type RedisDelayQueue struct {
	client *redis.Client
	key    string
}

func NewRedisDelayQueue(client *redis.Client, key string) *RedisDelayQueue {
	return &RedisDelayQueue{client: client, key: key}
}

func (d *RedisDelayQueue) Schedule(ctx context.Context, id int64, dueAt time.Time) error {
	return d.client.ZAdd(ctx, d.key, redis.Z{Score: float64(dueAt.Unix()), Member: id}).Err()
}

func (d *RedisDelayQueue) Cancel(ctx context.Context, id int64) error {
	return d.client.ZRem(ctx, d.key, id).Err()
}

// popDueScript atomically reads and removes members due at or before the
// given score, so concurrent pollers (multiple worker processes) never
// double-pop the same id.
var popDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if #ids > 0 then
	redis.call('ZREM', KEYS[1], unpack(ids))
end
return ids
`)

func (d *RedisDelayQueue) PopDue(ctx context.Context, asOf time.Time) ([]int64, error) {
	res, err := popDueScript.Run(ctx, d.client, []string{d.key}, asOf.Unix()).Result()
	if err != nil {
		return nil, err
	}
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected popDue result type %T", res)
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(s, "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
