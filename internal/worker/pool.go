// Package worker implements the Worker Loop (C7): a pool of goroutines
// that pull envelopes off the work queue and hand them to the executor,
// plus a recovery loop that reclaims stale in-flight leases.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/internal/executor"
	"github.com/taskmesh/taskmesh/internal/logger"
	"github.com/taskmesh/taskmesh/internal/queue"
	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/task"
)

// State represents the worker pool's current operational state.
type State int

const (
	StateIdle         State = iota // Not processing, waiting to start
	StateBusy                      // Actively processing tasks
	StateShuttingDown              // Gracefully stopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Config configures a Pool.
type Config struct {
	ID                string
	Concurrency       int
	PopTimeout        time.Duration
	RecoveryInterval  time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ShutdownTimeout   time.Duration
}

// Pool manages a set of concurrent worker goroutines pulling from a
// single queue.Queue and dispatching to a single executor.Executor.
type Pool struct {
	id        string
	cfg       Config
	queue     queue.Queue
	store     store.Store
	executor  *executor.Executor
	heartbeat *Heartbeat

	state   State
	stateMu sync.RWMutex

	active sync.Map // taskID (int64) -> struct{}

	wg             sync.WaitGroup
	stopCh         chan struct{}
	concurrencySem chan struct{}
}

// NewPool builds a pool; hb may be nil to disable liveness
// registration (e.g. an in-memory deployment with no Redis available).
func NewPool(cfg Config, q queue.Queue, st store.Store, ex *executor.Executor, hb *Heartbeat) *Pool {
	id := cfg.ID
	if id == "" {
		id = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = 10 * time.Second
	}
	return &Pool{
		id:             id,
		cfg:            cfg,
		queue:          q,
		store:          st,
		executor:       ex,
		heartbeat:      hb,
		state:          StateIdle,
		stopCh:         make(chan struct{}),
		concurrencySem: make(chan struct{}, cfg.Concurrency),
	}
}

// Start spawns the worker goroutines and the recovery loop.
func (p *Pool) Start(ctx context.Context) {
	p.stateMu.Lock()
	p.state = StateBusy
	p.stateMu.Unlock()

	if p.heartbeat != nil {
		p.heartbeat.Start(ctx)
	}

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}

	p.wg.Add(1)
	go p.recoveryLoop(ctx)

	logger.Info().
		Str("worker_id", p.id).
		Int("concurrency", p.cfg.Concurrency).
		Msg("worker pool started")
}

// Stop signals shutdown and waits for in-flight executions to drain, up
// to ShutdownTimeout.
func (p *Pool) Stop(ctx context.Context) {
	p.stateMu.Lock()
	p.state = StateShuttingDown
	p.stateMu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timeout := p.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-done:
		logger.Info().Str("worker_id", p.id).Msg("worker pool stopped gracefully")
	case <-time.After(timeout):
		logger.Warn().Str("worker_id", p.id).Msg("worker pool shutdown timed out")
	case <-ctx.Done():
		logger.Warn().Str("worker_id", p.id).Msg("worker pool shutdown canceled")
	}

	if p.heartbeat != nil {
		p.heartbeat.Stop()
	}
}

// State returns the current operational state.
func (p *Pool) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// ID returns the pool's worker identifier.
func (p *Pool) ID() string { return p.id }

// ActiveTasks returns the count of executions currently in flight in
// this process.
func (p *Pool) ActiveTasks() int {
	count := 0
	p.active.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (p *Pool) loop(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	log := logger.WithWorker(p.id)
	log.Info().Int("worker_num", workerNum).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		select {
		case p.concurrencySem <- struct{}{}:
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}

		if err := p.processNext(ctx); err != nil {
			log.Error().Err(err).Msg("error processing envelope")
		}

		<-p.concurrencySem
	}
}

func (p *Pool) processNext(ctx context.Context) error {
	env, err := p.queue.Pop(ctx, p.cfg.PopTimeout)
	if err == queue.ErrEmpty {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pop: %w", err)
	}

	p.active.Store(env.ID, struct{}{})
	defer p.active.Delete(env.ID)

	return p.executor.Execute(ctx, env)
}

func (p *Pool) recoveryLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reclaim(ctx)
		}
	}
}

// reclaim clears stale in-flight leases and re-enqueues the task behind
// each one. A lease gone stale means its worker crashed mid-execution
// without acking; the task itself is still RUNNING or RETRYING in the
// store (queue.ReclaimStale only ever touches the lease marker, never
// task state), so it is safe to rebuild a fresh envelope from the
// store and push it back onto the ready queue. A task that has since
// reached a terminal state (a racing delivery already finished it) is
// skipped rather than re-enqueued, and Execute's idempotence pre-check
// is the backstop if a race still slips one through.
func (p *Pool) reclaim(ctx context.Context) {
	ids, err := p.queue.ReclaimStale(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("worker: failed to reclaim stale leases")
		return
	}
	for _, id := range ids {
		logger.Info().Int64("task_id", id).Str("worker_id", p.id).Msg("worker: reclaimed stale lease")

		if p.store == nil {
			continue
		}
		t, err := p.store.Get(ctx, id)
		if err != nil {
			logger.Warn().Int64("task_id", id).Err(err).Msg("worker: reclaimed task missing from store")
			continue
		}
		if t.Status != task.StateRunning && t.Status != task.StateRetrying {
			continue
		}
		env := queue.Envelope{ID: t.ID, Kind: t.Kind, Payload: t.Payload}
		if err := p.queue.Enqueue(ctx, env); err != nil {
			logger.Error().Int64("task_id", id).Err(err).Msg("worker: failed to re-enqueue reclaimed task")
		}
	}
}
