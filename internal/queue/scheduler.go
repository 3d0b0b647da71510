package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler polls a DelayQueue at a fixed interval and invokes a callback
// for every due id. It is the single owner of "what fires next" for retry
// delays (scheduled task submissions are activated by a separate loop
// over the store) — one poller regardless of how many retries are outstanding,
// generalized from this package's original distributed-lock ticker loop
// (which only activated scheduled submissions against its own ZSET).
type Scheduler struct {
	delay        DelayQueue
	pollInterval time.Duration
	onDue        func(ctx context.Context, id int64)
	logger       zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(delay DelayQueue, pollInterval time.Duration, onDue func(ctx context.Context, id int64), logger zerolog.Logger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Scheduler{
		delay:        delay,
		pollInterval: pollInterval,
		onDue:        onDue,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ids, err := s.delay.PopDue(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Warn().Err(err).Msg("scheduler: pop due timers failed")
		return
	}
	for _, id := range ids {
		s.onDue(ctx, id)
	}
}
