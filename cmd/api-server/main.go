// Command api-server runs the Control Surface (C8) HTTP transport: task
// submission and lookup, queue statistics, circuit-breaker
// administration, and the dead-letter queue. With backend: memory it
// also embeds a worker pool, since an in-process queue has no other
// consumer to hand envelopes to.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/taskmesh/taskmesh/internal/api"
	"github.com/taskmesh/taskmesh/internal/apperr"
	"github.com/taskmesh/taskmesh/internal/breaker"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/control"
	"github.com/taskmesh/taskmesh/internal/dlq"
	"github.com/taskmesh/taskmesh/internal/events"
	"github.com/taskmesh/taskmesh/internal/executor"
	"github.com/taskmesh/taskmesh/internal/handlers"
	"github.com/taskmesh/taskmesh/internal/logger"
	"github.com/taskmesh/taskmesh/internal/queue"
	"github.com/taskmesh/taskmesh/internal/retrypolicy"
	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Str("backend", cfg.Backend).Msg("starting api-server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kinds := store.NewKindSet(cfg.TaskKinds...)
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	})

	var (
		taskStore   store.Store
		taskQueue   queue.Queue
		deadLetters dlq.DLQ
		publisher   *events.RedisPubSub
		pool        *worker.Pool
		retrySched  *queue.Scheduler
		ex          *executor.Executor
		redisClient *redis.Client
	)

	switch cfg.Backend {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		taskStore = store.NewRedisStore(redisClient, kinds)
		taskQueue = queue.NewRedisQueue(redisClient, queue.Config{LeaseTTL: cfg.Queue.LeaseTTL})
		deadLetters = dlq.NewRedisDLQ(redisClient)
		publisher = events.NewRedisPubSub(redisClient)
		// ex stays nil: execution happens in the worker process, which
		// owns the only Executor and its in-process counters.

	case "memory":
		taskStore = store.NewMemoryStore(kinds)
		taskQueue = queue.NewMemoryQueue(queue.Config{LeaseTTL: cfg.Queue.LeaseTTL})
		deadLetters = dlq.NewMemoryDLQ()

		retryEngine := retrypolicy.NewEngine(retrypolicy.Config{BaseDelay: cfg.Retry.BaseDelay}, breakers, apperr.DefaultClassifier)
		delayQueue := queue.NewMemoryDelayQueue()

		ex = executor.New(executor.Config{
			Store:      taskStore,
			Queue:      taskQueue,
			Breakers:   breakers,
			Retry:      retryEngine,
			DLQ:        deadLetters,
			Delay:      delayQueue,
			Classifier: apperr.DefaultClassifier,
			Logger:     *log,
		})
		handlers.Register(ex, handlers.DefaultFailureRates())

		retrySched = queue.NewScheduler(delayQueue, time.Second, ex.ReenqueueDue, *log)

		pool = worker.NewPool(worker.Config{
			Concurrency:      cfg.Worker.Concurrency,
			PopTimeout:       cfg.Queue.BlockTimeout,
			RecoveryInterval: cfg.Queue.RecoveryInterval,
			ShutdownTimeout:  cfg.Worker.ShutdownTimeout,
		}, taskQueue, taskStore, ex, nil)

	default:
		log.Fatal().Str("backend", cfg.Backend).Msg("unknown backend, expected \"memory\" or \"redis\"")
	}

	surface := control.New(taskStore, taskQueue, breakers, deadLetters, ex)
	server := api.NewServer(cfg, surface, publisher)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	server.Start(ctx)
	if retrySched != nil {
		retrySched.Start(ctx)
	}
	if pool != nil {
		pool.Start(ctx)
	}

	var actWG sync.WaitGroup
	actStop := make(chan struct{})
	actWG.Add(1)
	go runScheduledActivation(ctx, actStop, &actWG, taskStore, taskQueue, *log)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down api-server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	close(actStop)
	actWG.Wait()

	if pool != nil {
		pool.Stop(shutdownCtx)
	}
	if retrySched != nil {
		retrySched.Stop()
	}
	server.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if publisher != nil {
		publisher.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	log.Info().Msg("api-server stopped")
}

// runScheduledActivation polls the store for Scheduled tasks whose due
// time has passed and hands each to the queue, the scheduled-submission
// counterpart to the executor's timer-driven retry reactivation.
func runScheduledActivation(ctx context.Context, stop <-chan struct{}, wg *sync.WaitGroup, st store.Store, q queue.Queue, log zerolog.Logger) {
	defer wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			ids, err := st.DueScheduled(ctx, time.Now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("scheduled activation: poll failed")
				continue
			}
			for _, id := range ids {
				if err := st.Activate(ctx, id); err != nil {
					continue
				}
				t, err := st.Get(ctx, id)
				if err != nil {
					continue
				}
				if err := q.Enqueue(ctx, queue.Envelope{ID: t.ID, Kind: t.Kind, Payload: t.Payload}); err != nil {
					log.Error().Int64("task_id", id).Err(err).Msg("scheduled activation: enqueue failed")
				}
			}
		}
	}
}
