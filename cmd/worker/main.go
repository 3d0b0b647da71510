// Command worker runs the Worker Loop (C7): a pool of goroutines pulling
// envelopes off the shared work queue, executing them through the Task
// Executor (C6), and recovering stale in-flight leases.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskmesh/taskmesh/internal/apperr"
	"github.com/taskmesh/taskmesh/internal/breaker"
	"github.com/taskmesh/taskmesh/internal/config"
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
	log.Info().Str("backend", cfg.Backend).Msg("starting worker")

	if cfg.Backend != "redis" {
		log.Fatal().Msg("worker: the memory backend only makes sense embedded in a single process; run the api-server binary instead, or set backend: redis")
	}

	client := redis.NewClient(&redis.Options{
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
	defer client.Close()

	kinds := store.NewKindSet(cfg.TaskKinds...)
	taskStore := store.NewRedisStore(client, kinds)
	taskQueue := queue.NewRedisQueue(client, queue.Config{LeaseTTL: cfg.Queue.LeaseTTL})
	deadLetters := dlq.NewRedisDLQ(client)
	delayQueue := queue.NewRedisDelayQueue(client, "taskmesh:retry:delay")
	publisher := events.NewRedisPubSub(client)
	defer publisher.Close()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	})
	retryEngine := retrypolicy.NewEngine(retrypolicy.Config{BaseDelay: cfg.Retry.BaseDelay}, breakers, apperr.DefaultClassifier)

	ex := executor.New(executor.Config{
		Store:      taskStore,
		Queue:      taskQueue,
		Breakers:   breakers,
		Retry:      retryEngine,
		DLQ:        deadLetters,
		Delay:      delayQueue,
		Classifier: apperr.DefaultClassifier,
		Publisher:  publisher,
		Logger:     *log,
	})
	handlers.Register(ex, handlers.DefaultFailureRates())

	retryScheduler := queue.NewScheduler(delayQueue, time.Second, ex.ReenqueueDue, *log)

	workerID := cfg.Worker.ID
	if workerID == "" {
		hostname, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	hb := worker.NewHeartbeat(client, workerID, cfg.Worker.HeartbeatInterval, cfg.Worker.HeartbeatTimeout)

	pool := worker.NewPool(worker.Config{
		ID:                workerID,
		Concurrency:       cfg.Worker.Concurrency,
		PopTimeout:        cfg.Queue.BlockTimeout,
		RecoveryInterval:  cfg.Queue.RecoveryInterval,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Worker.HeartbeatTimeout,
		ShutdownTimeout:   cfg.Worker.ShutdownTimeout,
	}, taskQueue, taskStore, ex, hb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	retryScheduler.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	retryScheduler.Stop()
	pool.Stop(shutdownCtx)

	log.Info().Msg("worker stopped")
}
