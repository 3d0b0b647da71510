package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Worker     WorkerConfig
	Queue      QueueConfig
	Breaker    BreakerConfig
	Retry      RetryConfig
	DLQ        DLQConfig
	Metrics    MetricsConfig
	Backend    string // "memory" or "redis"
	TaskKinds  []string
	LogLevel   string
}

type ServerConfig struct {
	Host         string
	Port         int
	AdminPort    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type WorkerConfig struct {
	ID                string
	Concurrency       int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ShutdownTimeout   time.Duration
}

type QueueConfig struct {
	LeaseTTL         time.Duration
	BlockTimeout     time.Duration
	RecoveryInterval time.Duration
	MaxQueueSize     int64
	RateLimitRPS     int
}

// BreakerConfig configures the per-kind circuit breakers (C3).
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// RetryConfig configures the retry policy engine (C4).
type RetryConfig struct {
	BaseDelay time.Duration
}

// DLQConfig configures dead-letter retention (C5).
type DLQConfig struct {
	PurgeInterval    time.Duration
	RetentionHours   int
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/taskmesh")

	// Set defaults
	setDefaults()

	// Environment variable binding
	viper.SetEnvPrefix("TASKMESH")
	viper.AutomaticEnv()

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.adminport", 8081)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 100)
	viper.SetDefault("redis.minidleconns", 10)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	// Worker defaults
	viper.SetDefault("worker.id", "")
	viper.SetDefault("worker.concurrency", 10)
	viper.SetDefault("worker.heartbeatinterval", 5*time.Second)
	viper.SetDefault("worker.heartbeattimeout", 15*time.Second)
	viper.SetDefault("worker.shutdowntimeout", 30*time.Second)

	// Queue defaults
	viper.SetDefault("queue.leasettl", 5*time.Minute)
	viper.SetDefault("queue.blocktimeout", 5*time.Second)
	viper.SetDefault("queue.recoveryinterval", 10*time.Second)
	viper.SetDefault("queue.maxqueuesize", 1000000)
	viper.SetDefault("queue.ratelimitrps", 1000)

	// Breaker defaults
	viper.SetDefault("breaker.failurethreshold", 5)
	viper.SetDefault("breaker.recoverytimeout", 60*time.Second)

	// Retry defaults
	viper.SetDefault("retry.basedelay", 5*time.Second)

	// DLQ defaults
	viper.SetDefault("dlq.purgeinterval", 1*time.Hour)
	viper.SetDefault("dlq.retentionhours", 168)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Backend defaults
	viper.SetDefault("backend", "redis")
	viper.SetDefault("taskkinds", []string{"text_processing", "ai_summarization", "batch_processing", "image_processing"})

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
