// Package retrypolicy implements the Retry Policy Engine (C4): given a
// failed task and its classified error, decide whether to retry and, if
// so, the delay before the next attempt — strategy selected from the
// error's semantic class, grounded on the exact formulas of
// retry_handler.py's _calculate_retry_delay.
package retrypolicy

import (
	"math"
	"math/rand"
	"time"

	"github.com/taskmesh/taskmesh/internal/apperr"
	"github.com/taskmesh/taskmesh/internal/breaker"
	"github.com/taskmesh/taskmesh/internal/task"
)

// Strategy is the backoff shape selected for a given error class.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
	StrategyJitter      Strategy = "jitter"
)

// Config holds the tunables of §4.4 and §6.
type Config struct {
	// BaseDelay is retry_delay_default, default 5s.
	BaseDelay time.Duration
}

func DefaultConfig() Config {
	return Config{BaseDelay: 5 * time.Second}
}

// Engine is the C4 component. It consults a Registry for breaker
// admission and a Classifier to pick the right strategy per error.
type Engine struct {
	cfg        Config
	breakers   *breaker.Registry
	classifier apperr.Classifier
	rand       func() float64
}

func NewEngine(cfg Config, breakers *breaker.Registry, classifier apperr.Classifier) *Engine {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if classifier == nil {
		classifier = apperr.DefaultClassifier
	}
	return &Engine{cfg: cfg, breakers: breakers, classifier: classifier, rand: rand.Float64}
}

// strategyFor maps an error's semantic Kind to a backoff Strategy,
// matching the taxonomy of spec §4.4 step 3.
func strategyFor(kind apperr.Kind) Strategy {
	switch kind {
	case apperr.KindTransientNetwork:
		return StrategyExponential
	case apperr.KindRateLimit:
		return StrategyJitter
	case apperr.KindTransientStorage:
		return StrategyLinear
	default:
		return StrategyExponential
	}
}

// delay computes the backoff for strategy S at retry_count n, per the
// exact caps of §4.4 step 4.
func (e *Engine) delay(s Strategy, n int) time.Duration {
	base := e.cfg.BaseDelay.Seconds()
	switch s {
	case StrategyFixed:
		return e.cfg.BaseDelay
	case StrategyLinear:
		secs := math.Min(base*float64(n+1), 120)
		return time.Duration(secs * float64(time.Second))
	case StrategyExponential:
		secs := math.Min(base*math.Pow(2, float64(n)), 300)
		return time.Duration(secs * float64(time.Second))
	case StrategyJitter:
		exp := base * math.Pow(2, float64(n))
		jittered := math.Floor(exp + (0.1+0.2*e.rand())*exp)
		secs := math.Min(jittered, 300)
		return time.Duration(secs * float64(time.Second))
	default:
		return e.cfg.BaseDelay
	}
}

// ShouldRetry implements should_retry(task, error) of §4.4.
func (e *Engine) ShouldRetry(t *task.Task, err error) (retry bool, delay time.Duration) {
	if t.RetryCount >= t.MaxRetries {
		return false, 0
	}
	if e.breakers != nil && !e.breakers.Allow(t.Kind) {
		return false, 0
	}
	kind := e.classifier.Classify(err)
	if !kind.Retryable() {
		return false, 0
	}
	strategy := strategyFor(kind)
	return true, e.delay(strategy, t.RetryCount)
}
