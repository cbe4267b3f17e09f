package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yourorg/vulnscan/internal/config"
	"github.com/yourorg/vulnscan/internal/metrics"
)

// ErrCircuitOpen is reported when a call is short-circuited without
// touching the upstream.
var ErrCircuitOpen = errors.New("circuit open")

// Config is an alias of config.ResilienceConfig.
type Config = config.ResilienceConfig

// Result is the outcome of one resilient call. A successful fallback yields
// Success=true with UsedFallback=true; Err then still carries the primary
// failure for logging.
type Result[T any] struct {
	Value        T
	Err          error
	Success      bool
	UsedFallback bool
	Attempts     int
}

// Fallback produces a degraded result from the original failure.
type Fallback[T any] func(ctx context.Context, cause error) (T, error)

// Executor coordinates named circuit breakers, per-call timeouts, and retry
// policy for upstream operations.
type Executor struct {
	cfg           Config
	retryDisabled bool
	logger        *slog.Logger
	metrics       metrics.Collector

	mu       sync.Mutex
	breakers map[string]*Breaker

	sleep func(time.Duration)
}

// NewExecutor builds an executor for the given provider. Providers with
// built-in retry get the executor's retry layer disabled so backoff is not
// applied twice.
func NewExecutor(cfg Config, provider string, m metrics.Collector, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Executor{
		cfg:           cfg,
		retryDisabled: cfg.HasBuiltinRetry(provider),
		logger:        logger,
		metrics:       m,
		breakers:      make(map[string]*Breaker),
		sleep:         time.Sleep,
	}
}

// Breaker returns the named circuit, creating it on first use.
func (e *Executor) Breaker(name string) *Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.breakers[name]
	if !ok {
		b = NewBreaker(name, e.cfg.FailureThreshold, e.cfg.RecoveryTimeout(), e.logger)
		e.breakers[name] = b
	}
	return b
}

// Execute runs op behind the named circuit with timeout, retry, and fallback.
func Execute[T any](ctx context.Context, e *Executor, circuit string, op func(context.Context) (T, error), fallback Fallback[T]) Result[T] {
	b := e.Breaker(circuit)

	if !b.Allow() {
		e.metrics.RecordMetric("resilience.short_circuit", 1, map[string]string{"circuit": circuit})
		e.logger.Warn("short-circuiting call", "circuit", circuit)
		return runFallback(ctx, fallback, ErrCircuitOpen, 0)
	}

	maxAttempts := 1
	if !e.retryDisabled {
		maxAttempts += e.cfg.MaxRetryAttempts
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		if attempt > 1 {
			delay := backoffDelay(attempt-1, e.cfg.BaseDelay(), e.cfg.MaxDelay())
			// honor the backend's requested wait when it asked for more
			var ue *UpstreamError
			if errors.As(lastErr, &ue) && ue.RetryAfter > delay {
				delay = ue.RetryAfter
				if ceil := e.cfg.MaxDelay(); delay > ceil {
					delay = ceil
				}
			}
			e.logger.Debug("retrying call", "circuit", circuit, "attempt", attempt, "delay", delay)
			e.metrics.RecordMetric("resilience.retry", 1, map[string]string{"circuit": circuit})
			e.sleep(delay)
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout())
		v, err := op(callCtx)
		cancel()

		if err == nil {
			b.RecordSuccess()
			return Result[T]{Value: v, Success: true, Attempts: attempt}
		}

		if errors.Is(err, context.DeadlineExceeded) {
			err = &UpstreamError{Kind: KindTimeout, Msg: err.Error()}
		}
		lastErr = err

		// fatal errors say nothing about service health; keep them out of
		// the breaker so they cannot open it
		if Fatal(err) {
			e.logger.Error("fatal upstream error", "circuit", circuit, "error", err)
			break
		}
		b.RecordFailure()
		e.logger.Warn("upstream call failed", "circuit", circuit, "attempt", attempt, "error", err)

		if !Retryable(err) {
			break
		}
		if b.State() == StateOpen {
			break
		}
	}

	// fatal failures are caller mistakes; degrading would only mask them
	if Fatal(lastErr) {
		return Result[T]{Err: lastErr, Attempts: attempts}
	}

	e.metrics.RecordMetric("resilience.exhausted", 1, map[string]string{"circuit": circuit})
	return runFallback(ctx, fallback, lastErr, attempts)
}

func runFallback[T any](ctx context.Context, fallback Fallback[T], cause error, attempts int) Result[T] {
	if fallback == nil {
		return Result[T]{Err: cause, Attempts: attempts}
	}
	v, err := fallback(ctx, cause)
	if err != nil {
		return Result[T]{Err: err, UsedFallback: true, Attempts: attempts}
	}
	return Result[T]{Value: v, Err: cause, Success: true, UsedFallback: true, Attempts: attempts}
}

func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d > max || d <= 0 {
		d = max
	}
	return d
}
