package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// State is the health of one named circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker is a consecutive-failure circuit breaker. While open, calls are
// short-circuited until the recovery timeout elapses; the circuit then
// admits a single trial call.
type Breaker struct {
	name      string
	threshold int
	recovery  time.Duration
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trialing    bool

	now func() time.Time
}

func NewBreaker(name string, threshold int, recovery time.Duration, logger *slog.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		recovery:  recovery,
		logger:    logger,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed, handling the open -> half-open
// transition. In half-open state only one trial call is admitted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.recovery {
			b.state = StateHalfOpen
			b.trialing = true
			b.logger.Debug("circuit half-open, admitting trial call", "circuit", b.name)
			return true
		}
		return false
	case StateHalfOpen:
		if b.trialing {
			return false
		}
		b.trialing = true
		return true
	}
	return false
}

// RecordSuccess resets the circuit to closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.logger.Info("circuit closed", "circuit", b.name)
	}
	b.state = StateClosed
	b.failures = 0
	b.trialing = false
}

// RecordFailure counts a consecutive failure and opens the circuit at the
// threshold. A half-open trial failure reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	b.trialing = false

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.logger.Warn("circuit reopened after failed trial", "circuit", b.name)
		return
	}
	if b.state == StateClosed && b.failures >= b.threshold {
		b.state = StateOpen
		b.logger.Warn("circuit opened", "circuit", b.name, "failures", b.failures)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
