// Package resilience guards outbound side channels against a peer that has
// gone away.
//
// [CircuitBreaker] counts consecutive failures of an operation. Once the
// limit is hit it opens and rejects calls with [ErrCircuitOpen] for a cool
// off period, after which a single probe call decides whether to close again
// or stay open for another period. The trigger notifier uses it so an
// unreachable peer costs one warning per period instead of one per match.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// OpenFor is how long the breaker rejects calls before probing.
	// Default: 30s.
	OpenFor time.Duration

	// Now replaces time.Now.
	Now func() time.Time
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name        string
	maxFailures int
	openFor     time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		openFor:     cfg.OpenFor,
		now:         cfg.Now,
	}
}

// Execute calls fn unless the breaker is open. While half-open only one
// probe runs at a time; concurrent callers get [ErrCircuitOpen].
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.stateLocked() != StateClosed {
		if cb.probing || cb.stateLocked() == StateOpen {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	probe := cb.probing
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probing = false
	}
	if err == nil {
		if cb.state != StateClosed {
			slog.Info("circuit closed", "name", cb.name)
		}
		cb.state, cb.failures = StateClosed, 0
		return nil
	}

	cb.failures++
	if probe || cb.failures >= cb.maxFailures {
		if cb.state == StateClosed {
			slog.Warn("circuit opened", "name", cb.name, "failures", cb.failures, "open_for", cb.openFor)
		}
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
	return err
}

// stateLocked folds an expired open period into half-open. cb.mu must be held.
func (cb *CircuitBreaker) stateLocked() State {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.openFor {
		return StateHalfOpen
	}
	return cb.state
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// Reset closes the breaker and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state, cb.failures, cb.probing = StateClosed, 0, false
}
