// Package circuitbreaker guards calls to an unreliable dependency. After a
// run of failures the breaker opens and rejects calls outright; after a
// cooling-off period a limited number of probe calls decide whether it closes
// again.
package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

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

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds breaker tuning.
type Config struct {
	Name string

	// MaxFailures opens the circuit once this many consecutive failures
	// are seen in the closed state.
	MaxFailures int

	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration

	// HalfOpenMaxRequests bounds concurrent probes in the half-open state
	// and is also the success count needed to close again.
	HalfOpenMaxRequests int
}

// DefaultConfig returns a breaker tolerating brief outages.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:                name,
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

type CircuitBreaker struct {
	config *Config
	logger zerolog.Logger

	mu            sync.RWMutex
	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	halfOpenCount int32
}

// New creates a circuit breaker. A nil cfg uses DefaultConfig.
func New(cfg *Config, logger zerolog.Logger) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultConfig("default")
	}
	return &CircuitBreaker{
		config: cfg,
		logger: logger.With().Str("component", "circuit-breaker").Str("name", cfg.Name).Logger(),
		state:  StateClosed,
	}
}

// Execute runs fn unless the circuit is open, and feeds the result back into
// the breaker state.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.RLock()
	state := cb.state
	lastFailure := cb.lastFailure
	cb.mu.RUnlock()

	switch state {
	case StateOpen:
		if time.Since(lastFailure) <= cb.config.Timeout {
			return false
		}
		cb.mu.Lock()
		// Another caller may have transitioned already.
		if cb.state == StateOpen {
			cb.transition(StateHalfOpen)
			atomic.StoreInt32(&cb.halfOpenCount, 0)
		}
		cb.mu.Unlock()
		return true

	case StateHalfOpen:
		return atomic.AddInt32(&cb.halfOpenCount, 1) <= int32(cb.config.HalfOpenMaxRequests)

	default:
		return true
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.successes = 0
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe reopens immediately.
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.successes++

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.successes >= cb.config.HalfOpenMaxRequests {
			cb.transition(StateClosed)
		}
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.failures = 0
	cb.successes = 0

	cb.logger.Info().
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("Circuit breaker state changed")
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// IsOpen reports whether the circuit is open.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.failures = 0
	cb.successes = 0
}
