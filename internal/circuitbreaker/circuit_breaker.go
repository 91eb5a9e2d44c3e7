package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means the circuit is testing if the service has recovered
	StateHalfOpen State = "half_open"
)

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name             string
	maxFailures      int           // consecutive failures before opening
	timeout          time.Duration // time to wait before attempting half-open
	halfOpenMaxCalls int           // successes needed in half-open to close
	now              func() time.Time

	mu               sync.Mutex
	state            State
	halfOpenCalls    int
	halfOpenSuccess  int
	consecutiveFails int
	lastStateChange  time.Time
}

// Config configures a circuit breaker
type Config struct {
	Name             string
	MaxFailures      int
	Timeout          time.Duration
	HalfOpenMaxCalls int
	Now              func() time.Time
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	halfOpen := config.HalfOpenMaxCalls
	if halfOpen < 1 {
		halfOpen = 1
	}
	return &CircuitBreaker{
		name:             config.Name,
		maxFailures:      config.MaxFailures,
		timeout:          config.Timeout,
		halfOpenMaxCalls: halfOpen,
		now:              now,
		state:            StateClosed,
		lastStateChange:  now(),
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when too many requests are made in half-open state
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Execute executes a function with circuit breaker protection. Context
// cancellation is not counted as a failure of the protected service.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.afterRequest(err != nil && ctx.Err() == nil)

	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		logging.WithFields(map[string]interface{}{
			"circuitBreaker": cb.name,
			"state":          StateHalfOpen,
		}).Info("Circuit breaker transitioning to half-open")
		fallthrough

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return ErrTooManyRequests
		}
		cb.halfOpenCalls++
		return nil

	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failed {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.consecutiveFails = 0

	if cb.state == StateHalfOpen {
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.halfOpenMaxCalls {
			cb.setState(StateClosed)
			logging.WithFields(map[string]interface{}{
				"circuitBreaker": cb.name,
				"state":          StateClosed,
			}).Info("Circuit breaker closed after successful recovery")
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.consecutiveFails++

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFails >= cb.maxFailures {
			cb.setState(StateOpen)
			logging.WithFields(map[string]interface{}{
				"circuitBreaker":   cb.name,
				"state":            StateOpen,
				"consecutiveFails": cb.consecutiveFails,
			}).Warn("Circuit breaker opened due to failures")
		}

	case StateHalfOpen:
		// Any failure in half-open state reopens the circuit
		cb.setState(StateOpen)
		logging.WithFields(map[string]interface{}{
			"circuitBreaker": cb.name,
			"state":          StateOpen,
		}).Warn("Circuit breaker reopened after failure in half-open state")
	}
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.halfOpenCalls = 0
	cb.halfOpenSuccess = 0
	if state == StateClosed {
		cb.consecutiveFails = 0
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	logging.WithField("circuitBreaker", cb.name).Info("Circuit breaker manually reset")
}
