// Package circuitbreaker guards the embedding provider: after a run of
// failures the circuit opens and calls fail fast until the recovery timeout
// elapses, then a single half-open probe decides whether to close again.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

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

// Config controls the breaker.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration
	// OnStateChange is invoked on every transition.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the service defaults: 5 failures, 60s recovery.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Breaker is a lock-free circuit breaker.
type Breaker struct {
	config *Config

	state           int32 // State, accessed atomically
	lastFailureTime int64 // unix nanos

	consecutiveFailures int32
	halfOpenInFlight    int32

	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejections int64
}

// New creates a Breaker in the closed state.
func New(config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	return &Breaker{config: config, state: int32(StateClosed)}
}

// Execute runs fn under breaker protection. When the circuit is open the
// call is rejected with ErrCircuitOpen without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		atomic.AddInt64(&b.totalRejections, 1)
		return err
	}

	atomic.AddInt64(&b.totalRequests, 1)
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	switch b.State() {
	case StateClosed:
		return nil
	case StateOpen:
		if b.recoveryElapsed() {
			b.transition(StateHalfOpen)
			return b.allowHalfOpen()
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return b.allowHalfOpen()
	default:
		return fmt.Errorf("unknown circuit state")
	}
}

// allowHalfOpen admits a single probe at a time.
func (b *Breaker) allowHalfOpen() error {
	if atomic.AddInt32(&b.halfOpenInFlight, 1) > 1 {
		atomic.AddInt32(&b.halfOpenInFlight, -1)
		return ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) record(err error) {
	state := b.State()
	if state == StateHalfOpen {
		defer atomic.AddInt32(&b.halfOpenInFlight, -1)
	}

	if err != nil {
		atomic.AddInt64(&b.totalFailures, 1)
		atomic.StoreInt64(&b.lastFailureTime, time.Now().UnixNano())
		switch state {
		case StateClosed:
			if atomic.AddInt32(&b.consecutiveFailures, 1) >= int32(b.config.FailureThreshold) {
				b.transition(StateOpen)
			}
		case StateHalfOpen:
			b.transition(StateOpen)
		case StateOpen:
		}
		return
	}

	atomic.AddInt64(&b.totalSuccesses, 1)
	switch state {
	case StateClosed:
		atomic.StoreInt32(&b.consecutiveFailures, 0)
	case StateHalfOpen:
		// One successful probe closes the circuit.
		b.transition(StateClosed)
	case StateOpen:
	}
}

func (b *Breaker) recoveryElapsed() bool {
	last := atomic.LoadInt64(&b.lastFailureTime)
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) >= b.config.RecoveryTimeout
}

func (b *Breaker) transition(to State) {
	from := State(atomic.SwapInt32(&b.state, int32(to)))
	if from == to {
		return
	}
	switch to {
	case StateClosed:
		atomic.StoreInt32(&b.consecutiveFailures, 0)
	case StateHalfOpen:
		atomic.StoreInt32(&b.halfOpenInFlight, 0)
	case StateOpen:
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(from, to)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	return State(atomic.LoadInt32(&b.state))
}

// Stats is a point-in-time snapshot of breaker counters.
type Stats struct {
	State               State     `json:"state"`
	TotalRequests       int64     `json:"total_requests"`
	TotalFailures       int64     `json:"total_failures"`
	TotalSuccesses      int64     `json:"total_successes"`
	TotalRejections     int64     `json:"total_rejections"`
	ConsecutiveFailures int32     `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time,omitempty"`
}

// GetStats returns a snapshot of the counters.
func (b *Breaker) GetStats() Stats {
	var lastFailure time.Time
	if nanos := atomic.LoadInt64(&b.lastFailureTime); nanos > 0 {
		lastFailure = time.Unix(0, nanos)
	}
	return Stats{
		State:               b.State(),
		TotalRequests:       atomic.LoadInt64(&b.totalRequests),
		TotalFailures:       atomic.LoadInt64(&b.totalFailures),
		TotalSuccesses:      atomic.LoadInt64(&b.totalSuccesses),
		TotalRejections:     atomic.LoadInt64(&b.totalRejections),
		ConsecutiveFailures: atomic.LoadInt32(&b.consecutiveFailures),
		LastFailureTime:     lastFailure,
	}
}

// Reset forces the breaker back to closed and clears failure tracking.
func (b *Breaker) Reset() {
	atomic.StoreInt32(&b.state, int32(StateClosed))
	atomic.StoreInt32(&b.consecutiveFailures, 0)
	atomic.StoreInt32(&b.halfOpenInFlight, 0)
	atomic.StoreInt64(&b.lastFailureTime, 0)
}

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")
