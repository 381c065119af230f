// Package breaker gates sync calls per project with a Closed/Open/
// Half-Open circuit. Open rejections surface as the non-retryable
// circuit_breaker error category.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codesync-dev/codesync/internal/syncerr"
)

// State is the circuit state.
type State string

const (
	// StateClosed admits calls and counts failures.
	StateClosed State = "closed"
	// StateOpen rejects calls until the timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen admits a bounded number of probe calls.
	StateHalfOpen State = "half_open"
)

const (
	// DefaultFailureThreshold is the consecutive-failure count that opens the circuit.
	DefaultFailureThreshold = 5

	// DefaultTimeout is how long an open circuit rejects before probing.
	DefaultTimeout = 300 * time.Second

	// DefaultHalfOpenMaxCalls bounds concurrent probes in half-open state.
	DefaultHalfOpenMaxCalls = 1
)

// Config tunes a circuit breaker. Zero values use the defaults.
type Config struct {
	FailureThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}

	return c
}

// Breaker is a single circuit. Safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	cfg             Config
	state           State
	failureCount    int
	lastFailureTime time.Time
	halfOpenCalls   int

	now func() time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:   cfg.withDefaults(),
		state: StateClosed,
		now:   time.Now,
	}
}

// Call runs fn through the circuit. An open circuit rejects with a
// syncerr.ErrCircuitOpen-wrapped error without invoking fn.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	err := b.admit()
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	if callErr != nil {
		b.onFailure()

		return callErr
	}

	b.onSuccess()

	return nil
}

// admit checks and updates state for one call attempt.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.lastFailureTime)
		if elapsed <= b.cfg.Timeout {
			remaining := (b.cfg.Timeout - elapsed).Round(time.Second)

			return fmt.Errorf("%w: too many failures, retry after %s", syncerr.ErrCircuitOpen, remaining)
		}

		b.state = StateHalfOpen
		b.halfOpenCalls = 0
	}

	if b.state == StateHalfOpen {
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return fmt.Errorf("%w: recovery probe already in progress", syncerr.ErrCircuitOpen)
		}

		b.halfOpenCalls++
	}

	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = b.now()

	if b.state == StateHalfOpen {
		b.state = StateOpen

		return
	}

	if b.failureCount >= b.cfg.FailureThreshold {
		b.state = StateOpen
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Reset forces the circuit back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	b.halfOpenCalls = 0
}

// Registry holds one breaker per project. Breakers are created on
// first use with the registry's config.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for a project, creating it if absent.
func (r *Registry) For(projectID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[projectID]
	if !ok {
		b = New(r.cfg)
		r.breakers[projectID] = b
	}

	return b
}
