// Package circuit provides a three-state circuit breaker for guarding calls
// to external dependencies. One Breaker instance is shared by all workers
// calling the dependency it names; every transition happens under its mutex.
package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"claimgate/pkg/platform/sentinel"
)

// State is the breaker's position in its lifecycle.
type State int

const (
	// StateClosed passes calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen fails fast without invoking the dependency until the
	// cooldown elapses.
	StateOpen
	// StateHalfOpen admits a single trial call. Success closes the
	// breaker; failure re-opens it and restarts the cooldown.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// StateChange reports a transition for logging and metrics.
type StateChange struct {
	From State
	To   State
}

// Breaker guards one named dependency.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
	onChange         func(name string, change StateChange)

	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the consecutive-failure count that opens the
// breaker. Values below 1 are ignored.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n >= 1 {
			b.failureThreshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before admitting a
// half-open trial call.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock overrides the time source. Tests use this to step through
// cooldown windows without sleeping.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithStateChange registers a callback invoked outside the lock after every
// transition.
func WithStateChange(fn func(name string, change StateChange)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// New constructs a closed Breaker for the named dependency.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		cooldown:         30 * time.Second,
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, promoting OPEN to HALF_OPEN when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	change, state := b.maybeHalfOpenLocked(), b.state
	b.mu.Unlock()
	b.notify(change)
	return state
}

// IsOpen reports whether calls would currently fail fast.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Allow reports whether a call may proceed, reserving the single half-open
// trial slot when applicable. Callers that receive true must report the
// outcome via RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	change := b.maybeHalfOpenLocked()

	var allowed bool
	switch b.state {
	case StateClosed:
		allowed = true
	case StateHalfOpen:
		// One trial at a time.
		if !b.trialInFlight {
			b.trialInFlight = true
			allowed = true
		}
	case StateOpen:
		allowed = false
	}
	b.mu.Unlock()
	b.notify(change)
	return allowed
}

// RecordSuccess notes a successful call. In HALF_OPEN it closes the breaker;
// in CLOSED it resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	var change *StateChange
	switch b.state {
	case StateHalfOpen:
		change = b.transitionLocked(StateClosed)
	case StateClosed:
		b.failures = 0
	}
	b.mu.Unlock()
	b.notify(change)
}

// RecordFailure notes a failed call. Reaching the threshold in CLOSED opens
// the breaker; any failure in HALF_OPEN re-opens it with a fresh cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	var change *StateChange
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			change = b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		change = b.transitionLocked(StateOpen)
	}
	b.mu.Unlock()
	b.notify(change)
}

// Reset forces the breaker closed. Operational escape hatch, not part of the
// normal lifecycle.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var change *StateChange
	if b.state != StateClosed {
		change = b.transitionLocked(StateClosed)
	} else {
		b.failures = 0
	}
	b.mu.Unlock()
	b.notify(change)
}

// Do runs fn under the breaker. When the breaker is open it returns
// sentinel.ErrUnavailable without invoking fn. Any error from fn, including
// context deadline expiry, counts as a failure.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return fmt.Errorf("circuit %q open: %w", b.name, sentinel.ErrUnavailable)
	}
	if err := fn(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// maybeHalfOpenLocked promotes OPEN to HALF_OPEN once the cooldown has
// elapsed. Caller holds the mutex.
func (b *Breaker) maybeHalfOpenLocked() *StateChange {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return b.transitionLocked(StateHalfOpen)
	}
	return nil
}

// transitionLocked moves to the target state and resets the bookkeeping that
// belongs to the old one. Caller holds the mutex.
func (b *Breaker) transitionLocked(to State) *StateChange {
	from := b.state
	b.state = to
	b.trialInFlight = false
	switch to {
	case StateOpen:
		b.openedAt = b.now()
		b.failures = b.failureThreshold
	case StateClosed:
		b.failures = 0
	}
	return &StateChange{From: from, To: to}
}

func (b *Breaker) notify(change *StateChange) {
	if change != nil && b.onChange != nil {
		b.onChange(b.name, *change)
	}
}
