package lib

import (
	"sync"
	"time"

	"github.com/treesum/treesum/internal/treesum/types"
)

// Breaker is a consecutive-failure circuit breaker guarding one named
// component. After threshold consecutive failures it opens: Allow returns
// false until the reset timeout has elapsed since the last failure, at
// which point exactly one probe operation is let through; further callers
// are refused until that probe's outcome is reported. A successful probe
// closes the breaker and resets the counter; a failing probe extends the
// open period.
//
// All state transitions are serialized by one mutex per instance.
type Breaker struct {
	mu           sync.Mutex
	failures     int
	lastFailure  time.Time
	open         bool
	probing      bool
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time // injectable clock for testing
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock sets a custom clock function (for testing).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = fn }
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and allows a recovery probe once resetTimeout has elapsed
// since the last failure.
func NewBreaker(threshold int, resetTimeout time.Duration, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Allow reports whether the guarded operation may be attempted. While
// open it returns false, except once the reset timeout has elapsed, when
// it lets a single probe through; concurrent callers in the same window
// are refused until the probe's outcome is reported. The breaker stays
// open until that outcome is a success.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.probing {
		return false
	}
	if b.now().Sub(b.lastFailure) > b.resetTimeout {
		b.probing = true
		return true
	}
	return false
}

// Report records the outcome of an attempted operation. A success closes
// the breaker and zeroes the consecutive-failure count; a failure bumps
// the count, refreshes the last-failure time and opens the breaker once
// the threshold is reached.
func (b *Breaker) Report(isFailure bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if !isFailure {
		b.failures = 0
		b.open = false
		return
	}
	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.threshold {
		b.open = true
	}
}

// State returns a copy of the breaker's current state.
func (b *Breaker) State() types.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return types.CircuitBreakerState{
		FailureCount: b.failures,
		LastFailure:  b.lastFailure,
		Open:         b.open,
	}
}

// BreakerSet hands out one Breaker per component tag, creating them
// lazily with shared threshold/timeout settings. Per-component instances
// keep one misbehaving component from gating healthy ones.
type BreakerSet struct {
	mu           sync.Mutex
	breakers     map[string]*Breaker
	threshold    int
	resetTimeout time.Duration
	opts         []BreakerOption
}

// NewBreakerSet creates an empty registry of per-component breakers.
func NewBreakerSet(threshold int, resetTimeout time.Duration, opts ...BreakerOption) *BreakerSet {
	return &BreakerSet{
		breakers:     make(map[string]*Breaker),
		threshold:    threshold,
		resetTimeout: resetTimeout,
		opts:         opts,
	}
}

// For returns the breaker for a component tag, creating it on first use.
func (s *BreakerSet) For(component string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[component]
	if !ok {
		b = NewBreaker(s.threshold, s.resetTimeout, s.opts...)
		s.breakers[component] = b
	}
	return b
}

// Allow is shorthand for For(component).Allow().
func (s *BreakerSet) Allow(component string) bool {
	return s.For(component).Allow()
}

// Report is shorthand for For(component).Report(isFailure).
func (s *BreakerSet) Report(component string, isFailure bool) {
	s.For(component).Report(isFailure)
}
