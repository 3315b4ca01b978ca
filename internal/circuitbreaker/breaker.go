// Package circuitbreaker stops calling an upstream that keeps failing.
//
// Each key moves closed -> open after a run of consecutive failures, stays
// open for a cool-down, then half-open where exactly one probe call decides
// whether it closes again or reopens.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Guard when the circuit rejects a call.
var ErrOpen = errors.New("circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls are rejected
	StateHalfOpen              // one probe call is in flight
)

// String returns the state name.
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

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bakehouse",
		Subsystem: "circuitbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
	}, []string{"key", "from_state", "to_state"})

	stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bakehouse",
		Subsystem: "circuitbreaker",
		Name:      "state",
		Help:      "Current circuit state by key (0 closed, 1 open, 2 half-open).",
	}, []string{"key"})
)

func init() {
	prometheus.MustRegister(transitionsTotal, stateGauge)
}

type entry struct {
	state    State
	failures int
	openedAt time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithTransitionHook registers fn to run synchronously on every state change.
// fn must not call back into the breaker.
func WithTransitionHook(fn func(key string, from, to State)) Option {
	return func(b *Breaker) { b.onTransition = fn }
}

// Breaker tracks circuit state per key.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	coolDown     time.Duration
	now          func() time.Time
	onTransition func(key string, from, to State)
}

// New creates a breaker that opens after threshold consecutive failures and
// probes again once coolDown has passed. Non-positive values fall back to
// 5 failures and 30s.
func New(threshold int, coolDown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	b := &Breaker{
		entries:   make(map[string]*entry),
		threshold: threshold,
		coolDown:  coolDown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Guard asks to make one call to key. On success it returns a done func
// that must be called exactly once with whether the call failed.
func (b *Breaker) Guard(key string) (done func(failed bool), err error) {
	if !b.Allow(key) {
		return nil, ErrOpen
	}
	var once sync.Once
	return func(failed bool) {
		once.Do(func() {
			if failed {
				b.RecordFailure(key)
			} else {
				b.RecordSuccess(key)
			}
		})
	}, nil
}

// Allow reports whether a call to key may proceed. An open circuit whose
// cool-down has passed moves to half-open and admits the caller as its probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return true
	}
	switch e.state {
	case StateOpen:
		if b.now().Sub(e.openedAt) < b.coolDown {
			return false
		}
		b.transition(e, key, StateHalfOpen)
		return true
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure run and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return
	}
	e.failures = 0
	if e.state == StateHalfOpen {
		b.transition(e, key, StateClosed)
	}
}

// RecordFailure extends the failure run. A failed probe reopens the circuit.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[key] = e
	}
	e.failures++

	switch {
	case e.state == StateHalfOpen:
		e.openedAt = b.now()
		b.transition(e, key, StateOpen)
	case e.state == StateClosed && e.failures >= b.threshold:
		e.openedAt = b.now()
		b.transition(e, key, StateOpen)
	}
}

// State returns the state for key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok {
		return e.state
	}
	return StateClosed
}

// Caller must hold b.mu.
func (b *Breaker) transition(e *entry, key string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	transitionsTotal.WithLabelValues(key, from.String(), to.String()).Inc()
	stateGauge.WithLabelValues(key).Set(float64(to))
	if b.onTransition != nil {
		b.onTransition(key, from, to)
	}
}
