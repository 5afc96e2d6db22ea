// Package breaker implements per-provider circuit breaking for the
// engine's external dependencies. A breaker trips after a run of
// consecutive failures, rejects calls while open, and probes the
// dependency with a bounded number of half-open calls before closing.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dealerrag/internal/logging"
)

// State is the breaker state machine position.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected without being attempted.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Adaptive mode: failures inside this window beyond the burst limit lower
// the effective threshold.
const (
	adaptiveWindow     = 60 * time.Second
	adaptiveBurstLimit = 10
	adaptiveFloor      = 3
)

// Config tunes one breaker.
type Config struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMax      int
	Adaptive         bool
}

// Breaker is a single circuit breaker. Safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state            State
	failures         int
	lastFailure      time.Time
	halfOpenCalls    int
	halfOpenSuccess  int
	recentFailures   []time.Time // adaptive window, pruned on access
	totalCalls       int64
	totalFailures    int64
	totalSuccesses   int64
	totalRejections  int64
	openTransitions  int64
	closeTransitions int64
}

// New creates a breaker with the given configuration.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	b := &Breaker{cfg: cfg, state: StateClosed}
	setStateGauge(cfg.Name, StateClosed)
	return b
}

// Name returns the breaker's provider name.
func (b *Breaker) Name() string { return b.cfg.Name }

// State returns the current state, applying the open->half-open timeout
// transition if due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(time.Now())
}

// currentState must be called with the lock held.
func (b *Breaker) currentState(now time.Time) State {
	if b.state == StateOpen && !now.Before(b.lastFailure.Add(b.cfg.RecoveryTimeout)) {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// effectiveThreshold applies the adaptive window, with the lock held.
func (b *Breaker) effectiveThreshold(now time.Time) int {
	if !b.cfg.Adaptive {
		return b.cfg.FailureThreshold
	}
	cutoff := now.Add(-adaptiveWindow)
	kept := b.recentFailures[:0]
	for _, t := range b.recentFailures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.recentFailures = kept
	if len(b.recentFailures) > adaptiveBurstLimit {
		lowered := b.cfg.FailureThreshold - 2
		if lowered < adaptiveFloor {
			lowered = adaptiveFloor
		}
		return lowered
	}
	return b.cfg.FailureThreshold
}

// transition changes state and emits metrics and logs. Lock held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	switch to {
	case StateOpen:
		b.openTransitions++
		incOpens(b.cfg.Name)
	case StateHalfOpen:
		b.halfOpenCalls = 0
		b.halfOpenSuccess = 0
	case StateClosed:
		b.failures = 0
		b.closeTransitions++
		incCloses(b.cfg.Name)
	}
	setStateGauge(b.cfg.Name, to)
	logging.BreakerWarn("%s: %s -> %s", b.cfg.Name, from, to)
	logging.Audit().BreakerTransition(b.cfg.Name, from.String(), to.String())
}

// Allow reports whether a call may proceed, reserving a half-open slot
// when probing. Callers must report the outcome with Success or Failure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.currentState(now) {
	case StateOpen:
		b.totalRejections++
		incRejections(b.cfg.Name)
		return fmt.Errorf("%s: %w", b.cfg.Name, ErrCircuitOpen)
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMax {
			b.totalRejections++
			incRejections(b.cfg.Name)
			return fmt.Errorf("%s: %w", b.cfg.Name, ErrCircuitOpen)
		}
		b.halfOpenCalls++
	}
	return nil
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++
	b.totalSuccesses++
	incCalls(b.cfg.Name, true)

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.HalfOpenMax {
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.totalCalls++
	b.totalFailures++
	b.lastFailure = now
	incCalls(b.cfg.Name, false)
	if b.cfg.Adaptive {
		b.recentFailures = append(b.recentFailures, now)
	}

	switch b.state {
	case StateHalfOpen:
		// A single failed probe reopens the circuit
		b.transition(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.effectiveThreshold(now) {
			b.transition(StateOpen)
		}
	}
}

// Do runs fn under the breaker. Context cancellation before the call
// counts as neither success nor failure.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		// Caller-side cancellation is not a provider failure
		if errors.Is(err, context.Canceled) {
			return err
		}
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

// Reset forces the breaker closed. The adaptive failure window is kept:
// a manual reset does not erase evidence of a failing provider.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.transition(StateClosed)
}

// Snapshot is a point-in-time view for health and stats endpoints.
type Snapshot struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	Failures         int       `json:"consecutive_failures"`
	LastFailure      time.Time `json:"last_failure,omitempty"`
	TotalCalls       int64     `json:"total_calls"`
	TotalFailures    int64     `json:"total_failures"`
	TotalSuccesses   int64     `json:"total_successes"`
	TotalRejections  int64     `json:"total_rejections"`
	OpenTransitions  int64     `json:"open_transitions"`
	CloseTransitions int64     `json:"close_transitions"`
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:             b.cfg.Name,
		State:            b.currentState(time.Now()).String(),
		Failures:         b.failures,
		LastFailure:      b.lastFailure,
		TotalCalls:       b.totalCalls,
		TotalFailures:    b.totalFailures,
		TotalSuccesses:   b.totalSuccesses,
		TotalRejections:  b.totalRejections,
		OpenTransitions:  b.openTransitions,
		CloseTransitions: b.closeTransitions,
	}
}

// Registry holds the engine's named breakers.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Register adds a breaker, replacing any existing one with the same name.
func (r *Registry) Register(b *Breaker) {
	r.mu.Lock()
	r.breakers[b.Name()] = b
	r.mu.Unlock()
}

// Get returns the named breaker, or nil.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Snapshots returns stats for every registered breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Stats())
	}
	return out
}

// ResetAll force-closes every breaker.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}
