package scheduler

import (
	"sync"
	"time"

	"github.com/dipeo/engine/internal/domain"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreakerConfig bounds one node type's failure tolerance within a
// rolling window before dispatches of that type fail fast (spec §4.7.5,
// optional). Grounded on the teacher's executor.CircuitBreakerConfig,
// simplified from a request-counting state machine to a
// failures-within-window counter since the scheduler dispatches per-node
// rather than per-request.
type CircuitBreakerConfig struct {
	FailureThreshold int
	Window           time.Duration
	CooldownPeriod   time.Duration
}

// DefaultCircuitBreakerConfig opens a node type's breaker after 5 failures
// within one minute and keeps it open for a one-minute cooldown. The
// scheduler consults breakers only when Config.EnableCircuitBreaker is set.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Window:           time.Minute,
		CooldownPeriod:   time.Minute,
	}
}

type breakerState struct {
	mu        sync.Mutex
	state     circuitState
	failures  []time.Time
	openedAt  time.Time
}

// CircuitBreakerBank tracks one breaker per node type.
type CircuitBreakerBank struct {
	cfg      CircuitBreakerConfig
	mu       sync.Mutex
	breakers map[domain.NodeType]*breakerState
}

// NewCircuitBreakerBank constructs a bank with the given configuration.
func NewCircuitBreakerBank(cfg CircuitBreakerConfig) *CircuitBreakerBank {
	return &CircuitBreakerBank{cfg: cfg, breakers: make(map[domain.NodeType]*breakerState)}
}

func (b *CircuitBreakerBank) stateFor(nodeType domain.NodeType) *breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.breakers[nodeType]
	if !ok {
		st = &breakerState{}
		b.breakers[nodeType] = st
	}
	return st
}

// Allow reports whether a dispatch of nodeType may proceed, transitioning an
// open breaker to half-open once its cooldown has elapsed.
func (b *CircuitBreakerBank) Allow(nodeType domain.NodeType) bool {
	st := b.stateFor(nodeType)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state == circuitOpen {
		if time.Since(st.openedAt) >= b.cfg.CooldownPeriod {
			st.state = circuitHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess closes a half-open breaker and clears its failure window.
func (b *CircuitBreakerBank) RecordSuccess(nodeType domain.NodeType) {
	st := b.stateFor(nodeType)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state = circuitClosed
	st.failures = nil
}

// RecordFailure records a failure and opens the breaker once the number of
// failures within the configured window reaches the threshold, or on any
// failure while half-open.
func (b *CircuitBreakerBank) RecordFailure(nodeType domain.NodeType) {
	st := b.stateFor(nodeType)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-b.cfg.Window)
	kept := st.failures[:0:0]
	for _, t := range st.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	st.failures = kept

	if st.state == circuitHalfOpen || len(st.failures) >= b.cfg.FailureThreshold {
		st.state = circuitOpen
		st.openedAt = now
	}
}
