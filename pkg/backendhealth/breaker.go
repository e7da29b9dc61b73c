// Package backendhealth advises the bridge worker's server-group walk
// (spec.md §4.4.1) about which backend hosts are currently reachable. It
// never overrides the walk — a host with an open circuit is simply tried
// last — so a flapping host can still be reached if every other candidate
// in the group also fails.
package backendhealth

import (
	"sync"
	"time"
)

// State is the circuit breaker state for one backend host.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls one host's circuit breaker.
type BreakerConfig struct {
	MaxFailures      int
	ResetTimeout     time.Duration
	SuccessThreshold int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 2
	}
	return c
}

// breaker is a per-host circuit breaker, adapted from the teacher's
// pkg/breaker: same closed/half-open/open state machine, scoped to one
// backend host instead of one protocol connection.
type breaker struct {
	mu              sync.Mutex
	cfg             BreakerConfig
	state           State
	failures        int
	successes       int
	lastStateChange time.Time
	onStateChange   func(host string, from, to State)
	host            string
}

func newBreaker(host string, cfg BreakerConfig, onStateChange func(string, State, State)) *breaker {
	return &breaker{
		cfg:             cfg.withDefaults(),
		state:           StateClosed,
		lastStateChange: time.Now(),
		onStateChange:   onStateChange,
		host:            host,
	}
}

// Allow reports whether a connect attempt to this host should proceed.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastStateChange) > b.cfg.ResetTimeout {
			b.setState(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// Report records the outcome of a connect attempt.
func (b *breaker) Report(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		switch b.state {
		case StateClosed:
			if b.failures >= b.cfg.MaxFailures {
				b.setState(StateOpen)
			}
		case StateHalfOpen:
			b.setState(StateOpen)
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.setState(StateClosed)
		}
	}
}

func (b *breaker) setState(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.lastStateChange = time.Now()
	if next == StateClosed {
		b.failures, b.successes = 0, 0
	} else if next == StateHalfOpen {
		b.successes = 0
	}
	if b.onStateChange != nil {
		go b.onStateChange(b.host, prev, next)
	}
}

// State returns the breaker's current state.
func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
