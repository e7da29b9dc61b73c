package backendhealth

import "sync"

// MetricsSink receives circuit breaker state transitions for export.
type MetricsSink interface {
	SetCircuitState(host string, state State)
	IncCircuitTrip(host string)
}

// Registry tracks one circuit breaker per backend host seen by the bridge
// worker's server-group walk (spec.md §4.4.1). It is advisory only: Allow
// returning false means "try this host last, not never" — the worker's
// caller decides what to do with that signal.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	cfg      BreakerConfig
	metrics  MetricsSink
}

// NewRegistry creates an empty registry. Breakers are created lazily, one
// per distinct host string the worker reports against.
func NewRegistry(cfg BreakerConfig, metrics MetricsSink) *Registry {
	return &Registry{
		breakers: make(map[string]*breaker),
		cfg:      cfg,
		metrics:  metrics,
	}
}

func (r *Registry) breakerFor(host string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.breakers[host]
	if b == nil {
		b = newBreaker(host, r.cfg, r.onStateChange)
		r.breakers[host] = b
	}
	return b
}

func (r *Registry) onStateChange(host string, from, to State) {
	if r.metrics == nil {
		return
	}
	r.metrics.SetCircuitState(host, to)
	if to == StateOpen {
		r.metrics.IncCircuitTrip(host)
	}
}

// Allow reports whether host's circuit breaker currently permits an
// attempt. Unknown hosts are always allowed (closed by default).
func (r *Registry) Allow(host string) bool {
	return r.breakerFor(host).Allow()
}

// Report records the outcome of a connect attempt against host.
func (r *Registry) Report(host string, err error) {
	r.breakerFor(host).Report(err)
}

// State returns the current breaker state for host, for health reporting.
func (r *Registry) State(host string) State {
	r.mu.Lock()
	b := r.breakers[host]
	r.mu.Unlock()
	if b == nil {
		return StateClosed
	}
	return b.State()
}

// Snapshot returns every known host's current breaker state.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.breakers))
	for host, b := range r.breakers {
		out[host] = b.State()
	}
	return out
}
