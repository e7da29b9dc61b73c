package engine

import (
	"context"
	"sync"
	"time"
)

// AccountingSink receives one record per completed bridge. Implementations
// must not block the scheduler for long; pkg/accounting provides the
// default slog-backed sink.
type AccountingSink interface {
	Record(ctx context.Context, info map[string]any)
}

// MetricsSink receives scheduler state transitions for observability.
// All methods must be safe for concurrent use and must not block.
type MetricsSink interface {
	SetActive(service string, n int)
	SetQueued(service string, n int)
	IncPromoted(service string)
	IncReaped(service string, hasError bool)
	ObserveBridge(service string, active time.Duration)
}

// Config configures an Engine.
type Config struct {
	// Handler receives admission/promotion/completion hooks. Defaults to
	// NoopHandler.
	Handler Handler

	// Sink receives one accounting record per completed bridge.
	Sink AccountingSink

	// Metrics, if set, is kept in sync with service/bridge counts.
	Metrics MetricsSink

	// IdleSleep is how long the scheduler sleeps after a pass that
	// promoted nothing. Defaults to 250ms, matching spec.md §4.3.
	IdleSleep time.Duration
}

// Engine is the scheduler: it owns the hand-off list and the service table,
// and runs the single throttle loop described in spec.md §4.3.
type Engine struct {
	handoff handoff

	mu       sync.Mutex
	services map[string]*service

	handler   Handler
	sink      AccountingSink
	metrics   MetricsSink
	idleSleep time.Duration
}

// New creates an Engine from Config, applying defaults for zero fields.
func New(cfg Config) *Engine {
	if cfg.Handler == nil {
		cfg.Handler = NoopHandler{}
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 250 * time.Millisecond
	}
	return &Engine{
		services:  make(map[string]*service),
		handler:   cfg.Handler,
		sink:      cfg.Sink,
		metrics:   cfg.Metrics,
		idleSleep: cfg.IdleSleep,
	}
}

// Submit runs the AuthAdmit hook and, if it passes, stamps StartTime and
// appends the bridge to the hand-off list. Returns the hook's error
// unchanged on rejection; callers must close the inbound socket themselves
// and must not emit an accounting record, per spec.md §7.
func (e *Engine) Submit(ctx context.Context, b *Bridge) error {
	hctx := &Context{
		SessionID:  b.SessionID,
		RemoteAddr: b.RemoteAddr,
		Service:    b.Service,
		Throttle:   b.Throttle,
		Server:     b.Server,
		Port:       b.Port,
	}
	if err := e.handler.AuthAdmit(ctx, hctx); err != nil {
		return err
	}
	b.StartTime = time.Now()
	e.handoff.push(b)
	return nil
}

// Spawner starts a bridge worker for a promoted bridge. The scheduler calls
// it synchronously from within its own pass but expects it to return
// quickly (i.e. to launch a goroutine itself); the bridge is considered
// "active" the instant Spawner is invoked.
type Spawner func(b *Bridge)

// Run drains the hand-off list and advances every service's queue/active
// state in a loop until ctx is cancelled. It never returns an error; ctx
// cancellation is the only exit path, matching spec.md §4.3's
// best-effort shutdown.
func (e *Engine) Run(ctx context.Context, spawn Spawner) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		e.drainHandoff()

		updated := e.pass(ctx, spawn)

		if !updated {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(e.idleSleep):
			}
		}
	}
}

// drainHandoff moves every pending bridge into its service's queue,
// creating the service record if this is its first reference.
func (e *Engine) drainHandoff() {
	items := e.handoff.drain()
	if len(items) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range items {
		svc := e.services[b.Service]
		if svc == nil {
			svc = &service{}
			e.services[b.Service] = svc
		}
		svc.queue = append(svc.queue, b)
	}
}

// pass runs one reap+promote+gc cycle over every service and reports
// whether any promotion happened.
func (e *Engine) pass(ctx context.Context, spawn Spawner) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	updated := false
	for name, svc := range e.services {
		if e.processService(ctx, name, svc, spawn) {
			updated = true
		}
		if len(svc.active) == 0 && len(svc.queue) == 0 {
			delete(e.services, name)
		}
	}
	return updated
}

// processService reaps finished active bridges, then promotes as many
// queued bridges as throttle allows. The promotion scan deliberately does
// not stop at the first refusal: spec.md §9 preserves the original's
// behavior where a later queue entry with a higher throttle can be
// admitted ahead of an earlier, still-throttled one.
func (e *Engine) processService(ctx context.Context, name string, svc *service, spawn Spawner) bool {
	nActive := len(svc.active)
	nQueue := len(svc.queue)

	survivors := make([]*Bridge, 0, len(svc.active))
	reaped := 0
	for _, b := range svc.active {
		if !b.Done() {
			survivors = append(survivors, b)
			continue
		}
		e.reap(ctx, b, nActive, nQueue, reaped, name)
		reaped++
	}
	svc.active = survivors

	updated := false
	remaining := make([]*Bridge, 0, len(svc.queue))
	for _, b := range svc.queue {
		if len(svc.active) < b.Throttle {
			b.ActiveTime = time.Now()
			svc.active = append(svc.active, b)
			updated = true
			if e.metrics != nil {
				e.metrics.IncPromoted(name)
			}
			hctx := &Context{
				SessionID:  b.SessionID,
				RemoteAddr: b.RemoteAddr,
				Service:    b.Service,
				Throttle:   b.Throttle,
				Server:     b.Server,
				Port:       b.Port,
			}
			if err := e.handler.OnPromote(ctx, hctx); err != nil {
				b.Info["OnPromoteError"] = err.Error()
			}
			spawn(b)
		} else {
			remaining = append(remaining, b)
		}
	}
	svc.queue = remaining

	if e.metrics != nil {
		e.metrics.SetActive(name, len(svc.active))
		e.metrics.SetQueued(name, len(svc.queue))
	}

	return updated
}

// reap stamps a completed bridge's final accounting fields and hands it to
// the sink. nActive and nQueue are the sizes captured at the start of the
// pass, before any reaping or promotion in this cycle — matching
// spec.md §4.3's Load.Active/Load.Queue semantics.
func (e *Engine) reap(ctx context.Context, b *Bridge, nActive, nQueue, alreadyReaped int, service string) {
	b.EndTime = time.Now()
	activeDuration := b.EndTime.Sub(b.ActiveTime)
	b.Info["Load"] = map[string]any{
		"Active": nActive - alreadyReaped - 1,
		"Queue":  nQueue,
	}
	b.Info["Duration (active)"] = activeDuration.Seconds()
	b.Info["Duration (queue)"] = b.ActiveTime.Sub(b.StartTime).Seconds()
	b.Info["Transfer"] = map[string]any{
		"In":  map[string]any{"Recv": b.InRecv, "Send": b.InSend},
		"Out": map[string]any{"Recv": b.OutRecv, "Send": b.OutSend},
	}

	if e.sink != nil {
		e.sink.Record(ctx, b.Info)
	}
	hasError := b.Info["Error"] != nil
	if e.metrics != nil {
		e.metrics.IncReaped(service, hasError)
		e.metrics.ObserveBridge(service, activeDuration)
	}
	hctx := &Context{
		SessionID:  b.SessionID,
		RemoteAddr: b.RemoteAddr,
		Service:    b.Service,
		Throttle:   b.Throttle,
		Server:     b.Server,
		Port:       b.Port,
	}
	if err := e.handler.OnComplete(ctx, hctx); err != nil {
		b.Info["OnCompleteError"] = err.Error()
	}
}

// Stats is a snapshot of scheduler state, used by health checks.
type Stats struct {
	Services      int
	ActiveBridges int
	QueuedBridges int
}

// Stats returns a point-in-time snapshot of the service table.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{Services: len(e.services)}
	for _, svc := range e.services {
		s.ActiveBridges += len(svc.active)
		s.QueuedBridges += len(svc.queue)
	}
	return s
}
