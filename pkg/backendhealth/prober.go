package backendhealth

import (
	"context"
	"net"
	"sync"
	"time"
)

// probe holds the one pooled connection the Prober keeps warm for a host.
// Reusing a single idle connection (rather than dialing fresh on every
// tick) is the same idle-connection lifecycle the teacher's pkg/pool used
// for backend connections; here it is repurposed to amortize the cost of
// repeatedly proving a host is still reachable, since the bridge's own
// connections are never returned to any pool (see DESIGN.md).
type probe struct {
	mu   sync.Mutex
	host string
	conn net.Conn
}

func (p *probe) ensure(ctx context.Context, dialTimeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		// A live idle connection is itself proof of reachability; send a
		// zero-byte write to detect a silently closed peer.
		if _, err := p.conn.Write(nil); err == nil {
			return nil
		}
		p.conn.Close()
		p.conn = nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", p.host)
	if err != nil {
		return err
	}
	p.conn = conn
	return nil
}

func (p *probe) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// ProberConfig controls the background reachability sweep.
type ProberConfig struct {
	Interval    time.Duration
	DialTimeout time.Duration
}

func (c ProberConfig) withDefaults() ProberConfig {
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// Prober periodically re-verifies every host it has been told about and
// reports the outcome to a Registry, so a host's breaker can recover from
// StateOpen even during a lull with no real bridge traffic to it.
type Prober struct {
	mu       sync.Mutex
	probes   map[string]*probe
	registry *Registry
	cfg      ProberConfig
}

// NewProber creates a Prober reporting into registry.
func NewProber(registry *Registry, cfg ProberConfig) *Prober {
	return &Prober{
		probes:   make(map[string]*probe),
		registry: registry,
		cfg:      cfg.withDefaults(),
	}
}

// Watch registers host for periodic probing if it isn't already tracked.
// The bridge worker calls this the first time it encounters a host so the
// probe set stays limited to hosts actually named in service configs.
func (p *Prober) Watch(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.probes[host]; !ok {
		p.probes[host] = &probe{host: host}
	}
}

// Run sweeps every watched host once per Interval until ctx is canceled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.closeAll()
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Prober) tick(ctx context.Context) {
	p.mu.Lock()
	targets := make([]*probe, 0, len(p.probes))
	for _, pr := range p.probes {
		targets = append(targets, pr)
	}
	p.mu.Unlock()

	for _, pr := range targets {
		err := pr.ensure(ctx, p.cfg.DialTimeout)
		p.registry.Report(pr.host, err)
	}
}

func (p *Prober) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pr := range p.probes {
		pr.close()
	}
}
