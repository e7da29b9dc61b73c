// Package bridgeworker implements the per-active-bridge outbound connect
// and byte pump (spec.md §4.4, the "bridge worker" collaborator the
// scheduler hands a promoted Bridge to). Grounded on
// original_source/concentrator.cpp's active()/connect() sequence: build a
// server group from Server, or LoadBalancer+ServiceJunction, walk each
// group entry's comma-list of hosts in a random-started round, stopping
// at the first successful connect.
package bridgeworker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	cerrors "github.com/benkietzman/portconcentrator/pkg/errors"
)

var errNoServers = errors.New("no server group configured")

// HealthAdvisor is consulted (never obeyed blindly) while walking a
// server group: a host whose circuit is open is tried last, not skipped.
// Implemented by *backendhealth.Registry.
type HealthAdvisor interface {
	Allow(host string) bool
	Report(host string, err error)
}

// Watcher is notified of every host address actually dialed, so a
// background reachability prober can start sweeping it even between real
// bridge traffic. Implemented by *backendhealth.Prober.
type Watcher interface {
	Watch(host string)
}

// MetricsSink receives bridge-worker-level Prometheus observations.
// Implemented by *metrics.Metrics.
type MetricsSink interface {
	IncConnectError(host string)
	ObserveTransfer(direction string, n uint64)
	IncLifetimeExceeded()
}

// Picker returns a starting index into a server list of length n. Tests
// inject a deterministic Picker; production uses randomPicker.
type Picker func(n int) int

func randomPicker(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.New(rand.NewSource(time.Now().UnixNano())).Intn(n)
}

// ServerGroup builds the ordered list of comma-list group entries to try,
// mirroring the C++ bridge's precedence: an explicit single Server wins
// outright; otherwise LoadBalancer then ServiceJunction are tried, each
// exploded on commas, each group given its own independent random start.
func ServerGroup(server, loadBalancer, serviceJunction string) []string {
	if server != "" {
		return []string{server}
	}
	var group []string
	if loadBalancer != "" {
		group = append(group, loadBalancer)
	}
	if serviceJunction != "" {
		group = append(group, serviceJunction)
	}
	return group
}

func splitHosts(csv string) []string {
	parts := strings.Split(csv, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		if h := strings.TrimSpace(p); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Dialer opens the outbound half of a bridge, trying each server-group
// entry's hosts in turn until one connects.
type Dialer struct {
	Health  HealthAdvisor
	Watcher Watcher
	Metrics MetricsSink
	Picker  Picker
	Timeout time.Duration
	Dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewDialer returns a Dialer using net.Dialer and a time-seeded Picker.
func NewDialer(health HealthAdvisor) *Dialer {
	d := &net.Dialer{}
	return &Dialer{
		Health:  health,
		Picker:  randomPicker,
		Timeout: 2 * time.Second,
		Dial:    d.DialContext,
	}
}

// Connect walks group (a list of comma-separated host:port strings — a
// bare host is paired with port) and returns the first live connection
// along with the host string that produced it. Within one group entry,
// at most len(hosts) attempts are made before moving to the next entry,
// matching the original's "walk the ring once" bound.
func (d *Dialer) Connect(ctx context.Context, group []string, port string) (net.Conn, string, error) {
	var lastErr error
	var sawOpenHost bool
	for _, entry := range group {
		hosts := splitHosts(entry)
		if len(hosts) == 0 {
			continue
		}
		n := len(hosts)
		pick := d.Picker(n)
		var open, closedLast []int
		for i := 0; i < n; i++ {
			idx := (pick + i) % n
			if d.Health != nil && !d.Health.Allow(addrFor(hosts[idx], port)) {
				closedLast = append(closedLast, idx)
				continue
			}
			open = append(open, idx)
		}
		if len(open) > 0 {
			sawOpenHost = true
		}
		order := append(open, closedLast...)
		for _, idx := range order {
			addr := addrFor(hosts[idx], port)
			if d.Watcher != nil {
				d.Watcher.Watch(addr)
			}
			dialCtx, cancel := context.WithTimeout(ctx, d.Timeout)
			conn, err := d.Dial(dialCtx, "tcp", addr)
			cancel()
			if d.Health != nil {
				d.Health.Report(addr, err)
			}
			if err == nil {
				return conn, hosts[idx], nil
			}
			lastErr = err
			if d.Metrics != nil {
				d.Metrics.IncConnectError(addr)
			}
		}
	}
	if lastErr == nil {
		return nil, "", errNoServers
	}
	if sawOpenHost {
		return nil, "", fmt.Errorf("%w: %v", cerrors.ErrBackendUnavailable, lastErr)
	}
	return nil, "", fmt.Errorf("%w: %v", cerrors.ErrCircuitOpen, lastErr)
}

func addrFor(host, port string) string {
	if strings.Contains(host, ":") {
		return host
	}
	if port == "" {
		return host
	}
	return net.JoinHostPort(host, port)
}
