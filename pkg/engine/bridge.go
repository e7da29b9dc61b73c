package engine

import (
	"net"
	"sync"
	"time"
)

// Bridge is one admitted client request: an inbound socket paired with an
// outbound socket chosen and connected by a worker. It is owned by exactly
// one of: the hand-off list, a service's queue, a service's active set, or
// the scheduler's reap step, per spec.md §3's invariant.
type Bridge struct {
	// SessionID correlates this bridge across logs and accounting.
	SessionID string

	// Incoming is the accepted inbound connection. It stays open until the
	// worker exits.
	Incoming net.Conn

	// RemoteAddr is the client's printable peer address, stamped at ingress.
	RemoteAddr string

	// Outgoing is the outbound connection, set by the worker on successful
	// connect. Nil until then.
	Outgoing net.Conn

	// Service is the throttle bucket this bridge belongs to.
	Service string

	// Throttle is the max concurrent active bridges requested for Service.
	Throttle int

	// Server/Port name the explicit backend, when the client supplied one.
	Server string
	Port   string

	// LoadBalancer/ServiceJunction are comma-separated host lists copied
	// from configuration, consulted only when Server is empty.
	LoadBalancer    string
	ServiceJunction string

	// Info mirrors the original request fields, augmented with peer IP,
	// error, load, and transfer stats before being handed to the
	// accounting sink on reap.
	Info map[string]any

	// Counters, updated by the worker while the pump runs.
	InRecv, InSend, OutRecv, OutSend uint64

	// Timestamps.
	StartTime  time.Time
	ActiveTime time.Time
	EndTime    time.Time

	// done is closed exactly once by the worker as its last action. The
	// scheduler treats a closed done channel as the release barrier for
	// every field the worker mutated — spec.md §9's replacement for a
	// polled boolean.
	done     chan struct{}
	doneOnce sync.Once
}

// NewBridge allocates a bridge record with its completion channel ready.
func NewBridge() *Bridge {
	return &Bridge{
		done: make(chan struct{}),
		Info: make(map[string]any),
	}
}

// MarkDone closes the completion channel. Safe to call more than once; only
// the first call has effect. Must be the worker's last touch of the record.
func (b *Bridge) MarkDone() {
	b.doneOnce.Do(func() { close(b.done) })
}

// Done reports whether the worker has finished, without blocking.
func (b *Bridge) Done() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// WaitDone returns a channel that is closed when the worker finishes, for
// callers that want to select on completion instead of polling.
func (b *Bridge) WaitDone() <-chan struct{} {
	return b.done
}
