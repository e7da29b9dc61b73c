package bridgeworker

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/benkietzman/portconcentrator/pkg/engine"
	cerrors "github.com/benkietzman/portconcentrator/pkg/errors"
)

// DefaultPort is used for the LoadBalancer/ServiceJunction branch when the
// client did not supply an explicit Server/Port pair (spec.md §2).
const DefaultPort = "5864"

// Lifetime is the hard cap on a bridge's total active duration, regardless
// of traffic. original_source/concentrator.cpp enforces this as a 600s
// wall-clock check inside its poll loop; it is not an inactivity timeout.
const Lifetime = 600 * time.Second

// Worker connects the outbound half of a promoted Bridge and pumps bytes
// in both directions until either side closes, an error occurs, or
// Lifetime elapses.
type Worker struct {
	Dialer   *Dialer
	Lifetime time.Duration
	Logger   *slog.Logger

	// Metrics, if set, receives transfer byte counts and the
	// lifetime-exceeded counter. Connect errors are observed by Dialer
	// itself, which sees the per-host detail this field does not.
	Metrics MetricsSink
}

// NewWorker returns a Worker with production defaults.
func NewWorker(dialer *Dialer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{Dialer: dialer, Lifetime: Lifetime, Logger: logger}
}

// Run is the Spawner the scheduler invokes for each promoted bridge
// (engine.Spawner). It always ends by calling b.MarkDone as its last
// action, per the ownership-transfer invariant in pkg/engine.
func (w *Worker) Run(b *engine.Bridge) {
	go w.run(b)
}

func (w *Worker) run(b *engine.Bridge) {
	defer b.MarkDone()
	defer b.Incoming.Close()

	port := b.Port
	group := ServerGroup(b.Server, b.LoadBalancer, b.ServiceJunction)
	if b.Server == "" && port == "" {
		port = DefaultPort
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.dialTimeout())
	defer cancel()

	conn, host, err := w.Dialer.Connect(ctx, group, port)
	if err != nil {
		wrapped := cerrors.New("bridgeworker.connect", b.SessionID, b.RemoteAddr, err)
		b.Info["Error"] = wrapped.Error()
		w.Logger.Warn("bridge worker failed to connect", "session_id", b.SessionID, "service", b.Service, "error", wrapped)
		return
	}
	b.Outgoing = conn
	b.Server = host
	defer conn.Close()

	w.pump(b)
}

func (w *Worker) dialTimeout() time.Duration {
	if w.Dialer != nil && w.Dialer.Timeout > 0 {
		return w.Dialer.Timeout * 4
	}
	return 8 * time.Second
}

// pump runs one counting io.Copy per direction. TCP's own send/receive
// buffering already enforces the original's "don't read if the opposite
// write buffer is non-empty" backpressure invariant: a blocked Write stops
// its Read loop from being called again until the peer drains, and a full
// receive buffer blocks the peer's own write, rather than the explicit
// poll(2)+buffer-string bookkeeping the C++ implementation needed.
func (w *Worker) pump(b *engine.Bridge) {
	lifetime := w.Lifetime
	if lifetime <= 0 {
		lifetime = Lifetime
	}
	deadline := time.Now().Add(lifetime)
	b.Incoming.SetDeadline(deadline)
	b.Outgoing.SetDeadline(deadline)

	done := make(chan struct{}, 2)
	go w.copyDirection(b.Outgoing, b.Incoming, b, &b.InRecv, &b.OutSend, "in_recv", "out_send", done)
	go w.copyDirection(b.Incoming, b.Outgoing, b, &b.OutRecv, &b.InSend, "out_recv", "in_send", done)

	timer := time.NewTimer(lifetime)
	defer timer.Stop()

	finished := 0
	for finished < 2 {
		select {
		case <-done:
			finished++
		case <-timer.C:
			if w.Metrics != nil {
				w.Metrics.IncLifetimeExceeded()
			}
			if _, ok := b.Info["Error"]; !ok {
				b.Info["Error"] = "Exceeded 10 minute timeout."
			}
			b.Incoming.Close()
			b.Outgoing.Close()
			for ; finished < 2; finished++ {
				<-done
			}
			return
		}
	}
}

// copyDirection copies src->dst, counting bytes read into recv and bytes
// written into send, then signals done. A terminal read or write error on
// either fd closes both b.Incoming and b.Outgoing, matching
// original_source/concentrator.cpp's active() loop: bExit breaks the
// single shared poll loop and closes both fds together, rather than
// leaving the unaffected direction running up to the full Lifetime.
func (w *Worker) copyDirection(dst io.Writer, src io.Reader, b *engine.Bridge, recv, send *uint64, recvDir, sendDir string, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	buf := make([]byte, 65536)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			*recv += uint64(n)
			if w.Metrics != nil {
				w.Metrics.ObserveTransfer(recvDir, uint64(n))
			}
			wn, werr := dst.Write(buf[:n])
			*send += uint64(wn)
			if wn > 0 && w.Metrics != nil {
				w.Metrics.ObserveTransfer(sendDir, uint64(wn))
			}
			if werr != nil {
				b.Incoming.Close()
				b.Outgoing.Close()
				return
			}
		}
		if err != nil {
			b.Incoming.Close()
			b.Outgoing.Close()
			return
		}
	}
}
