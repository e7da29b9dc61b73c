// Package ingress implements the per-connection handler (spec.md §4.2,
// component C2): read one request line, validate it, build a bridge
// record, and submit it to the scheduler. Adapted from the teacher's
// pkg/server/tcp handleConn, stripped of protocol parsing and backend
// dialing — both now live downstream, in pkg/bridgeworker — and built
// around engine.Engine.Submit instead of a direct stream.
package ingress

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/benkietzman/portconcentrator/pkg/bridgeworker"
	"github.com/benkietzman/portconcentrator/pkg/engine"
	"github.com/benkietzman/portconcentrator/pkg/envelope"
	cerrors "github.com/benkietzman/portconcentrator/pkg/errors"
)

// MetricsSink receives envelope admission outcomes. Implemented by
// *metrics.Metrics.
type MetricsSink interface {
	IncEnvelopeAccepted(service string)
	IncEnvelopeRejected(reason string)
}

// Config supplies the configuration-provided defaults consulted only when
// a request omits Server (spec.md §6).
type Config struct {
	LoadBalancer    string
	ServiceJunction string

	// LineTimeout bounds how long a connection may take to send its
	// request line before ingress gives up and closes it.
	LineTimeout time.Duration

	Logger  *slog.Logger
	Metrics MetricsSink
}

// Handler turns accepted connections into submitted bridges.
type Handler struct {
	engine *engine.Engine
	cfg    Config
}

// New creates a Handler submitting admitted bridges to eng.
func New(eng *engine.Engine, cfg Config) *Handler {
	if cfg.LineTimeout == 0 {
		cfg.LineTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{engine: eng, cfg: cfg}
}

// Handle consumes conn: on success it submits exactly one bridge and
// returns without closing conn (the bridge worker owns it from here). On
// any failure it closes conn itself and emits no accounting, per
// spec.md §4.2's silent-drop contract.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	remote := peerIP(conn)

	if ctx.Err() != nil {
		h.reject(conn, "", remote, "shutdown", cerrors.ErrShutdown)
		return
	}

	conn.SetReadDeadline(time.Now().Add(h.cfg.LineTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		reason, wrapErr := "read_line", err
		var ne net.Error
		switch {
		case errors.As(err, &ne) && ne.Timeout():
			reason, wrapErr = "timeout", cerrors.ErrTimeout
		case errors.Is(err, io.EOF):
			reason, wrapErr = "closed", cerrors.ErrConnectionClosed
		}
		h.reject(conn, "", remote, reason, wrapErr)
		return
	}
	conn.SetReadDeadline(time.Time{})

	fields, err := envelope.Parse([]byte(line))
	if err != nil {
		h.reject(conn, "", remote, "parse", err)
		return
	}
	req, err := envelope.Validate(fields)
	if err != nil {
		h.reject(conn, "", remote, "validate", err)
		return
	}

	b := engine.NewBridge()
	b.SessionID = uuid.New().String()
	b.Incoming = conn
	b.RemoteAddr = remote
	b.Service = req.Service
	b.Throttle = req.Throttle
	b.Server = req.Server
	b.Port = req.Port
	if req.Server == "" {
		b.LoadBalancer = h.cfg.LoadBalancer
		b.ServiceJunction = h.cfg.ServiceJunction
		b.Port = bridgeworker.DefaultPort
	}
	b.Info["IP"] = b.RemoteAddr
	for k, v := range req.Fields {
		if _, exists := b.Info[k]; !exists {
			b.Info[k] = v
		}
	}

	if err := h.engine.Submit(ctx, b); err != nil {
		h.reject(conn, b.SessionID, remote, "admission", err)
		return
	}
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.IncEnvelopeAccepted(b.Service)
	}
}

// reject logs and closes conn for any failure before a bridge reaches the
// scheduler, wrapping err with bridge/connection context the way the
// worker side does for its own boundary (pkg/bridgeworker/worker.go:run).
func (h *Handler) reject(conn net.Conn, sessionID, remote, reason string, err error) {
	wrapped := cerrors.New("ingress", sessionID, remote, err)
	h.cfg.Logger.Debug("bridge rejected at ingress", "session_id", sessionID, "remote", remote, "reason", reason, "error", wrapped)
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.IncEnvelopeRejected(reason)
	}
	conn.Close()
}

func peerIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
