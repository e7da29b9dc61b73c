// Package engine implements the scheduler core: the hand-off list, the
// per-service queue/active bookkeeping, and the throttle loop that promotes
// queued bridges and reaps completed ones.
package engine

import "context"

// Context carries the metadata a Handler needs about one bridge. The
// engine builds a fresh Context from the bridge at each hook call
// (admit, promote, complete), so fields set later (e.g. Server, after
// failover) are visible to later hook calls.
type Context struct {
	// SessionID uniquely identifies this bridge for logs and accounting.
	SessionID string

	// RemoteAddr is the client's printable peer address.
	RemoteAddr string

	// Service is the client-declared throttle bucket name.
	Service string

	// Throttle is the requested per-service concurrency cap.
	Throttle int

	// Server is the resolved backend host once connected (may be a
	// comma-separated candidate list before promotion, or empty if the
	// client relied on the configured load balancer / service junction).
	Server string

	// Port is the backend port.
	Port string
}

// Handler defines authorization and notification callbacks for the
// admission lifecycle. AuthAdmit runs before a validated request is
// queued; OnPromote and OnComplete are notification hooks for audit
// logging, metrics, or policy side effects. Errors from OnPromote/OnComplete
// never unwind the bridge and are not logged by the engine: an OnPromote
// error is stored in the bridge's Info under "OnPromoteError" (and so
// reaches its accounting record); an OnComplete error is stored under
// "OnCompleteError" after the accounting record has been written.
type Handler interface {
	// AuthAdmit authorizes a newly parsed, structurally valid request
	// before it is appended to the hand-off list. Returning an error
	// rejects the request as if it had failed envelope validation: the
	// inbound socket is closed and no accounting record is produced.
	AuthAdmit(ctx context.Context, hctx *Context) error

	// OnPromote is called by the scheduler immediately after a bridge is
	// moved from its service queue into the active set, just before the
	// bridge worker is spawned.
	OnPromote(ctx context.Context, hctx *Context) error

	// OnComplete is called by the scheduler after a bridge has been
	// reaped and its accounting record written.
	OnComplete(ctx context.Context, hctx *Context) error
}

// NoopHandler allows every request. Useful for tests and as the default
// when no admission policy is configured.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (NoopHandler) AuthAdmit(ctx context.Context, hctx *Context) error    { return nil }
func (NoopHandler) OnPromote(ctx context.Context, hctx *Context) error   { return nil }
func (NoopHandler) OnComplete(ctx context.Context, hctx *Context) error  { return nil }
