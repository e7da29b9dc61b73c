// Package acceptor implements the fixed listening socket and accept loop
// (spec.md §4.1, component C4), adapted from the teacher's
// pkg/server/tcp.Server: same bind/accept/graceful-drain shape, stripped
// of TLS and the parser/handler pipeline, since nothing downstream of
// accept needs anything but a net.Conn and the ingress handler.
package acceptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultPort is the concentrator's fixed listening port (spec.md §6).
const DefaultPort = "7678"

// ConnHandler processes one accepted connection. It must not block
// indefinitely on connections it intends to keep; acceptor only tracks it
// for graceful shutdown accounting.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Config configures the acceptor.
type Config struct {
	// Address is host:port to bind. Empty host binds all interfaces on
	// the dual-stack "tcp" network (IPv6 with v4-mapped addresses),
	// matching spec.md §4.1's AF_INET6+SO_REUSEADDR bind.
	Address string

	// ShutdownTimeout bounds how long Serve waits for in-flight ingress
	// handlers to return once ctx is canceled before returning anyway.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// Acceptor binds the listening socket and dispatches one handler
// invocation per accepted connection.
type Acceptor struct {
	cfg     Config
	handler ConnHandler
	wg      sync.WaitGroup

	mu   sync.Mutex
	addr net.Addr
}

// New creates an Acceptor. Address defaults to ":7678".
func New(cfg Config, handler ConnHandler) *Acceptor {
	if cfg.Address == "" {
		cfg.Address = ":" + DefaultPort
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Acceptor{cfg: cfg, handler: handler}
}

// listenConfig sets SO_REUSEADDR explicitly, matching the original bind's
// setsockopt call rather than relying on the platform default.
var listenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	},
}

// Serve binds the listener and accepts connections until ctx is canceled.
// A bind failure is fatal and returned immediately, matching spec.md
// §4.1's "fatal bind/listen error -> exit the serve loop".
func (a *Acceptor) Serve(ctx context.Context) error {
	ln, err := listenConfig.Listen(ctx, "tcp", a.cfg.Address)
	if err != nil {
		return fmt.Errorf("acceptor: listen on %s: %w", a.cfg.Address, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()
	a.cfg.Logger.Info("acceptor listening", slog.String("address", ln.Addr().String()))

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if isTransientAcceptError(err) {
					a.cfg.Logger.Debug("transient accept error", slog.String("error", err.Error()))
					continue
				}
				a.cfg.Logger.Error("fatal accept error", slog.String("error", err.Error()))
				return
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.handler(ctx, conn)
			}()
		}
	}()

	var fatal bool
	select {
	case <-ctx.Done():
		a.cfg.Logger.Info("acceptor shutting down")
	case <-acceptDone:
		fatal = true
		a.cfg.Logger.Error("acceptor terminating serve loop after fatal accept error")
	}
	ln.Close()
	<-acceptDone

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(a.cfg.ShutdownTimeout):
		a.cfg.Logger.Warn("acceptor shutdown timeout exceeded, ingress handlers still in flight")
	}
	if fatal {
		return fmt.Errorf("acceptor: accept loop exited on fatal error")
	}
	return nil
}

// Addr returns the bound listener address once Serve has started, or nil
// before the listener is up.
func (a *Acceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

func isTransientAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
