package acceptor

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func TestServeAcceptsAndDispatches(t *testing.T) {
	var count int32
	a := New(Config{Address: "127.0.0.1:0"}, func(ctx context.Context, conn net.Conn) {
		atomic.AddInt32(&count, 1)
		conn.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- a.Serve(ctx) }()

	var addr net.Addr
	deadline := time.Now().Add(time.Second)
	for addr == nil && time.Now().Before(deadline) {
		addr = a.Addr()
		if addr == nil {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if addr == nil {
		t.Fatalf("acceptor never bound a listener")
	}

	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	deadline = time.Now().Add(time.Second)
	for atomic.LoadInt32(&count) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&count) != 1 {
		t.Fatalf("expected exactly one dispatched connection, got %d", count)
	}

	cancel()

	select {
	case err := <-serveErrCh:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}

func TestServeFailsOnBadAddress(t *testing.T) {
	a := New(Config{Address: "not-a-valid-address::::"}, func(ctx context.Context, conn net.Conn) {})
	if err := a.Serve(context.Background()); err == nil {
		t.Fatalf("expected a bind error")
	}
}
