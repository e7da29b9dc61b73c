package bridgeworker

import (
	"net"
	"testing"
	"time"

	"github.com/benkietzman/portconcentrator/pkg/engine"
)

func echoServer(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						c.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}(c)
		}
	}()
	return ln
}

func TestWorkerPumpsBothDirections(t *testing.T) {
	ln := echoServer(t)
	defer ln.Close()
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	client, server := net.Pipe()
	defer client.Close()

	b := engine.NewBridge()
	b.Incoming = server
	b.Server = "127.0.0.1"
	b.Port = port

	d := &Dialer{Picker: fixedPicker(0), Timeout: time.Second, Dial: (&net.Dialer{}).DialContext}
	w := NewWorker(d, nil)
	w.Lifetime = 2 * time.Second
	go w.run(b)

	client.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("expected echo, got %q", buf)
	}
	client.Close()

	select {
	case <-b.WaitDone():
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not finish after client closed")
	}
	if b.Info["Error"] != nil {
		t.Fatalf("unexpected error: %v", b.Info["Error"])
	}
}

func TestWorkerRecordsConnectError(t *testing.T) {
	b := engine.NewBridge()
	client, server := net.Pipe()
	defer client.Close()
	b.Incoming = server
	b.Server = "127.0.0.1"
	b.Port = "1" // reserved port, refuses immediately

	d := &Dialer{Picker: fixedPicker(0), Timeout: 100 * time.Millisecond, Dial: (&net.Dialer{}).DialContext}
	w := NewWorker(d, nil)
	w.run(b)

	if b.Info["Error"] == nil {
		t.Fatalf("expected a recorded connect error")
	}
	if !b.Done() {
		t.Fatalf("expected MarkDone to have run")
	}
}

func TestWorkerEnforcesLifetime(t *testing.T) {
	ln := echoServer(t)
	defer ln.Close()
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	client, server := net.Pipe()
	defer client.Close()

	b := engine.NewBridge()
	b.Incoming = server
	b.Server = "127.0.0.1"
	b.Port = port

	d := &Dialer{Picker: fixedPicker(0), Timeout: time.Second, Dial: (&net.Dialer{}).DialContext}
	w := NewWorker(d, nil)
	w.Lifetime = 50 * time.Millisecond
	start := time.Now()
	w.run(b)

	if time.Since(start) > 2*time.Second {
		t.Fatalf("worker took too long to enforce lifetime")
	}
	if b.Info["Error"] == nil {
		t.Fatalf("expected a timeout error recorded")
	}
}
