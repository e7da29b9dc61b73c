package bridgeworker

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func fixedPicker(i int) Picker {
	return func(n int) int {
		if n == 0 {
			return 0
		}
		return i % n
	}
}

func TestServerGroupPrecedence(t *testing.T) {
	if g := ServerGroup("h1", "lb", "sj"); len(g) != 1 || g[0] != "h1" {
		t.Fatalf("explicit Server should win outright, got %v", g)
	}
	if g := ServerGroup("", "lb", "sj"); len(g) != 2 || g[0] != "lb" || g[1] != "sj" {
		t.Fatalf("expected [lb sj], got %v", g)
	}
	if g := ServerGroup("", "", "sj"); len(g) != 1 || g[0] != "sj" {
		t.Fatalf("expected [sj], got %v", g)
	}
}

func TestConnectPicksFirstReachableHost(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	d := &Dialer{Picker: fixedPicker(0), Timeout: time.Second, Dial: (&net.Dialer{}).DialContext}
	conn, host, err := d.Connect(context.Background(), []string{"127.0.0.1"}, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	if host != "127.0.0.1" {
		t.Fatalf("expected host 127.0.0.1, got %q", host)
	}
}

func TestConnectFailsOverWithinGroup(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	d := &Dialer{Picker: fixedPicker(0), Timeout: 200 * time.Millisecond, Dial: (&net.Dialer{}).DialContext}
	conn, host, err := d.Connect(context.Background(), []string{"127.0.0.1:1, 127.0.0.1"}, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	if host != "127.0.0.1" {
		t.Fatalf("expected failover to reach 127.0.0.1, got %q", host)
	}
}

func TestConnectRespectsHealthAdvisorOrdering(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	var tried []string
	fakeDial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		tried = append(tried, addr)
		return nil, errors.New("refused")
	}

	health := &recordingAdvisor{closed: map[string]bool{net.JoinHostPort("bad", port): true}}
	d := &Dialer{Health: health, Picker: fixedPicker(0), Timeout: 50 * time.Millisecond, Dial: fakeDial}
	_, _, err = d.Connect(context.Background(), []string{"bad,good"}, port)
	if err == nil {
		t.Fatalf("expected failure since fakeDial always refuses")
	}
	if len(tried) != 2 || tried[0] != net.JoinHostPort("good", port) {
		t.Fatalf("expected the open host tried first, got %v", tried)
	}
}

type recordingAdvisor struct {
	closed map[string]bool
}

func (r *recordingAdvisor) Allow(host string) bool   { return !r.closed[host] }
func (r *recordingAdvisor) Report(host string, err error) {}
