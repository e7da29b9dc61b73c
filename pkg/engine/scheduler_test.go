package engine

import (
	"context"
	"testing"
	"time"
)

func newTestBridge(service string, throttle int) *Bridge {
	b := NewBridge()
	b.Service = service
	b.Throttle = throttle
	b.SessionID = "test"
	return b
}

// runPasses pumps the engine's internals directly (drain + pass) without the
// idle-sleep loop, so tests are fast and deterministic.
func runPasses(e *Engine, spawn Spawner, n int) {
	for i := 0; i < n; i++ {
		e.drainHandoff()
		e.pass(context.Background(), spawn)
	}
}

func TestFIFOWithinService(t *testing.T) {
	e := New(Config{})
	b1 := newTestBridge("svc", 1)
	b2 := newTestBridge("svc", 1)

	if err := e.Submit(context.Background(), b1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	if err := e.Submit(context.Background(), b2); err != nil {
		t.Fatal(err)
	}

	var spawned []*Bridge
	spawn := func(b *Bridge) { spawned = append(spawned, b) }

	runPasses(e, spawn, 1)
	if len(spawned) != 1 || spawned[0] != b1 {
		t.Fatalf("expected only b1 promoted first pass, got %d spawned", len(spawned))
	}

	b1.MarkDone()
	runPasses(e, spawn, 1)
	if len(spawned) != 2 || spawned[1] != b2 {
		t.Fatalf("expected b2 promoted after b1 completed, got %+v", spawned)
	}
	if !b2.ActiveTime.After(b1.ActiveTime) {
		t.Fatalf("expected b2.ActiveTime after b1.ActiveTime")
	}
}

func TestThrottleRespected(t *testing.T) {
	e := New(Config{})
	var bridges []*Bridge
	for i := 0; i < 3; i++ {
		b := newTestBridge("q", 2)
		bridges = append(bridges, b)
		if err := e.Submit(context.Background(), b); err != nil {
			t.Fatal(err)
		}
	}

	var activeCount int
	spawn := func(b *Bridge) { activeCount++ }
	runPasses(e, spawn, 1)

	if activeCount != 2 {
		t.Fatalf("expected 2 promoted under throttle=2, got %d", activeCount)
	}

	bridges[0].MarkDone()
	activeCount = 0
	runPasses(e, spawn, 1)
	if activeCount != 1 {
		t.Fatalf("expected 1 promotion after first bridge completed, got %d", activeCount)
	}
}

// TestPromotionDoesNotShortCircuit pins the open-question behavior from
// spec.md §9: the promotion scan does not stop at the first refusal, so a
// later queue entry with a higher throttle can leap past an earlier,
// still-throttled one.
func TestPromotionDoesNotShortCircuit(t *testing.T) {
	e := New(Config{})

	blocker := newTestBridge("s", 1) // already active, fills throttle=1 bucket
	low := newTestBridge("s", 1)     // queued, throttle=1: cannot promote while blocker active
	high := newTestBridge("s", 2)    // queued, throttle=2: can promote past low

	if err := e.Submit(context.Background(), blocker); err != nil {
		t.Fatal(err)
	}
	var spawn Spawner = func(b *Bridge) {}
	runPasses(e, spawn, 1) // promotes blocker into active[s]

	if err := e.Submit(context.Background(), low); err != nil {
		t.Fatal(err)
	}
	if err := e.Submit(context.Background(), high); err != nil {
		t.Fatal(err)
	}

	var promoted []*Bridge
	spawn = func(b *Bridge) { promoted = append(promoted, b) }
	runPasses(e, spawn, 1)

	if len(promoted) != 1 || promoted[0] != high {
		t.Fatalf("expected only high-throttle entry promoted past stuck low one, got %+v", promoted)
	}
	if low.Done() {
		t.Fatalf("low should remain queued, not done")
	}
}

func TestServiceGC(t *testing.T) {
	e := New(Config{})
	b := newTestBridge("gc", 1)
	if err := e.Submit(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	spawn := func(*Bridge) {}
	runPasses(e, spawn, 1)
	if e.Stats().Services != 1 {
		t.Fatalf("expected 1 service after promotion")
	}

	b.MarkDone()
	runPasses(e, spawn, 1)
	if e.Stats().Services != 0 {
		t.Fatalf("expected service GC'd after reap, got stats %+v", e.Stats())
	}
}

type recordingSink struct {
	records []map[string]any
}

func (r *recordingSink) Record(ctx context.Context, info map[string]any) {
	r.records = append(r.records, info)
}

func TestIdempotentAccounting(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Sink: sink})
	b := newTestBridge("acct", 1)
	if err := e.Submit(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	spawn := func(*Bridge) {}
	runPasses(e, spawn, 1)
	b.MarkDone()
	runPasses(e, spawn, 3)

	if len(sink.records) != 1 {
		t.Fatalf("expected exactly one accounting record, got %d", len(sink.records))
	}
}

func TestSubmitRejectedByHandler(t *testing.T) {
	h := rejectHandler{}
	e := New(Config{Handler: h})
	b := newTestBridge("x", 1)
	if err := e.Submit(context.Background(), b); err == nil {
		t.Fatalf("expected AuthAdmit rejection to propagate")
	}
	if e.Stats().Services != 0 {
		t.Fatalf("rejected submit must not create service state")
	}
}

type rejectHandler struct{ NoopHandler }

func (rejectHandler) AuthAdmit(ctx context.Context, hctx *Context) error {
	return context.DeadlineExceeded
}
