package engine

import "sync"

// handoff is the mutex-protected FIFO by which ingress handlers deliver new
// bridges to the scheduler (spec.md §4.5). Writers are ingress handlers;
// the sole reader/drainer is the scheduler.
type handoff struct {
	mu    sync.Mutex
	items []*Bridge
}

// push appends a bridge. Safe for concurrent callers.
func (h *handoff) push(b *Bridge) {
	h.mu.Lock()
	h.items = append(h.items, b)
	h.mu.Unlock()
}

// drain removes and returns every pending bridge, in arrival order.
func (h *handoff) drain() []*Bridge {
	h.mu.Lock()
	items := h.items
	h.items = nil
	h.mu.Unlock()
	return items
}
