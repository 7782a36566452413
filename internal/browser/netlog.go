package browser

import (
	"sync"
	"time"
)

// NetEvent is one entry of the browser network log ring.
type NetEvent struct {
	At          time.Time `json:"at"`
	Kind        string    `json:"kind"` // request, response, finished, failed
	URL         string    `json:"url"`
	Document    bool      `json:"document,omitempty"`
	Status      int       `json:"status,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	// Headers are kept for document responses only; subresource entries
	// stay small since the ring can hold thousands of them.
	Headers map[string][]string `json:"headers,omitempty"`
}

// netRing accumulates network events for the current navigation. It is a
// bounded ring: old entries are dropped once the capacity is reached, but the
// idle bookkeeping (last event time, last document response) survives drops.
type netRing struct {
	mu      sync.Mutex
	cap     int
	buf     []NetEvent
	start   int
	resetAt time.Time
	lastAt  time.Time
	lastDoc *NetEvent
}

func newNetRing(capacity int, now time.Time) *netRing {
	if capacity <= 0 {
		capacity = 2048
	}
	return &netRing{cap: capacity, resetAt: now}
}

// Reset clears the ring at the start of a navigation.
func (r *netRing) Reset(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = r.buf[:0]
	r.start = 0
	r.resetAt = now
	r.lastAt = time.Time{}
	r.lastDoc = nil
}

// Add appends one event.
func (r *netRing) Add(ev NetEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) < r.cap {
		r.buf = append(r.buf, ev)
	} else {
		r.buf[r.start] = ev
		r.start = (r.start + 1) % r.cap
	}
	r.lastAt = ev.At
	if ev.Document && ev.Kind == "response" {
		doc := ev
		r.lastDoc = &doc
	}
}

// Snapshot returns the buffered events in arrival order.
func (r *netRing) Snapshot() []NetEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NetEvent, 0, len(r.buf))
	for i := 0; i < len(r.buf); i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

// LastDocument returns the most recent main-document response, if any.
func (r *netRing) LastDocument() (NetEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastDoc == nil {
		return NetEvent{}, false
	}
	return *r.lastDoc, true
}

// QuietFor reports whether no network event has arrived for the given window.
// Before any event arrives the window is measured from the last Reset, so a
// page that issues no requests at all still goes idle.
func (r *netRing) QuietFor(now time.Time, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := r.lastAt
	if last.IsZero() {
		last = r.resetAt
	}
	return now.Sub(last) >= window
}
