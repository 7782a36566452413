package sinks

import (
	"context"
	"sync"

	"github.com/trychlos/TheToolsProject-sub002/internal/progress"
)

const defaultMemoryCapacity = 512

// MemorySink retains the most recent events in a bounded ring so the HTTP API
// can serve a live progress feed without a database.
type MemorySink struct {
	mu    sync.Mutex
	ring  []progress.Event
	next  int
	count int
}

// NewMemorySink constructs a MemorySink keeping at most capacity events.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemorySink{ring: make([]progress.Event, capacity)}
}

// Consume appends the batch, overwriting the oldest events when full.
func (s *MemorySink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.ring[s.next] = evt
		s.next = (s.next + 1) % len(s.ring)
		if s.count < len(s.ring) {
			s.count++
		}
	}
	return nil
}

// Recent returns the retained events in arrival order, oldest first.
func (s *MemorySink) Recent() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progress.Event, 0, s.count)
	start := s.next - s.count
	if start < 0 {
		start += len(s.ring)
	}
	for i := 0; i < s.count; i++ {
		out = append(out, s.ring[(start+i)%len(s.ring)])
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *MemorySink) Close(context.Context) error {
	return nil
}
