package event

import (
	"sync"
	"time"

	"github.com/synapkit/synapd/pkg/event"
)

// History is the ordered, capped record of processed events. Appends happen
// in dequeue order, so the history reflects the exact order the processor
// observed. Eviction is by count (oldest first) and, on the retention tick,
// by age only — never by identity.
type History struct {
	mu        sync.Mutex
	events    []*event.Event
	maxSize   int
	retention time.Duration
}

// NewHistory creates a history capped at maxSize events and retention age.
func NewHistory(maxSize int, retention time.Duration) *History {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &History{
		events:    make([]*event.Event, 0, maxSize),
		maxSize:   maxSize,
		retention: retention,
	}
}

// Append records one event, evicting the oldest past the size cap.
func (h *History) Append(ev *event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, ev)
	if overflow := len(h.events) - h.maxSize; overflow > 0 {
		h.events = append(h.events[:0], h.events[overflow:]...)
	}
}

// Recent returns up to limit newest events, oldest first. limit <= 0 means
// everything retained.
func (h *History) Recent(limit int) []*event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*event.Event, n)
	copy(out, h.events[len(h.events)-n:])
	return out
}

// Len returns the number of retained events.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// EvictExpired drops events older than the retention window and returns how
// many were removed. The critical section is short: one pass over the
// already-ordered slice.
func (h *History) EvictExpired(now time.Time) int {
	cutoff := now.Add(-h.retention)

	h.mu.Lock()
	defer h.mu.Unlock()

	// Events are append-ordered; find the first one young enough to keep.
	keep := 0
	for keep < len(h.events) && h.events[keep].Timestamp.Before(cutoff) {
		keep++
	}
	if keep == 0 {
		return 0
	}
	h.events = append(h.events[:0], h.events[keep:]...)
	return keep
}

// RetentionLoop evicts expired events on the given interval until stop is
// closed.
func (h *History) RetentionLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.EvictExpired(time.Now())
		}
	}
}
