// Package event hosts the kernel's event pipeline: the single-consumer
// processor, the capped in-memory history, and the broker that fans
// processed events out to stream subscribers.
package event

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/synapkit/synapd/pkg/event"
)

// Broker manages event stream subscribers (SSE and WebSocket clients).
// Publishing never blocks: a subscriber that cannot keep up has events
// dropped and observes a lag signal instead of stalling the processor.
type Broker struct {
	mu      sync.RWMutex
	clients map[chan BrokerEvent]struct{}
}

// BrokerEvent is one delivery to a subscriber. Lagged marks a gap where
// events were dropped because the subscriber was too slow.
type BrokerEvent struct {
	Event  *event.Event
	Lagged bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[chan BrokerEvent]struct{})}
}

// Subscribe adds a client and returns its event channel.
func (b *Broker) Subscribe() chan BrokerEvent {
	ch := make(chan BrokerEvent, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *Broker) Unsubscribe(ch chan BrokerEvent) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish sends an event to all subscribers. A slow client whose buffer is
// full loses the new event and its oldest buffered item, which makes room
// for a lag marker; the publisher never blocks.
func (b *Broker) Publish(ev *event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.clients {
		select {
		case ch <- BrokerEvent{Event: ev}:
		default:
			// Client too slow; evict the oldest item and flag the gap.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- BrokerEvent{Lagged: true}:
			default:
			}
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeSSE streams events to one HTTP client until it disconnects.
func (b *Broker) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-ch:
			if !open {
				return
			}
			if msg.Lagged {
				fmt.Fprintf(w, "event: lagged\ndata: {\"dropped\":true}\n\n")
				flusher.Flush()
				continue
			}
			payload, err := msg.Event.MarshalJSON()
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event.Data.Kind(), payload)
			flusher.Flush()
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The event stream is read-only; origin policy belongs to the outer
	// shell's deployment, same as for the SSE endpoint.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS streams events over a WebSocket until the peer disconnects.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Drain (and discard) client frames so pings are answered and closes
	// are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case msg, open := <-ch:
			if !open {
				return
			}
			if msg.Lagged {
				if err := conn.WriteJSON(map[string]bool{"lagged": true}); err != nil {
					return
				}
				continue
			}
			if err := conn.WriteJSON(msg.Event); err != nil {
				return
			}
		}
	}
}
