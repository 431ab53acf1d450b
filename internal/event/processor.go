package event

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/synapkit/synapd/internal/metrics"
	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/permission"
)

// ErrQueueFull is returned by Submit when the event channel cannot accept
// another envelope right now. Callers may retry with backoff.
var ErrQueueFull = errors.New("event queue full")

// shutdownDrain bounds how long the processor keeps consuming buffered
// envelopes after the cancellation signal.
const shutdownDrain = time.Second

// Dispatcher fans one envelope out to the installed plugins. Implemented by
// the plugin registry.
type Dispatcher interface {
	DispatchEvent(ctx context.Context, env event.Envelope, out chan<- event.Envelope)
}

// PermissionAdmin is the grant/revoke surface the processor drives when it
// observes permission events. Implemented by the plugin manager.
type PermissionAdmin interface {
	GrantPermission(ctx context.Context, pluginID string, perm permission.Permission) error
	RevokePermission(ctx context.Context, pluginID string, perm permission.Permission) error
}

// Processor is the single consumer of the kernel's event channel. For every
// envelope it records history and broadcasts to subscribers first, then
// applies the event to the registry; derived events come back through the
// same channel, never around it.
type Processor struct {
	ch         chan event.Envelope
	dispatcher Dispatcher
	admin      PermissionAdmin
	history    *History
	broker     *Broker
	metrics    *metrics.Metrics
}

// NewProcessor builds a processor with its bounded channel.
func NewProcessor(capacity int, dispatcher Dispatcher, admin PermissionAdmin, history *History, broker *Broker, m *metrics.Metrics) *Processor {
	if capacity <= 0 {
		capacity = 256
	}
	if m == nil {
		m = metrics.NewForTest()
	}
	return &Processor{
		ch:         make(chan event.Envelope, capacity),
		dispatcher: dispatcher,
		admin:      admin,
		history:    history,
		broker:     broker,
		metrics:    m,
	}
}

// Channel exposes the send side for the registry's derived-event path.
func (p *Processor) Channel() chan<- event.Envelope { return p.ch }

// Submit enqueues an envelope without blocking. A full channel returns
// ErrQueueFull; the caller decides whether to retry.
func (p *Processor) Submit(env event.Envelope) error {
	select {
	case p.ch <- env:
		p.metrics.QueueDepth.Set(float64(len(p.ch)))
		return nil
	default:
		p.metrics.EventsDropped.WithLabelValues("ingress_full").Inc()
		return ErrQueueFull
	}
}

// Run consumes the channel until ctx is cancelled, then drains briefly and
// exits. It must be the only consumer.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case env := <-p.ch:
			p.process(ctx, env)
		}
	}
}

// drain consumes whatever is already buffered, bounded by shutdownDrain.
func (p *Processor) drain() {
	deadline := time.NewTimer(shutdownDrain)
	defer deadline.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()
	for {
		select {
		case env := <-p.ch:
			p.process(ctx, env)
		case <-deadline.C:
			return
		default:
			return
		}
	}
}

func (p *Processor) process(ctx context.Context, env event.Envelope) {
	kind := string(env.Event.Data.Kind())
	p.metrics.EventsProcessed.WithLabelValues(kind).Inc()
	p.metrics.LastEventUnix.Set(float64(env.Event.Timestamp.Unix()))
	p.metrics.QueueDepth.Set(float64(len(p.ch)))

	// Record-then-dispatch: observers see every event at least once before
	// any plugin can produce derivatives from it.
	if p.history != nil {
		p.history.Append(env.Event)
	}
	if p.broker != nil {
		p.broker.Publish(env.Event)
	}

	switch data := env.Event.Data.(type) {
	case event.PermissionGranted:
		if p.admin != nil {
			if err := p.admin.GrantPermission(ctx, data.PluginID, data.Permission); err != nil {
				log.Printf("grant %s to %s failed: %v", data.Permission, data.PluginID, err)
			}
		}
	case event.PermissionRevoked:
		if p.admin != nil {
			if err := p.admin.RevokePermission(ctx, data.PluginID, data.Permission); err != nil {
				log.Printf("revoke %s from %s failed: %v", data.Permission, data.PluginID, err)
			}
		}
	}

	// Every variant fans out, including the ones handled above; plugins may
	// react to permission changes too.
	if p.dispatcher != nil {
		p.dispatcher.DispatchEvent(ctx, env, p.ch)
	}
}
