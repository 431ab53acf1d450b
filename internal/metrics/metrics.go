// Package metrics exposes the kernel's prometheus instruments. One Metrics
// value is shared by the processor, registry, rate limiter and API layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the kernel instruments.
type Metrics struct {
	EventsProcessed *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	CascadeDrops    prometheus.Counter
	FanOutExceeded  prometheus.Counter
	PluginErrors    *prometheus.CounterVec
	PluginTimeouts  *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	LastEventUnix   prometheus.Gauge
	RateLimited     prometheus.Counter
	TrackedSources  prometheus.GaugeFunc
	Subscribers     prometheus.Gauge
	BridgeCalls     *prometheus.CounterVec
}

// New registers the kernel instruments on the given registerer.
// trackedSources reports the rate limiter's live source count.
func New(reg prometheus.Registerer, trackedSources func() float64) *Metrics {
	m := &Metrics{
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synapd_events_processed_total",
			Help: "Events dequeued by the processor, by event type.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synapd_events_dropped_total",
			Help: "Events dropped instead of queued, by reason.",
		}, []string{"reason"}),
		CascadeDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synapd_cascade_depth_drops_total",
			Help: "Envelopes dropped at the cascade depth limit.",
		}),
		FanOutExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synapd_fan_out_exceeded_total",
			Help: "Dispatches whose derived emissions passed the advisory fan-out ceiling.",
		}),
		PluginErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synapd_plugin_errors_total",
			Help: "Plugin on-event failures (errors and panics), by plugin.",
		}, []string{"plugin"}),
		PluginTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synapd_plugin_timeouts_total",
			Help: "Plugin on-event deadline hits, by plugin.",
		}, []string{"plugin"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synapd_event_queue_depth",
			Help: "Events waiting in the processor channel.",
		}),
		LastEventUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synapd_last_event_timestamp_seconds",
			Help: "Unix time of the last processed event.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "synapd_rate_limited_total",
			Help: "Requests rejected by the ingress rate limiter.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synapd_event_subscribers",
			Help: "Connected event stream subscribers.",
		}),
		BridgeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "synapd_bridge_calls_total",
			Help: "Subprocess bridge calls, by outcome.",
		}, []string{"outcome"}),
	}
	if trackedSources != nil {
		m.TrackedSources = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "synapd_rate_limiter_tracked_sources",
			Help: "Source identities currently tracked by the rate limiter.",
		}, trackedSources)
	}

	collectors := []prometheus.Collector{
		m.EventsProcessed, m.EventsDropped, m.CascadeDrops, m.FanOutExceeded,
		m.PluginErrors, m.PluginTimeouts, m.QueueDepth, m.LastEventUnix,
		m.RateLimited, m.Subscribers, m.BridgeCalls,
	}
	if m.TrackedSources != nil {
		collectors = append(collectors, m.TrackedSources)
	}
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return m
}

// NewForTest builds an unregistered metrics bundle for unit tests.
func NewForTest() *Metrics {
	return New(prometheus.NewRegistry(), nil)
}
