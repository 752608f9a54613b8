package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "session"

// Metrics groups the collectors shared by the cache, event bus and refresh
// coordinator. A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheLookups    *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec
	HandlerPanics   prometheus.Counter
	Refreshes       *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result (hit, miss, expired).",
		}, []string{"result"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on the bus by kind.",
		}, []string{"kind"}),
		HandlerPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_panics_total",
			Help:      "Event handlers that panicked and were recovered.",
		}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Token renewal attempts that reached the backend, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) EventPublished(kind string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(kind).Inc()
}

func (m *Metrics) HandlerPanicked() {
	if m == nil {
		return
	}
	m.HandlerPanics.Inc()
}

func (m *Metrics) Refreshed(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}
