package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"lendledger/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventOnce     sync.Once
	eventRegistry *eventMetrics
)

func eventCounters() *eventMetrics {
	eventOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendledger",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of ledger events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// MetricsEmitter counts every ledger event in Prometheus and forwards it to
// the wrapped emitter when one is configured.
type MetricsEmitter struct {
	next events.Emitter
}

// NewMetricsEmitter wraps next with event counting. A nil next is allowed;
// events are then counted and dropped.
func NewMetricsEmitter(next events.Emitter) *MetricsEmitter {
	return &MetricsEmitter{next: next}
}

// Emit implements events.Emitter.
func (m *MetricsEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	eventCounters().emitted.WithLabelValues(evt.EventType()).Inc()
	if m != nil && m.next != nil {
		m.next.Emit(evt)
	}
}
