package netsvc

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "tnd"

// serviceMetrics are the collectors the service updates while dispatching.
type serviceMetrics struct {
	messages    *prometheus.CounterVec
	disconnects *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	rejected    prometheus.Counter
}

func newServiceMetrics(reg prometheus.Registerer) (*serviceMetrics, error) {
	m := &serviceMetrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "netsvc",
			Name:      "messages_total",
			Help:      "Messages dispatched to a handler, by type.",
		}, []string{"type"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "netsvc",
			Name:      "fault_disconnects_total",
			Help:      "Fault disconnects by reason.",
		}, []string{"reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "netsvc",
			Name:      "dispatch_seconds",
			Help:      "Time spent in a message handler, by type.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"type"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "netsvc",
			Name:      "rejected_messages_total",
			Help:      "Messages dropped while not running.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	collectors := []prometheus.Collector{
		m.messages, m.disconnects, m.latency, m.rejected,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("unable to register metrics: %w",
				err)
		}
	}

	return m, nil
}
