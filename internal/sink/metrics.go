package sink

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Entries *prometheus.CounterVec
	Errors  *prometheus.CounterVec
	Dropped *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqlog_sink_entries_total",
			Help: "Log entries accepted by a sink",
		}, []string{"sink"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqlog_sink_errors_total",
			Help: "Log entries a sink failed to deliver",
		}, []string{"sink"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqlog_sink_dropped_total",
			Help: "Log entries dropped because a sink queue was full or closed",
		}, []string{"sink"}),
	}
	reg.MustRegister(m.Entries, m.Errors, m.Dropped)
	return m
}

// The helpers below accept a nil receiver so sinks can run without metrics.

func (m *Metrics) entry(sink string) {
	if m != nil {
		m.Entries.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) failure(sink string) {
	if m != nil {
		m.Errors.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) drop(sink string) {
	if m != nil {
		m.Dropped.WithLabelValues(sink).Inc()
	}
}
