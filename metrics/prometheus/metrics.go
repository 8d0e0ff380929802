package prometheus

import (
	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/prometheus/client_golang/prometheus"
)

// Counter adapts a prometheus counter to evp.Counter.
type Counter struct {
	Counter prometheus.Counter
}

var _ evp.Counter = (*Counter)(nil)

// Inc adds delta to the counter. Negative deltas are ignored since
// prometheus counters only go up.
func (c *Counter) Inc(delta int64) {
	if delta <= 0 {
		return
	}
	c.Counter.Add(float64(delta))
}

// Metrics holds the pipeline counters registered in a prometheus registry.
type Metrics struct {
	dispatched *prometheus.CounterVec
	failed     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventpipe",
			Name:      "events_dispatched_total",
			Help:      "Integration events dispatched successfully.",
		}, []string{"stage"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventpipe",
			Name:      "events_failed_total",
			Help:      "Integration events whose dispatch failed.",
		}, []string{"stage"}),
	}
	reg.MustRegister(m.dispatched, m.failed)
	return m
}

// Counters returns the success and error counters of a pipeline stage.
func (m *Metrics) Counters(stage string) (success *Counter, failure *Counter) {
	return &Counter{Counter: m.dispatched.WithLabelValues(stage)}, &Counter{Counter: m.failed.WithLabelValues(stage)}
}
