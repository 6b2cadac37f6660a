package metrics

import "github.com/prometheus/client_golang/prometheus"

// The helpers below are safe to call before Init and when metrics are
// disabled, so instrumented packages do not need their own guards.

// IncCounter increments a counter if metrics are active
func IncCounter(c prometheus.Counter) {
	if metricsEnabled && c != nil {
		c.Inc()
	}
}

// IncCounterVec increments a labeled counter if metrics are active
func IncCounterVec(c *prometheus.CounterVec, labels ...string) {
	if metricsEnabled && c != nil {
		c.WithLabelValues(labels...).Inc()
	}
}

// ObserveHistogram records an observation if metrics are active
func ObserveHistogram(h prometheus.Histogram, v float64) {
	if metricsEnabled && h != nil {
		h.Observe(v)
	}
}

// ObserveHistogramVec records a labeled observation if metrics are active
func ObserveHistogramVec(h *prometheus.HistogramVec, v float64, labels ...string) {
	if metricsEnabled && h != nil {
		h.WithLabelValues(labels...).Observe(v)
	}
}

// SetGauge sets a gauge value if metrics are active
func SetGauge(g prometheus.Gauge, v float64) {
	if metricsEnabled && g != nil {
		g.Set(v)
	}
}

// AddGauge adds a delta to a gauge if metrics are active
func AddGauge(g prometheus.Gauge, delta float64) {
	if metricsEnabled && g != nil {
		g.Add(delta)
	}
}
