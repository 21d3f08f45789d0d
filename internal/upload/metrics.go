package upload

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "xen_bootdisk"

// Metrics counts what uploads send. A nil *Metrics records nothing.
type Metrics struct {
	Sectors  prometheus.Counter
	Bytes    prometheus.Counter
	Cleanups prometheus.Counter
	Results  *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics creates the upload collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sectors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "sectors_total",
			Help:      "Sectors written to import streams.",
		}),
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Bytes written to import streams.",
		}),
		Cleanups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "cleanups_total",
			Help:      "Virtual disks destroyed after a failed upload.",
		}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "results_total",
			Help:      "Finished uploads by outcome stage.",
		}, []string{"stage"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "duration_seconds",
			Help:      "Wall time of whole uploads.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Sectors, m.Bytes, m.Cleanups, m.Results, m.Duration)
	}
	return m
}

func (m *Metrics) sector(n int) {
	if m == nil {
		return
	}
	m.Sectors.Inc()
	m.Bytes.Add(float64(n))
}

func (m *Metrics) cleanup() {
	if m == nil {
		return
	}
	m.Cleanups.Inc()
}

func (m *Metrics) finish(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(stage).Inc()
	m.Duration.Observe(seconds)
}
