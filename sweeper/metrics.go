package sweeper

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the sweeper collectors. A nil *Metrics records nothing.
type Metrics struct {
	passes   *prometheus.CounterVec
	removed  prometheus.Counter
	failed   prometheus.Counter
	duration prometheus.Histogram
}

// NewMetrics registers the sweeper collectors with reg. A nil reg returns nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "melodia",
				Subsystem: "sweeper",
				Name:      "passes_total",
				Help:      "Sweep passes by result (ok, partial, missing, list_error, skipped, canceled)",
			},
			[]string{"result"},
		),
		removed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "melodia",
				Subsystem: "sweeper",
				Name:      "entries_removed_total",
				Help:      "Directory entries removed by sweep passes",
			},
		),
		failed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "melodia",
				Subsystem: "sweeper",
				Name:      "entries_failed_total",
				Help:      "Directory entries a sweep pass failed to remove",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "melodia",
				Subsystem: "sweeper",
				Name:      "pass_duration_seconds",
				Help:      "Duration of sweep passes that listed the directory",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	reg.MustRegister(m.passes, m.removed, m.failed, m.duration)
	return m
}

func (m *Metrics) observe(r Report) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(r.Result()).Inc()
	m.removed.Add(float64(r.Removed))
	m.failed.Add(float64(len(r.Failed)))
	if r.Listed > 0 || r.ListErr != nil {
		m.duration.Observe(r.Duration.Seconds())
	}
}
