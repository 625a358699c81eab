package contentmgr

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the content manager's Prometheus instruments. They are
// registered lazily by NewMetrics so unit tests can construct a
// ContentManager without touching the default registry.
type Metrics struct {
	FilesImported   prometheus.Counter
	ImportErrors    prometheus.Counter
	ImportDuration  prometheus.Histogram
	QueueDepth      prometheus.Gauge
}

// NewMetrics registers a fresh instrument set against reg. Pass
// prometheus.NewRegistry() in tests; pass prometheus.DefaultRegisterer in
// production wiring.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FilesImported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contentdir",
			Subsystem: "import",
			Name:      "files_total",
			Help:      "Total files successfully imported into the catalog.",
		}),
		ImportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contentdir",
			Subsystem: "import",
			Name:      "errors_total",
			Help:      "Total files that failed import.",
		}),
		ImportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "contentdir",
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a single file import.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "contentdir",
			Subsystem: "import",
			Name:      "queue_depth",
			Help:      "Number of tasks currently queued in the task pool.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.FilesImported, m.ImportErrors, m.ImportDuration, m.QueueDepth)
	}
	return m
}
