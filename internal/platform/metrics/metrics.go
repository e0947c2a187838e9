package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	VisitsCreated        prometheus.Counter
	VisitRequestsCreated prometheus.Counter
	VisitsExpired        prometheus.Counter

	Scans        *prometheus.CounterVec
	ScanLatency  prometheus.Histogram
	SweepRuns    prometheus.Counter
	NotifyErrors prometheus.Counter
	NotifyDrops  prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		VisitsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_visits_created_total",
			Help: "Total number of visits created with an issued QR token",
		}),
		VisitRequestsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_visit_requests_created_total",
			Help: "Total number of resident visit requests awaiting approval",
		}),
		VisitsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_visits_expired_total",
			Help: "Total number of visits transitioned to expired (lazy or sweep)",
		}),
		Scans: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatepass_scans_total",
			Help: "Total number of scan attempts by kind and outcome",
		}, []string{"kind", "outcome"}),
		ScanLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatepass_scan_duration_seconds",
			Help:    "Latency of scan validation including persistence",
			Buckets: prometheus.DefBuckets,
		}),
		SweepRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_expiration_sweep_runs_total",
			Help: "Total number of expiration sweep executions",
		}),
		NotifyErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_notification_errors_total",
			Help: "Total number of lifecycle notification dispatch failures",
		}),
		NotifyDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_notification_drops_total",
			Help: "Total number of lifecycle events dropped on a full inbox",
		}),
	}
}

// ObserveScan records one scan attempt.
func (m *Metrics) ObserveScan(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(kind, outcome).Inc()
	m.ScanLatency.Observe(elapsed.Seconds())
}

// IncrementVisitsCreated increments the visits created counter by 1.
func (m *Metrics) IncrementVisitsCreated() {
	if m != nil {
		m.VisitsCreated.Inc()
	}
}

// IncrementVisitsExpired increments the expired visits counter by 1.
func (m *Metrics) IncrementVisitsExpired() {
	if m != nil {
		m.VisitsExpired.Inc()
	}
}
