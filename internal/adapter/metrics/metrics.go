package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "casino_ewallet"

// Metrics implements ports.Metrics on Prometheus collectors.
type Metrics struct {
	webhooksTotal         *prometheus.CounterVec
	transferAttemptsTotal *prometheus.CounterVec
	transferDuration      prometheus.Histogram
	manualReviewsTotal    *prometheus.CounterVec
	sweepRunsTotal        *prometheus.CounterVec
	sweepDuration         prometheus.Histogram
	sweepItemsTotal       *prometheus.CounterVec
	sweepLastRunUnix      prometheus.Gauge
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		webhooksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "received_total",
				Help:      "Gateway callbacks partitioned by their effect on the transaction.",
			},
			[]string{"effect"},
		),
		transferAttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "executions_total",
				Help:      "Casino transfer executions partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		transferDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "duration_seconds",
				Help:      "Wall time of casino transfer executions.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
		),
		manualReviewsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "manual_reviews_total",
				Help:      "Transactions flagged for operator review.",
			},
			[]string{"reason"},
		),
		sweepRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "runs_total",
				Help:      "Reconciliation sweeps partitioned by result.",
			},
			[]string{"result"},
		),
		sweepDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "duration_seconds",
				Help:      "Wall time of reconciliation sweeps.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		sweepItemsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "items_total",
				Help:      "Items handled by sweeps partitioned by phase.",
			},
			[]string{"phase"},
		),
		sweepLastRunUnix: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "last_run_unix",
				Help:      "Unix timestamp of the last completed sweep.",
			},
		),
	}
}

func (m *Metrics) ObserveWebhook(effect string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(effect).Inc()
}

func (m *Metrics) ObserveTransfer(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transferAttemptsTotal.WithLabelValues(outcome).Inc()
	m.transferDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveManualReview(reason string) {
	if m == nil {
		return
	}
	m.manualReviewsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveSweep(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.sweepLastRunUnix.Set(float64(time.Now().UTC().Unix()))
	m.sweepDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.sweepRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.sweepRunsTotal.WithLabelValues("success").Inc()
}

func (m *Metrics) ObserveSweepItems(phase string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepItemsTotal.WithLabelValues(phase).Add(float64(n))
}
