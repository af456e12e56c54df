package mailq

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records queue outcomes for Prometheus scraping. Both the API and
// the worker process register one instance against their own registry.
type Metrics struct {
	enqueued     *prometheus.CounterVec
	processed    *prometheus.CounterVec
	inFlight     prometheus.Gauge
	sendDuration prometheus.Histogram
}

// NewMetrics creates and registers the queue metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailq_jobs_enqueued_total",
				Help: "Email jobs accepted by the queue, by type.",
			},
			[]string{"type"},
		),
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailq_jobs_processed_total",
				Help: "Email job executions by type and result.",
			},
			[]string{"type", "result"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailq_jobs_in_flight",
				Help: "Email jobs currently being processed.",
			},
		),
		sendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailq_send_duration_seconds",
				Help:    "Wall time of individual transport send attempts.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.enqueued, m.processed, m.inFlight, m.sendDuration)
	}
	return m
}

// JobEnqueued counts an accepted job.
func (m *Metrics) JobEnqueued(t EmailType) {
	m.enqueued.WithLabelValues(string(t)).Inc()
}

// JobProcessed counts an execution outcome: completed, retried, failed, or
// skipped.
func (m *Metrics) JobProcessed(t EmailType, result string) {
	m.processed.WithLabelValues(string(t), result).Inc()
}

// JobStarted marks a job entering processing.
func (m *Metrics) JobStarted() { m.inFlight.Inc() }

// JobFinished marks a job leaving processing.
func (m *Metrics) JobFinished() { m.inFlight.Dec() }

// ObserveSendDuration records one transport attempt's duration.
func (m *Metrics) ObserveSendDuration(d time.Duration) {
	m.sendDuration.Observe(d.Seconds())
}
