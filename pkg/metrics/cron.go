package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingJobMetrics records outcomes for the scheduled billing sweeps.
type BillingJobMetrics struct {
	duration  *prometheus.HistogramVec
	success   *prometheus.CounterVec
	failure   *prometheus.CounterVec
	processed *prometheus.CounterVec
}

// NewBillingJobMetrics registers the job metrics on the provided registerer.
func NewBillingJobMetrics(reg prometheus.Registerer) *BillingJobMetrics {
	if reg == nil {
		return &BillingJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_job_duration_seconds",
		Help:    "Duration of billing cron jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_job_success",
		Help: "Successful billing cron job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_job_failure",
		Help: "Failed billing cron job executions.",
	}, []string{"job"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_job_subscriptions_processed",
		Help: "Subscriptions touched by billing cron jobs.",
	}, []string{"job"})
	reg.MustRegister(duration, success, failure, processed)
	return &BillingJobMetrics{
		duration:  duration,
		success:   success,
		failure:   failure,
		processed: processed,
	}
}

// ObserveDuration records the duration for the named job.
func (m *BillingJobMetrics) ObserveDuration(job string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (m *BillingJobMetrics) IncSuccess(job string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (m *BillingJobMetrics) IncFailure(job string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

// AddProcessed adds to the processed-subscriptions counter for the named job.
func (m *BillingJobMetrics) AddProcessed(job string, n int) {
	if m == nil || m.processed == nil || n <= 0 {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(job)).Add(float64(n))
}

func normalizeLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
