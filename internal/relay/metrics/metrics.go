package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "upload_relay"

// Metrics tracks ingestion, forwarding and staging activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	uploads         *prometheus.CounterVec
	forwardDuration *prometheus.HistogramVec
	stagedFiles     prometheus.Gauge
	cleanups        *prometheus.CounterVec
	sweptFiles      prometheus.Counter
	rateLimited     *prometheus.CounterVec
}

// New registers the relay metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads handled, by ingestion path and outcome class",
		}, []string{"path", "outcome"}),

		forwardDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Duration of the outbound relay call",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "result"}),

		stagedFiles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "staged_files",
			Help:      "Staged files currently held by in-flight requests",
		}),

		cleanups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staged_cleanups_total",
			Help:      "Staged file unlink attempts, by result",
		}, []string{"result"}),

		sweptFiles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_files_total",
			Help:      "Orphaned staged files removed by the sweeper",
		}),

		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by route",
		}, []string{"route"}),
	}
}

// RecordUpload counts a finished request. outcome is "ok" or an error class.
func (m *Metrics) RecordUpload(path, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.uploads.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) ObserveForward(path string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.forwardDuration.WithLabelValues(path, result).Observe(d.Seconds())
}

func (m *Metrics) FileStaged() {
	if m == nil {
		return
	}
	m.stagedFiles.Inc()
}

func (m *Metrics) FileReleased(err error) {
	if m == nil {
		return
	}
	m.stagedFiles.Dec()
	if err != nil {
		m.cleanups.WithLabelValues("error").Inc()
		return
	}
	m.cleanups.WithLabelValues("removed").Inc()
}

func (m *Metrics) FilesSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptFiles.Add(float64(n))
}

func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}
