package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crowdfund/internal/campaign"
	"crowdfund/internal/submitter"
)

// Metrics is the service's prometheus registry. It observes the submitter and
// the session.
type Metrics struct {
	registry           *prometheus.Registry
	submissionsTotal   *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec
	inFlight           prometheus.Gauge
	readFailuresTotal  *prometheus.CounterVec
	rejectedTotal      *prometheus.CounterVec
	replaysTotal       *prometheus.CounterVec
	failureLogDepth    prometheus.Gauge
}

func NewMetrics() *Metrics {
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdfund_submissions_total",
		Help: "Submissions that reached a terminal state",
	}, []string{"method", "outcome", "kind"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crowdfund_submission_duration_seconds",
		Help:    "Time from build to terminal state",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"method"})

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crowdfund_submissions_in_flight",
		Help: "Submissions between build and terminal state",
	})

	readFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdfund_read_failures_total",
		Help: "Reconciliation reads that fell back to defaults",
	}, []string{"field"})

	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdfund_requests_rejected_total",
		Help: "Requests refused before reaching the submitter",
	}, []string{"route", "kind"})

	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdfund_idempotent_replays_total",
		Help: "Requests answered from the idempotency store",
	}, []string{"route"})

	failureLog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crowdfund_failure_log_depth",
		Help: "Number of entries in the failure log",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(submissions, duration, inFlight, readFailures, rejected, replays, failureLog)

	return &Metrics{
		registry:           r,
		submissionsTotal:   submissions,
		submissionDuration: duration,
		inFlight:           inFlight,
		readFailuresTotal:  readFailures,
		rejectedTotal:      rejected,
		replaysTotal:       replays,
		failureLogDepth:    failureLog,
	}
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Started implements submitter.Observer.
func (m *Metrics) Started(string) {
	m.inFlight.Inc()
}

// Finished implements submitter.Observer.
func (m *Metrics) Finished(method string, res submitter.Result, elapsed time.Duration) {
	m.inFlight.Dec()
	m.submissionsTotal.WithLabelValues(method, res.Outcome.String(), campaign.Kind(res.Err)).Inc()
	m.submissionDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ReadFailed implements session.Observer.
func (m *Metrics) ReadFailed(field string) {
	m.readFailuresTotal.WithLabelValues(field).Inc()
}

func (m *Metrics) incRejected(route, kind string) {
	m.rejectedTotal.WithLabelValues(route, kind).Inc()
}

func (m *Metrics) incReplay(route string) {
	m.replaysTotal.WithLabelValues(route).Inc()
}

func (m *Metrics) setFailureLogDepth(depth int) {
	m.failureLogDepth.Set(float64(depth))
}
