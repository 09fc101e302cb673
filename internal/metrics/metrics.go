// Package metrics provides Prometheus metrics for the LexHub API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the API records into.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge

	DBOperationsTotal   *prometheus.CounterVec
	DBOperationDuration *prometheus.HistogramVec

	ReviewCallsTotal   *prometheus.CounterVec
	ReviewCallDuration prometheus.Histogram

	VotesTotal         *prometheus.CounterVec
	SnapshotCommits    *prometheus.CounterVec
	ProposalTransition *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers collectors on reg. Pass prometheus.NewRegistry() in tests so
// repeated construction does not collide on the default registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexhub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexhub_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	m.HTTPInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexhub_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	m.DBOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexhub_db_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)
	m.DBOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexhub_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	m.ReviewCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexhub_review_calls_total",
			Help: "Calls to the external text reviewer by outcome",
		},
		[]string{"kind", "outcome"},
	)
	m.ReviewCallDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lexhub_review_call_duration_seconds",
			Help:    "Latency of external reviewer calls",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	m.VotesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexhub_votes_total",
			Help: "Vote toggles by kind and result",
		},
		[]string{"kind", "result"},
	)
	m.SnapshotCommits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexhub_snapshot_commits_total",
			Help: "Snapshot commit attempts by status",
		},
		[]string{"status"},
	)
	m.ProposalTransition = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexhub_proposal_transitions_total",
			Help: "Proposal status transitions",
		},
		[]string{"from", "to"},
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// TrackInFlight raises the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.HTTPInFlight.Inc()
	return m.HTTPInFlight.Dec
}

func (m *Metrics) RecordHTTPRequest(method, route string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) RecordDBOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.DBOperationsTotal.WithLabelValues(operation, status).Inc()
	m.DBOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordReviewCall(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ReviewCallsTotal.WithLabelValues(kind, outcome).Inc()
	m.ReviewCallDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordVote(kind, result string) {
	if m == nil {
		return
	}
	m.VotesTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordSnapshotCommit(status string) {
	if m == nil {
		return
	}
	m.SnapshotCommits.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.ProposalTransition.WithLabelValues(from, to).Inc()
}
