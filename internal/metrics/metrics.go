package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CheckInsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchq_checkins_total",
			Help: "Customers checked in, by service type",
		},
		[]string{"service_type"},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchq_transitions_total",
			Help: "Committed customer status transitions",
		},
		[]string{"from", "to"},
	)

	TransitionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchq_transition_rejections_total",
			Help: "Rejected status updates by reason",
		},
		[]string{"reason"}, // validation|not_found|invalid_transition|teller_unavailable|no_waiting
	)

	StorageRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "branchq_storage_retries_total",
			Help: "Units of work retried after storage contention",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchq_http_requests_total",
			Help: "HTTP requests by method and status code",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "branchq_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		CheckInsTotal,
		TransitionsTotal,
		TransitionRejectionsTotal,
		StorageRetriesTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}
