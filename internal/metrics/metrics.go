// Package metrics registers the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "armada",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "armada",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	ActionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "armada",
		Name:      "actions_created_total",
		Help:      "Actions created by assignments.",
	})

	ActionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "armada",
		Name:      "actions_started_total",
		Help:      "Scheduled actions promoted to running by the rollout scheduler.",
	})

	ActionsCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "armada",
		Name:      "actions_cleaned_total",
		Help:      "Actions removed by cleanup deletion.",
	})
)
