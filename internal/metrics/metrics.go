// Package metrics holds the prometheus collectors shared by the SDK packages.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RetryAttempts counts every attempt made by the retry orchestrator.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lestnet_retry_attempts_total",
			Help: "Attempts made by the retry orchestrator by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// FaucetRequests tracks faucet HTTP responses by status code.
	FaucetRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lestnet_faucet_requests_total",
			Help: "Faucet requests by HTTP status",
		},
		[]string{"status"},
	)

	// Submissions tracks transaction stage transitions.
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lestnet_tx_stage_total",
			Help: "Transaction stage transitions",
		},
		[]string{"stage"},
	)

	// ConfirmationLatency measures broadcast to receipt time.
	ConfirmationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lestnet_tx_confirmation_seconds",
			Help:    "Time from broadcast to receipt",
			Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		},
	)

	// BundleSize records how many transactions each bundle carried.
	BundleSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lestnet_bundle_size",
			Help:    "Transactions per bundle",
			Buckets: prometheus.LinearBuckets(1, 2, 8),
		},
	)

	// DispatchJobs counts asynchronous transfer jobs by final status.
	DispatchJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lestnet_dispatch_jobs_total",
			Help: "Dispatcher jobs by status",
		},
		[]string{"status"},
	)
)

// Handler exposes the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
