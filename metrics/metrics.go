// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger
	Donations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donatenow_donations_total",
			Help: "Donation requests by outcome",
		},
		[]string{"result"}, // ok, invalid_amount, not_found, closed, conflict, unavailable
	)

	DonationAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "donatenow_donation_amount_total",
			Help: "Sum of committed donation amounts",
		},
	)

	CauseClosures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "donatenow_cause_closures_total",
			Help: "Causes closed by reaching their goal",
		},
	)

	LedgerRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "donatenow_ledger_retries_total",
			Help: "Donation transactions retried after a storage conflict",
		},
	)

	DonateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "donatenow_donate_duration_seconds",
			Help:    "Duration of the donate operation including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donatenow_event_publish_errors_total",
			Help: "Domain events that could not be published",
		},
		[]string{"topic"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "donatenow_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donatenow_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donatenow_http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "donatenow_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donatenow_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
)

// RecordHTTP observes one finished request.
func RecordHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
