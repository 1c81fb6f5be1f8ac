package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_transitions_total",
			Help: "Delivery request status transitions applied, by target status",
		},
		[]string{"to"},
	)
	AcceptRacesLost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_accept_races_lost_total",
			Help: "Accept attempts that lost the compare-and-swap to another carrier",
		},
	)
	OTPFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_otp_failures_total",
			Help: "OTP verifications rejected because the code did not match",
		},
	)
	TrustCredits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_credits_total",
			Help: "Trust credit attempts per principal, by result",
		},
		[]string{"result"},
	)
	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_active_subscriptions",
			Help: "Observer subscriptions currently registered with the change notifier",
		},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

// Register adds every collector to reg. Call once from main.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		Transitions,
		AcceptRacesLost,
		OTPFailures,
		TrustCredits,
		ActiveSubscriptions,
		HTTPRequests,
		HTTPDuration,
	)
}
