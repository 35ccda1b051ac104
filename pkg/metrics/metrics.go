package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

var (
	TelemetryEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_total",
			Help: "Total number of inbound telemetry events by outcome (received, stale, unmatched, matched)",
		},
		[]string{"status"},
	)

	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_evaluations_total",
			Help: "Total number of queued rule evaluations by outcome (fired, not_effective, not_fired, error)",
		},
		[]string{"status"},
	)

	RuleEvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rule_evaluation_duration_ms",
			Help:    "Rule evaluation duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	DeviceActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_actions_total",
			Help: "Total number of device writes performed by the executor",
		},
		[]string{"status"},
	)

	NotificationSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_sends_total",
			Help: "Total number of notification deliveries by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	TopicSubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "topic_subscriptions_active",
			Help: "Number of telemetry topics currently subscribed",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

func RegisterEngineMetrics() {
	prometheus.MustRegister(
		TelemetryEventsTotal,
		RuleEvaluationsTotal,
		RuleEvaluationDuration,
		DeviceActionsTotal,
		NotificationSendsTotal,
		TopicSubscriptionsActive,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
}

func ObserveEvaluationDuration(d time.Duration, status string) {
	RuleEvaluationDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

func SetCircuitBreakerState(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	CircuitBreakerState.WithLabelValues(name).Set(v)
}
