// Package metrics holds the Prometheus collectors for the selection and
// acquisition subsystems. Labels stay low-cardinality: never a session key,
// user id or content id.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SelectionSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "media_relay_selection_sessions",
		Help: "Live selection sessions, by flow.",
	}, []string{"flow"})

	SelectionConsumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_relay_selection_consume_total",
		Help: "Selection consume attempts, by flow and outcome.",
	}, []string{"flow", "outcome"})

	SelectionExpiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_relay_selection_expired_total",
		Help: "Selection sessions removed by the expiry sweep, by flow.",
	}, []string{"flow"})

	CacheLookupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_relay_cache_lookup_total",
		Help: "Resolution cache lookups, by backend and result (hit/miss/error).",
	}, []string{"backend", "result"})

	PipelineStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "media_relay_pipeline_step_duration_seconds",
		Help:    "Duration of acquisition pipeline steps.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"step"})

	PipelineResultTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_relay_pipeline_result_total",
		Help: "Acquisition pipeline outcomes, by platform and error kind.",
	}, []string{"platform", "kind"})

	TransformAttemptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_relay_transform_attempt_total",
		Help: "Transform method attempts, by profile, method and result.",
	}, []string{"profile", "method", "result"})

	ComponentHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "media_relay_component_healthy",
		Help: "1 while a runtime component reports healthy or starting, 0 otherwise.",
	}, []string{"component"})

	ComponentTransitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_relay_component_transition_total",
		Help: "Component health transitions, by component and new state.",
	}, []string{"component", "state"})

	ReplyDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "media_relay_reply_dispatch_total",
		Help: "Inbound replies, by the handler that claimed them (none when unclaimed).",
	}, []string{"handler"})
)

// ObserveStep records the elapsed time of a pipeline step since start.
func ObserveStep(step string, start time.Time) {
	PipelineStepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}
