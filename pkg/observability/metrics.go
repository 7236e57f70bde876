/*
Package observability exposes Prometheus metrics for the execution
engine and the modification service. Metrics hang off the engine's
lifecycle hooks, so wiring them costs one option at construction time.
*/
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/palaverhq/palaver/internal/runtime"
	"github.com/palaverhq/palaver/pkg/flow"
)

// Metrics holds the collectors for a single engine instance.
type Metrics struct {
	nodeVisits   *prometheus.CounterVec
	turnEvents   *prometheus.CounterVec
	llmCalls     *prometheus.CounterVec
	pathLocks    *prometheus.CounterVec
	turnDuration prometheus.Histogram
	batchApplies *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors. Pass
// prometheus.DefaultRegisterer unless tests need isolation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palaver_node_visits_total",
				Help: "Total number of node visits",
			},
			[]string{"node_id", "kind"},
		),
		turnEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palaver_turn_events_total",
				Help: "Turns processed, by event type",
			},
			[]string{"event"},
		),
		llmCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palaver_llm_calls_total",
				Help: "LLM calls, by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		pathLocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palaver_path_locks_total",
				Help: "Conversation paths locked, by path key",
			},
			[]string{"path"},
		),
		turnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "palaver_turn_duration_seconds",
				Help:    "Wall time per engine turn",
				Buckets: prometheus.DefBuckets,
			},
		),
		batchApplies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palaver_batch_applies_total",
				Help: "Flow modification batches, by outcome",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(
		m.nodeVisits, m.turnEvents, m.llmCalls,
		m.pathLocks, m.turnDuration, m.batchApplies,
	)
	return m
}

// Hooks returns engine hooks that feed these collectors. Compose with
// your own hooks if you also want logging or tracing.
func (m *Metrics) Hooks() runtime.Hooks {
	return runtime.Hooks{
		OnNodeEnter: func(nodeID string, kind flow.Kind) {
			m.nodeVisits.WithLabelValues(nodeID, string(kind)).Inc()
		},
		OnEvent: func(event string) {
			m.turnEvents.WithLabelValues(event).Inc()
		},
		OnLLMCall: func(op string, attempt int, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			if attempt > 0 {
				m.llmCalls.WithLabelValues(op, "retry").Inc()
			}
			m.llmCalls.WithLabelValues(op, outcome).Inc()
		},
		OnPathLocked: func(path string) {
			m.pathLocks.WithLabelValues(path).Inc()
		},
	}
}

// ObserveTurn records the wall time of one engine turn.
func (m *Metrics) ObserveTurn(start time.Time) {
	m.turnDuration.Observe(time.Since(start).Seconds())
}

// ObserveBatch records the outcome of a modification batch.
func (m *Metrics) ObserveBatch(err error) {
	outcome := "applied"
	if err != nil {
		outcome = "rejected"
	}
	m.batchApplies.WithLabelValues(outcome).Inc()
}
