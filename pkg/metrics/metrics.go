// Package metrics provides Prometheus metrics for the negotiation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OffersSubmittedTotal tracks appended offers by side and origin
	OffersSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "negotiation",
			Name:      "offers_submitted_total",
			Help:      "Total number of offers appended, by offer type and origin",
		},
		[]string{"offer_type", "agent_generated"},
	)

	// TransitionsTotal tracks negotiation status transitions
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "negotiation",
			Name:      "transitions_total",
			Help:      "Total number of negotiation status transitions",
		},
		[]string{"from", "to"},
	)

	// ConflictRetriesTotal tracks optimistic-concurrency retries
	ConflictRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "negotiation",
			Name:      "conflict_retries_total",
			Help:      "Total number of version-conflict retries performed by the engine",
		},
	)

	// AgentDecisionsTotal tracks agent decisions by type
	AgentDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "agent",
			Name:      "decisions_total",
			Help:      "Total number of agent decisions by decision type",
		},
		[]string{"decision_type"},
	)

	// AgentUnavailableTotal tracks swallowed agent timeouts and failures
	AgentUnavailableTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "agent",
			Name:      "unavailable_total",
			Help:      "Total number of agent invocations that timed out or failed",
		},
	)

	// AgentDecisionDuration tracks agent decision latency in seconds
	AgentDecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "agent",
			Name:      "decision_duration_seconds",
			Help:      "Duration of agent decision calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	// NotificationsDerivedTotal tracks derived notifications by kind
	NotificationsDerivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "notifications",
			Name:      "derived_total",
			Help:      "Total number of notifications derived, by kind",
		},
		[]string{"kind"},
	)
)
