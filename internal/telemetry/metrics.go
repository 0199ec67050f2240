// Package telemetry exposes the agentd prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter agentd emits. A single instance is registered
// at worker startup and threaded through the activities.
type Metrics struct {
	ConversationsStarted prometheus.Counter
	TurnsCompleted       *prometheus.CounterVec
	LLMCalls             *prometheus.CounterVec
	ToolCalls            *prometheus.CounterVec
	Handoffs             *prometheus.CounterVec
	EnrichmentDegraded   prometheus.Counter
	ApprovalsRequested   prometheus.Counter
	ApprovalDecisions    *prometheus.CounterVec
	CheckpointSaves      *prometheus.CounterVec
	ContextForks         prometheus.Counter
	EnrichmentLatency    prometheus.Histogram
	ToolCallLatency      *prometheus.HistogramVec
}

// New builds the metric set and registers it on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConversationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentd_conversations_started_total",
			Help: "Total number of conversations started",
		}),
		TurnsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_turns_completed_total",
			Help: "Total number of conversation turns, by outcome",
		}, []string{"outcome"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_llm_calls_total",
			Help: "Total number of completion provider calls",
		}, []string{"persona"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_tool_calls_total",
			Help: "Total number of gateway tool invocations, by tool and result code",
		}, []string{"tool", "code"}),
		Handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_handoffs_total",
			Help: "Total number of agent handoffs",
		}, []string{"from", "to"}),
		EnrichmentDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentd_enrichment_degraded_total",
			Help: "Total number of turns where memory enrichment degraded",
		}),
		ApprovalsRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentd_approvals_requested_total",
			Help: "Total number of tool calls gated behind human approval",
		}),
		ApprovalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_approval_decisions_total",
			Help: "Total number of human decisions, by verb",
		}, []string{"verb"}),
		CheckpointSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentd_checkpoint_saves_total",
			Help: "Total number of context checkpoints saved, by result",
		}, []string{"result"}),
		ContextForks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentd_context_forks_total",
			Help: "Total number of context forks",
		}),
		EnrichmentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentd_enrichment_duration_seconds",
			Help:    "Memory enrichment latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		ToolCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentd_tool_call_duration_seconds",
			Help:    "Gateway tool invocation latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"tool"}),
	}

	reg.MustRegister(
		m.ConversationsStarted,
		m.TurnsCompleted,
		m.LLMCalls,
		m.ToolCalls,
		m.Handoffs,
		m.EnrichmentDegraded,
		m.ApprovalsRequested,
		m.ApprovalDecisions,
		m.CheckpointSaves,
		m.ContextForks,
		m.EnrichmentLatency,
		m.ToolCallLatency,
	)
	return m
}

// NewNop builds an unregistered metric set for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
