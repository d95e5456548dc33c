package agents

import (
	"github.com/opspilot/opspilot/ai/core/llm"
	"github.com/opspilot/opspilot/ai/tools"
	"github.com/opspilot/opspilot/ai/workflow"
)

// NewMetricExpert investigates resource usage and OOM signals with the
// metrics tool set. Hand-off targets default to the log expert and the
// analysis agent; teams override them to match their wiring.
func NewMetricExpert(service llm.Service, registry *tools.Registry, contexts *workflow.ContextManager, retries int, handoffs ...string) *Agent {
	if len(handoffs) == 0 {
		handoffs = []string{AgentLogExpert, AgentAnalysis}
	}
	return New(Config{
		Name:           AgentMetricExpert,
		SystemPrompt:   metricExpertPrompt,
		Capability:     tools.CapabilityMetrics,
		KeyPrefix:      "metrics",
		HandoffTargets: handoffs,
		Retries:        retries,
	}, service, registry, contexts)
}

// NewLogExpert investigates error logs with the log tool set. Hand-off
// targets default to the analysis agent only.
func NewLogExpert(service llm.Service, registry *tools.Registry, contexts *workflow.ContextManager, retries int, handoffs ...string) *Agent {
	if len(handoffs) == 0 {
		handoffs = []string{AgentAnalysis}
	}
	return New(Config{
		Name:           AgentLogExpert,
		SystemPrompt:   logExpertPrompt,
		Capability:     tools.CapabilityLogs,
		KeyPrefix:      "logs",
		HandoffTargets: handoffs,
		Retries:        retries,
	}, service, registry, contexts)
}

// NewAnalysisAgent reasons over published evidence without tools of its own.
func NewAnalysisAgent(service llm.Service, registry *tools.Registry, contexts *workflow.ContextManager, retries int) *Agent {
	return New(Config{
		Name:         AgentAnalysis,
		SystemPrompt: analysisPrompt,
		KeyPrefix:    "analysis",
		Retries:      retries,
	}, service, registry, contexts)
}

// NewReportAgent synthesizes the final user-facing answer from the context
// snapshot. No tools, no hand-offs.
func NewReportAgent(service llm.Service, registry *tools.Registry, contexts *workflow.ContextManager, retries int) *Agent {
	return New(Config{
		Name:         AgentReport,
		SystemPrompt: reportPrompt,
		KeyPrefix:    "report",
		Retries:      retries,
	}, service, registry, contexts)
}
