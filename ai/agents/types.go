// Package agents implements the specialist agents that investigate incidents:
// a metric expert, a log expert, a root-cause analysis agent and a report
// agent. All share one contribution interface and one tool-calling loop.
package agents

import (
	"context"

	"github.com/opspilot/opspilot/ai/core/llm"
	"github.com/opspilot/opspilot/ai/workflow"
)

// Canonical agent names, also used as context entry owners and as
// transfer_to_<name> pseudo-tool suffixes.
const (
	AgentMetricExpert = "metric_expert"
	AgentLogExpert    = "log_expert"
	AgentAnalysis     = "analysis_agent"
	AgentReport       = "report_agent"
)

// TransferToolPrefix marks the pseudo-tools that request a hand-off instead
// of fetching data.
const TransferToolPrefix = "transfer_to_"

// Task is one unit of investigation handed to a specialist.
type Task struct {
	// IncidentID namespaces everything the agent publishes.
	IncidentID string

	// Query is the instruction for this agent, usually derived from the
	// user's message.
	Query string

	// History carries recent conversation turns for continuity.
	History []llm.Message
}

// HandoffRequest asks the team to transfer control to another agent.
type HandoffRequest struct {
	// Target is the canonical name of the agent to transfer to.
	Target string

	// Reason is the model's stated reason for the transfer, shown to users
	// as an informational event.
	Reason string
}

// Contribution is the output of one agent turn.
type Contribution struct {
	// Message is the agent's user-facing finding.
	Message string

	// Payload carries structured evidence attached to the message.
	Payload map[string]interface{}

	// Confidence is the agent's self-assessed confidence in [0,1], zero when
	// the agent did not state one.
	Confidence float64

	// Handoff is non-nil when the agent requests a transfer.
	Handoff *HandoffRequest
}

// Specialist is the single interface every agent implements.
type Specialist interface {
	// Name returns the agent's canonical name.
	Name() string

	// Contribute runs one agent turn against a frozen context snapshot.
	// Findings are published to the workflow context before returning.
	Contribute(ctx context.Context, task *Task, snapshot *workflow.Snapshot) (*Contribution, error)
}
