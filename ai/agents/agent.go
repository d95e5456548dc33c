package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opspilot/opspilot/ai/core/llm"
	"github.com/opspilot/opspilot/ai/tools"
	"github.com/opspilot/opspilot/ai/workflow"
)

// maxToolRounds bounds how many tool-calling iterations one contribution may
// take before the agent is forced to answer with what it has.
const maxToolRounds = 4

// Config wires an agent to its collaborators.
type Config struct {
	// Name is the canonical agent name.
	Name string

	// SystemPrompt defines the agent's role and owned context keys.
	SystemPrompt string

	// Capability selects the agent's tool set from the registry. Empty means
	// the agent reasons over the context snapshot only.
	Capability string

	// KeyPrefix is the context namespace this agent owns, e.g. "metrics".
	KeyPrefix string

	// HandoffTargets are the agents this one may transfer to, advertised as
	// transfer_to_<name> pseudo-tools.
	HandoffTargets []string

	// Retries is how many times a failed model call is retried.
	Retries int

	// OnLLMStats, when set, receives per-call token statistics.
	OnLLMStats func(stats *llm.CallStats)
}

// Agent is the shared implementation behind every specialist: a tool-calling
// loop over the reasoning model, publishing evidence as it goes.
type Agent struct {
	cfg      Config
	service  llm.Service
	registry *tools.Registry
	contexts *workflow.ContextManager
}

func New(cfg Config, service llm.Service, registry *tools.Registry, contexts *workflow.ContextManager) *Agent {
	return &Agent{
		cfg:      cfg,
		service:  service,
		registry: registry,
		contexts: contexts,
	}
}

func (a *Agent) Name() string { return a.cfg.Name }

// SetStatsHook installs a receiver for per-call token statistics, wired to
// the metrics exporter at startup.
func (a *Agent) SetStatsHook(fn func(*llm.CallStats)) { a.cfg.OnLLMStats = fn }

// Contribute runs one agent turn. Tool failures degrade into the returned
// message; only exhausted model retries surface as an error.
func (a *Agent) Contribute(ctx context.Context, task *Task, snapshot *workflow.Snapshot) (*Contribution, error) {
	start := time.Now()
	messages := a.buildMessages(task, snapshot)
	descriptors := a.toolDescriptors()

	payload := make(map[string]interface{})
	for round := 0; round <= maxToolRounds; round++ {
		resp, err := a.chatWithRetry(ctx, messages, descriptors)
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			return a.finish(task, resp.Content, payload, start), nil
		}

		// A transfer request ends the turn immediately; any data tools in
		// the same response are ignored.
		for _, call := range resp.ToolCalls {
			if target, ok := strings.CutPrefix(call.Name, TransferToolPrefix); ok {
				return a.finishHandoff(task, resp.Content, target, call.Arguments, payload, start), nil
			}
		}

		messages = append(messages, llm.AssistantMessage(describeToolCalls(resp)))
		for _, call := range resp.ToolCalls {
			result := a.runTool(ctx, task, call, payload)
			messages = append(messages, llm.UserMessage(formatToolResult(call.Name, result)))
		}
	}

	// Tool rounds exhausted, force a final answer without tools.
	messages = append(messages, llm.UserMessage(
		"You have used all available tool calls. Answer now with the evidence you have."))
	resp, err := a.chatWithRetry(ctx, messages, nil)
	if err != nil {
		return nil, err
	}
	return a.finish(task, resp.Content, payload, start), nil
}

// chatWithRetry calls the model with bounded retries and backoff.
func (a *Agent) chatWithRetry(ctx context.Context, messages []llm.Message, descriptors []llm.ToolDescriptor) (*llm.ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			slog.Warn("agent: retrying model call",
				"agent", a.cfg.Name, "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s", llm.ErrReasoningTimeout, ctx.Err())
			}
		}

		resp, stats, err := a.service.ChatWithTools(ctx, messages, descriptors)
		if err == nil {
			if a.cfg.OnLLMStats != nil && stats != nil {
				a.cfg.OnLLMStats(stats)
			}
			return resp, nil
		}
		lastErr = err

		// Timeouts caused by the caller going away are not worth retrying.
		if ctx.Err() != nil {
			break
		}
	}

	if errors.Is(lastErr, llm.ErrReasoningTimeout) || errors.Is(lastErr, llm.ErrReasoningFailure) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %s", llm.ErrReasoningFailure, lastErr)
}

// runTool executes one data tool, publishes a successful result to the
// workflow context and collects it into the contribution payload.
func (a *Agent) runTool(ctx context.Context, task *Task, call llm.ToolCall, payload map[string]interface{}) *tools.Result {
	result := a.registry.Execute(ctx, call.Name, json.RawMessage(call.Arguments))

	slog.Info("agent: tool executed",
		"agent", a.cfg.Name,
		"incident_id", task.IncidentID,
		"tool", call.Name,
		"success", result.Success,
		"duration_ms", result.ExecutionTimeMs)

	if !result.Success {
		return result
	}

	key := a.cfg.KeyPrefix + "." + call.Name
	if err := a.contexts.Publish(task.IncidentID, key, result.Data, a.cfg.Name); err != nil {
		// Ownership conflicts are a wiring bug, log and keep going so the
		// user still gets an answer.
		slog.Error("agent: failed to publish evidence",
			"agent", a.cfg.Name, "key", key, "error", err)
	}
	payload[call.Name] = result.Data
	return result
}

func (a *Agent) finish(task *Task, content string, payload map[string]interface{}, start time.Time) *Contribution {
	confidence := parseConfidence(content)
	summaryKey := a.cfg.KeyPrefix + ".summary"
	if err := a.contexts.Publish(task.IncidentID, summaryKey, content, a.cfg.Name); err != nil {
		slog.Error("agent: failed to publish summary",
			"agent", a.cfg.Name, "key", summaryKey, "error", err)
	}

	slog.Info("agent: contribution completed",
		"agent", a.cfg.Name,
		"incident_id", task.IncidentID,
		"confidence", confidence,
		"duration_ms", time.Since(start).Milliseconds())

	return &Contribution{
		Message:    content,
		Payload:    payload,
		Confidence: confidence,
	}
}

func (a *Agent) finishHandoff(task *Task, content, target, arguments string, payload map[string]interface{}, start time.Time) *Contribution {
	reason := content
	var args struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err == nil && args.Reason != "" {
		reason = args.Reason
	}

	message := content
	if message == "" {
		message = fmt.Sprintf("Transferring to %s: %s", target, reason)
	}

	slog.Info("agent: hand-off requested",
		"agent", a.cfg.Name,
		"incident_id", task.IncidentID,
		"target", target,
		"duration_ms", time.Since(start).Milliseconds())

	return &Contribution{
		Message:    message,
		Payload:    payload,
		Confidence: parseConfidence(content),
		Handoff:    &HandoffRequest{Target: target, Reason: reason},
	}
}

// buildMessages assembles system prompt, context evidence, recent history and
// the task query into the model conversation.
func (a *Agent) buildMessages(task *Task, snapshot *workflow.Snapshot) []llm.Message {
	messages := []llm.Message{llm.SystemPrompt(a.cfg.SystemPrompt)}

	if evidence := formatSnapshot(snapshot); evidence != "" {
		messages = append(messages, llm.SystemPrompt("Evidence gathered so far:\n"+evidence))
	}

	messages = append(messages, task.History...)
	messages = append(messages, llm.UserMessage(task.Query))
	return messages
}

// toolDescriptors returns the agent's data tools plus one transfer
// pseudo-tool per wired hand-off target.
func (a *Agent) toolDescriptors() []llm.ToolDescriptor {
	var descriptors []llm.ToolDescriptor
	if a.cfg.Capability != "" {
		descriptors = a.registry.Descriptors(a.cfg.Capability)
	}

	for _, target := range a.cfg.HandoffTargets {
		descriptors = append(descriptors, llm.ToolDescriptor{
			Name:        TransferToolPrefix + target,
			Description: fmt.Sprintf("Transfer the investigation to %s when its expertise is needed.", target),
			Parameters:  `{"type":"object","properties":{"reason":{"type":"string","description":"Why the transfer is needed."}}}`,
		})
	}
	return descriptors
}

// formatSnapshot renders published evidence for the prompt, keyed
// alphabetically so prompts are stable.
func formatSnapshot(snapshot *workflow.Snapshot) string {
	if snapshot == nil || len(snapshot.Entries) == 0 {
		return ""
	}

	keys := snapshot.Keys()
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		entry := snapshot.Entries[k]
		data, err := json.Marshal(entry.Value)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %s (by %s): %s\n", k, entry.Owner, data)
	}
	return b.String()
}

func describeToolCalls(resp *llm.ChatResponse) string {
	var b strings.Builder
	if resp.Content != "" {
		b.WriteString(resp.Content)
		b.WriteString("\n")
	}
	for _, call := range resp.ToolCalls {
		fmt.Fprintf(&b, "Calling tool %s with arguments: %s\n", call.Name, call.Arguments)
	}
	return b.String()
}

func formatToolResult(name string, result *tools.Result) string {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("Tool %s result could not be serialized: %s", name, err)
	}
	return fmt.Sprintf("Tool %s result: %s", name, data)
}

var confidencePattern = regexp.MustCompile(`(?i)confidence[:\s]+([01](?:\.\d+)?)`)

// parseConfidence extracts a self-reported "Confidence: 0.95" marker from the
// model output. Missing or malformed markers yield zero.
func parseConfidence(content string) float64 {
	m := confidencePattern.FindStringSubmatch(content)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 1 {
		return 0
	}
	return v
}
