// Package tools provides the tool registry and the data-fetching tools that
// specialist agents use to gather evidence from the cluster.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/opspilot/opspilot/ai/core/llm"
)

// Capability tags group tools by the kind of evidence they produce.
// Specialists discover their tool set by tag, never by hard-coded name.
const (
	CapabilityMetrics    = "metrics"
	CapabilityLogs       = "logs"
	CapabilityKubernetes = "kubernetes"
)

var (
	// ErrDuplicateTool is returned when registering a name that already exists.
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrUnknownTool is returned when resolving a name that was never registered.
	ErrUnknownTool = errors.New("unknown tool")
)

// MaxToolResponseBytes is the maximum size of a tool response in bytes.
// Larger responses are truncated to prevent prompt-context overflow.
const MaxToolResponseBytes = 50 * 1024

// Tool is the capability descriptor for a single data-fetching action.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description returns a human-readable description for the reasoning model.
	Description() string

	// Capability returns the capability tag this tool belongs to.
	Capability() string

	// InputSchema returns JSON Schema for input validation.
	InputSchema() map[string]interface{}

	// Execute runs the tool with the given input.
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// Result represents the output of a tool execution.
type Result struct {
	// Success indicates if the tool executed successfully.
	Success bool `json:"success"`

	// Data contains the tool's output (tool-specific structure).
	Data interface{} `json:"data,omitempty"`

	// Error contains error details if Success is false.
	Error string `json:"error,omitempty"`

	// Summary is a brief description of what happened (for display).
	Summary string `json:"summary,omitempty"`

	// ExecutionTimeMs is how long the tool took to run.
	ExecutionTimeMs int64 `json:"executionTimeMs"`
}

// Registry manages tool registration and discovery.
// Registration happens at startup; reads are unlimited and concurrent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string

	// onExecute, when set, observes every Execute call for metrics.
	onExecute func(name string, elapsed time.Duration, success bool)
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return errors.Wrap(ErrDuplicateTool, name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	slog.Debug("registered tool", "name", name, "capability", tool.Capability())
	return nil
}

// MustRegister registers tools and panics on conflict.
// Used only during startup wiring, where a duplicate is a configuration error.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Resolve returns a tool by name.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownTool, name)
	}
	return tool, nil
}

// List returns registered tools filtered by capability tag, in registration
// order. An empty tag returns all tools. The returned slice is a fresh copy.
func (r *Registry) List(capability string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		if capability == "" || tool.Capability() == capability {
			result = append(result, tool)
		}
	}
	return result
}

// Descriptors converts tools with the given capability into reasoning-model
// tool descriptors.
func (r *Registry) Descriptors(capability string) []llm.ToolDescriptor {
	tools := r.List(capability)
	defs := make([]llm.ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		schema, err := json.Marshal(tool.InputSchema())
		if err != nil {
			slog.Error("tools: failed to marshal input schema", "tool", tool.Name(), "error", err)
			continue
		}
		defs = append(defs, llm.ToolDescriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  string(schema),
		})
	}
	return defs
}

// SetExecuteHook installs an observer for Execute calls, used by the metrics
// exporter.
func (r *Registry) SetExecuteHook(fn func(name string, elapsed time.Duration, success bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExecute = fn
}

// Execute runs a tool by name with the given input. Lookup failures and
// execution errors are folded into the Result so callers degrade gracefully.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) *Result {
	tool, err := r.Resolve(name)
	if err != nil {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("tool %q not found", name),
		}
	}

	start := time.Now()
	result, err := tool.Execute(ctx, input)
	elapsed := time.Since(start)
	if err == nil && result == nil {
		err = errors.Errorf("tool %q returned no result", name)
	}

	r.mu.RLock()
	hook := r.onExecute
	r.mu.RUnlock()
	if hook != nil {
		hook(name, elapsed, err == nil && result.Success)
	}

	if err != nil {
		return &Result{
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMs: elapsed.Milliseconds(),
		}
	}

	result.ExecutionTimeMs = elapsed.Milliseconds()
	return truncateResult(result, MaxToolResponseBytes)
}

// truncatedData is used when tool output exceeds MaxToolResponseBytes.
type truncatedData struct {
	Truncated     bool   `json:"_truncated"`
	OriginalBytes int    `json:"_original_bytes"`
	PartialData   string `json:"partial_data"`
}

// truncateResult caps the result payload so a single tool call cannot blow the
// reasoning context.
func truncateResult(result *Result, maxBytes int) *Result {
	if result == nil || result.Data == nil {
		return result
	}

	dataBytes, err := json.Marshal(result.Data)
	if err != nil {
		return result
	}
	if len(dataBytes) <= maxBytes {
		return result
	}

	partial := string(dataBytes)
	keep := maxBytes * 80 / 100
	if len(partial) > keep {
		partial = partial[:keep]
	}

	summary := result.Summary
	note := fmt.Sprintf("[TRUNCATED: %d -> %d bytes]", len(dataBytes), maxBytes)
	if summary != "" {
		summary = summary + " " + note
	} else {
		summary = note
	}

	return &Result{
		Success: result.Success,
		Data: &truncatedData{
			Truncated:     true,
			OriginalBytes: len(dataBytes),
			PartialData:   partial,
		},
		Error:           result.Error,
		Summary:         summary,
		ExecutionTimeMs: result.ExecutionTimeMs,
	}
}
