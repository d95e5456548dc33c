package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// MockTool is a scriptable tool for demo mode and tests. It returns a canned
// result after an optional delay and can be switched into a failing state.
type MockTool struct {
	name        string
	description string
	capability  string
	schema      map[string]interface{}
	result      *Result
	delay       time.Duration
	failWith    atomic.Value // string
	calls       atomic.Int64
}

// MockOption configures a MockTool.
type MockOption func(*MockTool)

// WithDelay makes the mock sleep before answering, to simulate a slow backend.
func WithDelay(d time.Duration) MockOption {
	return func(m *MockTool) { m.delay = d }
}

// WithSchema overrides the default empty input schema.
func WithSchema(schema map[string]interface{}) MockOption {
	return func(m *MockTool) { m.schema = schema }
}

func NewMockTool(name, description, capability string, result *Result, opts ...MockOption) *MockTool {
	m := &MockTool{
		name:        name,
		description: description,
		capability:  capability,
		result:      result,
		schema:      map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockTool) Name() string                        { return m.name }
func (m *MockTool) Description() string                 { return m.description }
func (m *MockTool) Capability() string                  { return m.capability }
func (m *MockTool) InputSchema() map[string]interface{} { return m.schema }

// Fail puts the mock into a failing state. Every subsequent Execute returns
// the given error. Passing an empty string restores normal behavior.
func (m *MockTool) Fail(message string) {
	m.failWith.Store(message)
}

// Calls reports how many times Execute ran.
func (m *MockTool) Calls() int64 { return m.calls.Load() }

func (m *MockTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	m.calls.Add(1)

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if msg, ok := m.failWith.Load().(string); ok && msg != "" {
		return nil, fmt.Errorf("%s", msg)
	}

	// Copy so callers can't mutate the canned result.
	out := *m.result
	return &out, nil
}

// NewDemoRegistry builds the registry used in demo mode: canned tools that
// replay a payment-service OOM incident without touching a real cluster.
func NewDemoRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(
		NewMockTool(
			"query_essential_metrics",
			"Query essential cluster health metrics (CPU, memory, restarts, OOM events, error rates).",
			CapabilityMetrics,
			&Result{
				Success: true,
				Data: map[string]interface{}{
					"pod_name":         "payment-service-7d9f8b6c5-x2k4j",
					"namespace":        "payments",
					"oom_killed":       true,
					"memory_limit_mb":  512,
					"memory_usage_mb":  509,
					"memory_usage_pct": 99.4,
					"cpu_usage_cores":  0.31,
					"restart_count":    7,
					"last_restart":     "2m41s ago",
					"last_exit_reason": "OOMKilled",
					"container_status": "CrashLoopBackOff",
					"memory_trend":     "climbing steadily over the last 45 minutes",
				},
				Summary: "payment-service pod was OOM killed at its 512MB limit, 7 restarts",
			},
			WithDelay(150*time.Millisecond),
		),
		NewMockTool(
			"query_specific_metrics",
			"Query specific metrics by name over an optional time range.",
			CapabilityMetrics,
			&Result{
				Success: true,
				Data: map[string]interface{}{
					"container_memory_working_set_bytes": []map[string]interface{}{
						{"timestamp": "2026-08-31T09:10:00Z", "value_mb": 312},
						{"timestamp": "2026-08-31T09:25:00Z", "value_mb": 398},
						{"timestamp": "2026-08-31T09:40:00Z", "value_mb": 471},
						{"timestamp": "2026-08-31T09:55:00Z", "value_mb": 509},
					},
				},
				Summary: "memory working set climbed from 312MB to 509MB over 45 minutes",
			},
			WithDelay(100*time.Millisecond),
		),
		NewMockTool(
			"query_error_logs",
			"Fetch only error-level log lines for a pod.",
			CapabilityLogs,
			&Result{
				Success: true,
				Data: map[string]interface{}{
					"pod_name": "payment-service-7d9f8b6c5-x2k4j",
					"entries": []map[string]interface{}{
						{"timestamp": "2026-08-31T09:53:12Z", "line": "ERROR payment.worker: batch settlement cache grew to 48211 entries, eviction disabled"},
						{"timestamp": "2026-08-31T09:54:48Z", "line": "WARN  runtime: GC pause 1.8s, heap near limit"},
						{"timestamp": "2026-08-31T09:55:03Z", "line": "fatal error: out of memory"},
					},
					"error_count": 3,
				},
				Summary: "3 error lines, settlement cache growth followed by out-of-memory",
			},
			WithDelay(200*time.Millisecond),
		),
		NewMockTool(
			"get_pod_events",
			"List recent Kubernetes events for a pod.",
			CapabilityKubernetes,
			&Result{
				Success: true,
				Data: map[string]interface{}{
					"events": []map[string]interface{}{
						{"type": "Warning", "reason": "OOMKilling", "message": "Memory cgroup out of memory: Killed process 1 (payment-service)", "count": 7},
						{"type": "Warning", "reason": "BackOff", "message": "Back-off restarting failed container", "count": 12},
					},
					"count": 2,
				},
				Summary: "pod was OOM killed 7 times, now in back-off",
			},
		),
	)
	return r
}
