package swarm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opspilot/opspilot/ai/agents"
	"github.com/opspilot/opspilot/ai/core/llm"
	"github.com/opspilot/opspilot/ai/tools"
	"github.com/opspilot/opspilot/ai/workflow"
)

// stubAgent replays scripted contributions, one per Contribute call.
type stubAgent struct {
	name  string
	turns []*agents.Contribution
	errs  []error
	calls int
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Contribute(ctx context.Context, task *agents.Task, snapshot *workflow.Snapshot) (*agents.Contribution, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx >= len(s.turns) {
		idx = len(s.turns) - 1
	}
	return s.turns[idx], nil
}

func answer(name, message string, confidence float64) *stubAgent {
	return &stubAgent{name: name, turns: []*agents.Contribution{
		{Message: message, Confidence: confidence},
	}}
}

func transfer(name, target, message string) *stubAgent {
	return &stubAgent{name: name, turns: []*agents.Contribution{
		{Message: message, Handoff: &agents.HandoffRequest{Target: target, Reason: "needs " + target}},
	}}
}

func pipelineConfig(members ...agents.Specialist) Config {
	wiring := make(map[string][]string)
	for i := 0; i < len(members)-1; i++ {
		wiring[members[i].Name()] = []string{members[i+1].Name()}
	}
	return Config{
		Name:           "test-team",
		Members:        members,
		Wiring:         wiring,
		Entry:          members[0].Name(),
		MessageCeiling: 10,
	}
}

func TestNewValidatesConfig(t *testing.T) {
	contexts := workflow.NewContextManager()
	a := answer("a", "done", 0)
	b := answer("b", "done", 0)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"too few members", Config{Name: "t", Members: []agents.Specialist{a}, Entry: "a"}},
		{"too many members", Config{Name: "t", Members: []agents.Specialist{
			answer("a", "", 0), answer("b", "", 0), answer("c", "", 0),
			answer("d", "", 0), answer("e", "", 0)}, Entry: "a"}},
		{"duplicate member", Config{Name: "t", Members: []agents.Specialist{a, answer("a", "", 0)}, Entry: "a"}},
		{"unknown entry", Config{Name: "t", Members: []agents.Specialist{a, b}, Entry: "missing"}},
		{"unknown wiring source", Config{Name: "t", Members: []agents.Specialist{a, b}, Entry: "a",
			Wiring: map[string][]string{"missing": {"a"}}}},
		{"unknown wiring target", Config{Name: "t", Members: []agents.Specialist{a, b}, Entry: "a",
			Wiring: map[string][]string{"a": {"missing"}}}},
		{"self wiring", Config{Name: "t", Members: []agents.Specialist{a, b}, Entry: "a",
			Wiring: map[string][]string{"a": {"a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, contexts)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBadWiring)
		})
	}
}

func TestRunPipelineTerminates(t *testing.T) {
	contexts := workflow.NewContextManager()
	team, err := New(pipelineConfig(
		transfer("collector", "analyzer", "collected 3 error lines"),
		answer("analyzer", "root cause found", 0.9),
	), contexts)
	require.NoError(t, err)

	var events []Event
	result, err := team.Run(context.Background(), &agents.Task{IncidentID: "inc-1", Query: "q"},
		func(e Event) { events = append(events, e) })
	require.NoError(t, err)

	assert.Equal(t, "root cause found", result.Final)
	assert.Equal(t, 2, result.MessageCount)
	assert.InDelta(t, 0.9, result.MaxConfidence, 0.001)
	assert.False(t, result.CeilingHit)
	assert.Equal(t, []string{"collector", "analyzer"}, result.Participants)

	// message, handoff, message, in emission order.
	require.Len(t, events, 3)
	assert.Equal(t, EventMessage, events[0].Type)
	assert.Equal(t, "collector", events[0].Agent)
	assert.Equal(t, EventHandoff, events[1].Type)
	assert.Equal(t, EventMessage, events[2].Type)
	assert.Equal(t, "analyzer", events[2].Agent)
}

func TestRunCyclicHitsCeiling(t *testing.T) {
	contexts := workflow.NewContextManager()
	a := transfer("a", "b", "over to b")
	b := transfer("b", "a", "back to a")

	team, err := New(Config{
		Name:    "cycle-team",
		Members: []agents.Specialist{a, b},
		Wiring: map[string][]string{
			"a": {"b"},
			"b": {"a"},
		},
		Entry:          "a",
		MessageCeiling: 5,
	}, contexts)
	require.NoError(t, err)

	result, err := team.Run(context.Background(), &agents.Task{IncidentID: "inc-1", Query: "q"}, nil)
	require.NoError(t, err)
	assert.True(t, result.CeilingHit)
	assert.Equal(t, 5, result.MessageCount)
}

func TestRunInvalidHandoffFailsFast(t *testing.T) {
	contexts := workflow.NewContextManager()
	team, err := New(Config{
		Name: "strict-team",
		Members: []agents.Specialist{
			transfer("a", "c", "skipping ahead"),
			answer("b", "never reached", 0),
			answer("c", "never reached", 0),
		},
		Wiring: map[string][]string{
			"a": {"b"},
			"b": {"c"},
		},
		Entry:          "a",
		MessageCeiling: 10,
	}, contexts)
	require.NoError(t, err)

	_, err = team.Run(context.Background(), &agents.Task{IncidentID: "inc-1", Query: "q"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidHandoff)
}

func TestRunAgentErrorPropagates(t *testing.T) {
	contexts := workflow.NewContextManager()
	failing := &stubAgent{name: "a", errs: []error{assert.AnError},
		turns: []*agents.Contribution{{Message: "unused"}}}

	team, err := New(pipelineConfig(failing, answer("b", "x", 0)), contexts)
	require.NoError(t, err)

	_, err = team.Run(context.Background(), &agents.Task{IncidentID: "inc-1", Query: "q"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRunCancellation(t *testing.T) {
	contexts := workflow.NewContextManager()
	team, err := New(pipelineConfig(
		transfer("a", "b", "m"),
		answer("b", "done", 0),
	), contexts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = team.Run(ctx, &agents.Task{IncidentID: "inc-1", Query: "q"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetStatsHookForwardsMemberStats(t *testing.T) {
	registry := tools.NewRegistry()
	contexts := workflow.NewContextManager()
	service := llm.NewScriptedService(
		llm.ScriptedStep{
			Content: "Logs show repeated out-of-memory errors. Confidence: 0.6",
			ToolCalls: []llm.ToolCall{
				{ID: "1", Name: "transfer_to_analysis_agent", Arguments: `{"reason":"evidence gathered"}`},
			},
		},
		llm.ScriptedStep{Content: "Root cause: memory limit too low. Confidence: 0.9"},
	)

	team, err := NewLogTeam(service, registry, contexts, 0, 10)
	require.NoError(t, err)

	reported := make(map[string]int)
	team.SetStatsHook(func(agent string, stats *llm.CallStats) {
		require.NotNil(t, stats)
		reported[agent]++
	})

	result, err := team.Run(context.Background(),
		&agents.Task{IncidentID: "inc-1", Query: "check the logs"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Final)

	// Both pipeline members made one model call each.
	assert.Equal(t, 1, reported[agents.AgentLogExpert])
	assert.Equal(t, 1, reported[agents.AgentAnalysis])
}
