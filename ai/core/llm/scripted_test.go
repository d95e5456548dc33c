package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedServiceReplaysInOrder(t *testing.T) {
	svc := NewScriptedService(
		ScriptedStep{Content: "first"},
		ScriptedStep{Content: "second"},
	)

	got, stats, err := svc.Chat(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, "first", got)

	got, _, err = svc.Chat(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	// Exhausted scripts repeat the last step.
	got, _, err = svc.Chat(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestScriptedServiceStepError(t *testing.T) {
	svc := NewScriptedService(ScriptedStep{Err: assert.AnError})

	_, _, err := svc.Chat(context.Background(), nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestScriptedServiceToolCalls(t *testing.T) {
	svc := NewScriptedService(ScriptedStep{
		ToolCalls: []ToolCall{{ID: "c1", Name: "get_pod_status", Arguments: `{"pod_name":"api-0"}`}},
	})

	resp, _, err := svc.ChatWithTools(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_pod_status", resp.ToolCalls[0].Name)
}

func TestRoutedServiceDecidesPerCall(t *testing.T) {
	svc := NewRoutedService(func(messages []Message, tools []ToolDescriptor) *ScriptedStep {
		if len(messages) > 0 && messages[0].Content == "metrics" {
			return &ScriptedStep{Content: "metric answer"}
		}
		return nil
	})

	got, _, err := svc.Chat(context.Background(), []Message{UserMessage("metrics")})
	require.NoError(t, err)
	assert.Equal(t, "metric answer", got)

	got, _, err = svc.Chat(context.Background(), []Message{UserMessage("other")})
	require.NoError(t, err)
	assert.Equal(t, "No further findings.", got)
}

func TestScriptedServiceHonorsCancellation(t *testing.T) {
	svc := NewScriptedService(ScriptedStep{Content: "never"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := svc.Chat(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
