package llm

import (
	"context"
	"log/slog"
	"sync"
)

// ScriptedStep is one canned reasoning response.
type ScriptedStep struct {
	Content   string
	ToolCalls []ToolCall
	Err       error
}

// ScriptedService replays a fixed sequence of responses. It backs demo mode
// and the test suites, where deterministic reasoning output is required.
type ScriptedService struct {
	mu      sync.Mutex
	steps   []ScriptedStep
	pos     int
	decider func(messages []Message, tools []ToolDescriptor) *ScriptedStep
}

// NewScriptedService creates a service that replays steps in order.
// When the script is exhausted the last step repeats.
func NewScriptedService(steps ...ScriptedStep) *ScriptedService {
	return &ScriptedService{steps: steps}
}

// NewRoutedService creates a service that picks a response per call via
// decider, falling back to an empty contribution when decider returns nil.
// Demo mode uses this to answer based on which tools are advertised.
func NewRoutedService(decider func(messages []Message, tools []ToolDescriptor) *ScriptedStep) *ScriptedService {
	return &ScriptedService{decider: decider}
}

func (s *ScriptedService) next(messages []Message, tools []ToolDescriptor) ScriptedStep {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.decider != nil {
		if step := s.decider(messages, tools); step != nil {
			return *step
		}
		return ScriptedStep{Content: "No further findings."}
	}

	if len(s.steps) == 0 {
		return ScriptedStep{Content: "No further findings."}
	}
	step := s.steps[s.pos]
	if s.pos < len(s.steps)-1 {
		s.pos++
	}
	return step
}

func (s *ScriptedService) Chat(ctx context.Context, messages []Message) (string, *CallStats, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	step := s.next(messages, nil)
	if step.Err != nil {
		return "", nil, step.Err
	}
	return step.Content, &CallStats{TotalTokens: len(step.Content) / 4}, nil
}

func (s *ScriptedService) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor) (*ChatResponse, *CallStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	step := s.next(messages, tools)
	if step.Err != nil {
		return nil, nil, step.Err
	}
	return &ChatResponse{Content: step.Content, ToolCalls: step.ToolCalls}, &CallStats{TotalTokens: len(step.Content) / 4}, nil
}

func (s *ScriptedService) Warmup(ctx context.Context) {
	slog.Debug("LLM: scripted service warmup (no-op)")
}
