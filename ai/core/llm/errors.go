package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrReasoningTimeout indicates the reasoning backend did not respond within
// the configured bound. Callers retry a small fixed number of times before
// escalating.
var ErrReasoningTimeout = errors.New("reasoning timeout")

// ErrReasoningFailure indicates the reasoning backend responded with a
// non-timeout failure (API error, empty response).
var ErrReasoningFailure = errors.New("reasoning failure")

// classifyError folds transport errors into the reasoning error taxonomy so
// callers can branch on errors.Is without knowing the provider.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, ErrReasoningTimeout)
	}
	return fmt.Errorf("%v: %w", err, ErrReasoningFailure)
}
