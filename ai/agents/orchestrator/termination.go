package orchestrator

import (
	"fmt"
	"time"
)

// TerminationState is the snapshot of exchange progress that termination
// predicates evaluate against.
type TerminationState struct {
	// MessageCount is how many agent messages the exchange emitted so far.
	MessageCount int

	// MaxConfidence is the highest confidence any agent reported.
	MaxConfidence float64

	// TeamsDone is how many dispatched teams have finished.
	TeamsDone int

	// TeamsTotal is how many teams the exchange dispatched.
	TeamsTotal int

	// LastErr is the most recent agent or team error, nil when healthy.
	LastErr error

	// StartedAt is when the exchange began.
	StartedAt time.Time
}

// Condition decides whether an exchange should stop. Conditions are pure:
// same state, same verdict. The reason is returned for logging.
type Condition func(s TerminationState) (stop bool, reason string)

// MaxMessage stops the exchange once limit messages were emitted.
func MaxMessage(limit int) Condition {
	return func(s TerminationState) (bool, string) {
		if s.MessageCount >= limit {
			return true, fmt.Sprintf("message limit %d reached", limit)
		}
		return false, ""
	}
}

// HighConfidence stops as soon as any agent reports confidence at or above
// threshold.
func HighConfidence(threshold float64) Condition {
	return func(s TerminationState) (bool, string) {
		if s.MaxConfidence >= threshold {
			return true, fmt.Sprintf("confidence %.2f meets threshold %.2f", s.MaxConfidence, threshold)
		}
		return false, ""
	}
}

// AllTeamsReported stops once every dispatched team has finished.
func AllTeamsReported() Condition {
	return func(s TerminationState) (bool, string) {
		if s.TeamsTotal > 0 && s.TeamsDone >= s.TeamsTotal {
			return true, fmt.Sprintf("all %d teams reported", s.TeamsTotal)
		}
		return false, ""
	}
}

// CriticalError stops the exchange on any recorded error.
func CriticalError() Condition {
	return func(s TerminationState) (bool, string) {
		if s.LastErr != nil {
			return true, fmt.Sprintf("critical error: %s", s.LastErr)
		}
		return false, ""
	}
}

// Timeout stops the exchange once it has run longer than d.
func Timeout(d time.Duration) Condition {
	return func(s TerminationState) (bool, string) {
		if elapsed := time.Since(s.StartedAt); elapsed >= d {
			return true, fmt.Sprintf("exchange timeout after %s", elapsed.Round(time.Millisecond))
		}
		return false, ""
	}
}

// Policy combines conditions with OR semantics: the first one that fires
// terminates the exchange.
type Policy struct {
	conditions []Condition
}

// NewPolicy builds a policy over the given conditions.
func NewPolicy(conditions ...Condition) *Policy {
	return &Policy{conditions: conditions}
}

// ShouldTerminate evaluates all conditions against the state and returns the
// first firing condition's reason.
func (p *Policy) ShouldTerminate(s TerminationState) (bool, string) {
	for _, cond := range p.conditions {
		if stop, reason := cond(s); stop {
			return true, reason
		}
	}
	return false, ""
}
