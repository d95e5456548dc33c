// Package swarm runs hand-off teams: small groups of specialists that pass
// control between each other over explicit wiring until one of them answers
// or the message ceiling is hit.
package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/opspilot/opspilot/ai/agents"
	"github.com/opspilot/opspilot/ai/core/llm"
	"github.com/opspilot/opspilot/ai/tools"
	"github.com/opspilot/opspilot/ai/workflow"
)

var (
	// ErrBadWiring means the team configuration references unknown agents.
	// It is a startup error, never a runtime one.
	ErrBadWiring = errors.New("invalid team wiring")

	// ErrInvalidHandoff means an agent requested a transfer its wiring does
	// not permit. The team run fails fast.
	ErrInvalidHandoff = errors.New("hand-off not permitted by wiring")
)

// Team size limits. Below two there is nothing to hand off to, above four the
// runs stop converging.
const (
	minTeamSize = 2
	maxTeamSize = 4
)

// Event types emitted during a team run.
const (
	EventMessage = "message"
	EventHandoff = "handoff"
)

// Event is one observable step of a team run.
type Event struct {
	Type       string
	Agent      string
	Target     string
	Message    string
	Payload    map[string]interface{}
	Confidence float64
}

// EventFunc receives events as the run produces them.
type EventFunc func(Event)

// Config describes a team before validation.
type Config struct {
	// Name identifies the team in logs and reports.
	Name string

	// Members are the team's specialists, two to four of them.
	Members []agents.Specialist

	// Wiring maps each agent to the agents it may transfer to.
	Wiring map[string][]string

	// Entry is the agent that receives the task first.
	Entry string

	// MessageCeiling caps contributions per run.
	MessageCeiling int
}

// Team is a validated hand-off team.
type Team struct {
	name     string
	members  map[string]agents.Specialist
	wiring   map[string]map[string]bool
	entry    string
	ceiling  int
	contexts *workflow.ContextManager
}

// New validates the configuration and builds the team. All wiring mistakes
// are caught here so they fail at startup, not mid-incident.
func New(cfg Config, contexts *workflow.ContextManager) (*Team, error) {
	if len(cfg.Members) < minTeamSize || len(cfg.Members) > maxTeamSize {
		return nil, errors.Wrapf(ErrBadWiring, "team %s has %d members, want %d-%d",
			cfg.Name, len(cfg.Members), minTeamSize, maxTeamSize)
	}

	members := make(map[string]agents.Specialist, len(cfg.Members))
	for _, m := range cfg.Members {
		if _, dup := members[m.Name()]; dup {
			return nil, errors.Wrapf(ErrBadWiring, "team %s has duplicate member %s", cfg.Name, m.Name())
		}
		members[m.Name()] = m
	}

	if _, ok := members[cfg.Entry]; !ok {
		return nil, errors.Wrapf(ErrBadWiring, "team %s entry agent %s is not a member", cfg.Name, cfg.Entry)
	}

	wiring := make(map[string]map[string]bool, len(cfg.Wiring))
	for from, targets := range cfg.Wiring {
		if _, ok := members[from]; !ok {
			return nil, errors.Wrapf(ErrBadWiring, "team %s wiring source %s is not a member", cfg.Name, from)
		}
		wiring[from] = make(map[string]bool, len(targets))
		for _, to := range targets {
			if _, ok := members[to]; !ok {
				return nil, errors.Wrapf(ErrBadWiring, "team %s wiring target %s is not a member", cfg.Name, to)
			}
			if to == from {
				return nil, errors.Wrapf(ErrBadWiring, "team %s agent %s wired to itself", cfg.Name, from)
			}
			wiring[from][to] = true
		}
	}

	ceiling := cfg.MessageCeiling
	if ceiling <= 0 {
		ceiling = 10
	}

	return &Team{
		name:     cfg.Name,
		members:  members,
		wiring:   wiring,
		entry:    cfg.Entry,
		ceiling:  ceiling,
		contexts: contexts,
	}, nil
}

// Name returns the team's identifier.
func (t *Team) Name() string { return t.name }

// statsReporter is implemented by members that expose per-call model stats.
type statsReporter interface {
	SetStatsHook(func(*llm.CallStats))
}

// SetStatsHook forwards per-call model statistics from every member that
// reports them, tagged with the member's name. Wired to the metrics exporter.
func (t *Team) SetStatsHook(fn func(agent string, stats *llm.CallStats)) {
	for name, member := range t.members {
		reporter, ok := member.(statsReporter)
		if !ok {
			continue
		}
		agent := name
		reporter.SetStatsHook(func(stats *llm.CallStats) { fn(agent, stats) })
	}
}

// Result summarizes a completed team run.
type Result struct {
	// Final is the last substantive message of the run.
	Final string

	// MessageCount is how many contributions the run produced.
	MessageCount int

	// MaxConfidence is the highest confidence any member reported.
	MaxConfidence float64

	// CeilingHit is true when the run stopped at the message ceiling rather
	// than by an agent answering.
	CeilingHit bool

	// Participants lists the agents that contributed, in order of first
	// contribution.
	Participants []string
}

// Run drives the hand-off loop: the entry agent contributes, transfers follow
// the wiring, and the run ends when an agent answers without a hand-off or
// the ceiling is reached. Each contribution sees a fresh context snapshot.
func (t *Team) Run(ctx context.Context, task *agents.Task, emit EventFunc) (*Result, error) {
	result := &Result{}
	seen := make(map[string]bool)
	current := t.entry
	start := time.Now()

	slog.Info("swarm: team run starting",
		"team", t.name, "incident_id", task.IncidentID, "entry", t.entry)

	for result.MessageCount < t.ceiling {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		agent := t.members[current]
		snapshot := t.contexts.Snapshot(task.IncidentID)
		contribution, err := agent.Contribute(ctx, task, snapshot)
		if err != nil {
			slog.Error("swarm: agent failed",
				"team", t.name, "agent", current, "error", err)
			return result, fmt.Errorf("agent %s: %w", current, err)
		}

		result.MessageCount++
		if !seen[current] {
			seen[current] = true
			result.Participants = append(result.Participants, current)
		}
		if contribution.Message != "" {
			result.Final = contribution.Message
		}
		if contribution.Confidence > result.MaxConfidence {
			result.MaxConfidence = contribution.Confidence
		}

		if emit != nil {
			emit(Event{
				Type:       EventMessage,
				Agent:      current,
				Message:    contribution.Message,
				Payload:    contribution.Payload,
				Confidence: contribution.Confidence,
			})
		}

		if contribution.Handoff == nil {
			slog.Info("swarm: team run completed",
				"team", t.name,
				"incident_id", task.IncidentID,
				"messages", result.MessageCount,
				"duration_ms", time.Since(start).Milliseconds())
			return result, nil
		}

		target := contribution.Handoff.Target
		if !t.wiring[current][target] {
			return result, errors.Wrapf(ErrInvalidHandoff, "%s -> %s in team %s", current, target, t.name)
		}

		if emit != nil {
			emit(Event{
				Type:    EventHandoff,
				Agent:   current,
				Target:  target,
				Message: fmt.Sprintf("%s -> %s: %s", current, target, contribution.Handoff.Reason),
			})
		}
		slog.Info("swarm: hand-off",
			"team", t.name, "from", current, "to", target)
		current = target
	}

	result.CeilingHit = true
	slog.Warn("swarm: team run hit message ceiling",
		"team", t.name, "incident_id", task.IncidentID, "ceiling", t.ceiling)
	return result, nil
}

// NewMetricTeam builds the metric analysis team: the metric expert and log
// expert wired bidirectionally, with the analysis agent as the terminal
// member. Entry is the metric expert.
func NewMetricTeam(service llm.Service, registry *tools.Registry, contexts *workflow.ContextManager, retries, ceiling int) (*Team, error) {
	return New(Config{
		Name: "metric-team",
		Members: []agents.Specialist{
			agents.NewMetricExpert(service, registry, contexts, retries,
				agents.AgentLogExpert, agents.AgentAnalysis),
			agents.NewLogExpert(service, registry, contexts, retries,
				agents.AgentMetricExpert, agents.AgentAnalysis),
			agents.NewAnalysisAgent(service, registry, contexts, retries),
		},
		Wiring: map[string][]string{
			agents.AgentMetricExpert: {agents.AgentLogExpert, agents.AgentAnalysis},
			agents.AgentLogExpert:    {agents.AgentMetricExpert, agents.AgentAnalysis},
		},
		Entry:          agents.AgentMetricExpert,
		MessageCeiling: ceiling,
	}, contexts)
}

// NewLogTeam builds the log analysis team as a strict pipeline: log expert
// into analysis agent, no way back.
func NewLogTeam(service llm.Service, registry *tools.Registry, contexts *workflow.ContextManager, retries, ceiling int) (*Team, error) {
	return New(Config{
		Name: "log-team",
		Members: []agents.Specialist{
			agents.NewLogExpert(service, registry, contexts, retries, agents.AgentAnalysis),
			agents.NewAnalysisAgent(service, registry, contexts, retries),
		},
		Wiring: map[string][]string{
			agents.AgentLogExpert: {agents.AgentAnalysis},
		},
		Entry:          agents.AgentLogExpert,
		MessageCeiling: ceiling,
	}, contexts)
}
