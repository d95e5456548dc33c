// Package orchestrator coordinates an incident-response exchange: it
// classifies the user's message, dispatches hand-off teams, merges their
// findings into one answer and decides when the exchange is over.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/opspilot/opspilot/ai/agents"
	"github.com/opspilot/opspilot/ai/agents/swarm"
	"github.com/opspilot/opspilot/ai/core/llm"
	"github.com/opspilot/opspilot/ai/metrics"
	"github.com/opspilot/opspilot/ai/workflow"
)

// State is the exchange lifecycle phase.
type State string

const (
	StateReceived    State = "received"
	StateClassifying State = "classifying"
	StateDispatching State = "dispatching"
	StateAwaiting    State = "awaiting"
	StateMerging     State = "merging"
	StateTerminated  State = "terminated"
)

// Event types relayed to the streaming adapter.
const (
	EventChatStart    = "chat_start"
	EventAgentMessage = "agent_message"
	EventAgentHandoff = "agent_handoff"
	EventChatComplete = "chat_complete"
	EventError        = "error"
)

// Event is one observable step of an exchange. Seq is assigned on emission
// and is the only ordering clients may rely on.
type Event struct {
	Type         string                 `json:"type"`
	Agent        string                 `json:"agent,omitempty"`
	Message      string                 `json:"message"`
	Seq          int                    `json:"seq"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Participants []string               `json:"agents_participated,omitempty"`
	Failed       bool                   `json:"failed,omitempty"`
}

// EventCallback receives events as the exchange produces them.
type EventCallback func(Event)

// Config tunes exchange behavior.
type Config struct {
	// MaxMessages caps agent messages per exchange.
	MaxMessages int

	// TeamMessageLimit caps contributions inside one team run.
	TeamMessageLimit int

	// ConfidenceThreshold ends the exchange early when any agent reports at
	// or above it.
	ConfidenceThreshold float64

	// ExchangeTimeout bounds one exchange end to end.
	ExchangeTimeout time.Duration

	// ParallelTeams dispatches teams concurrently instead of sequentially.
	ParallelTeams bool

	// MaxParallel bounds concurrent team runs when ParallelTeams is set.
	MaxParallel int64
}

// DefaultConfig returns the exchange defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessages:         20,
		TeamMessageLimit:    10,
		ConfidenceThreshold: 0.9,
		ExchangeTimeout:     3 * time.Minute,
		MaxParallel:         2,
	}
}

// Orchestrator coordinates exchanges over a fixed set of teams.
type Orchestrator struct {
	teams    map[string]*swarm.Team
	order    []string
	report   agents.Specialist
	contexts *workflow.ContextManager
	cfg      Config
	exporter *metrics.PrometheusExporter
}

// New builds an orchestrator over the given teams and report agent.
func New(teams []*swarm.Team, report agents.Specialist, contexts *workflow.ContextManager, cfg Config) *Orchestrator {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultConfig().MaxMessages
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = DefaultConfig().ExchangeTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultConfig().MaxParallel
	}

	byName := make(map[string]*swarm.Team, len(teams))
	order := make([]string, 0, len(teams))
	for _, t := range teams {
		byName[t.Name()] = t
		order = append(order, t.Name())
	}
	return &Orchestrator{
		teams:    byName,
		order:    order,
		report:   report,
		contexts: contexts,
		cfg:      cfg,
	}
}

// SetMetrics wires the Prometheus exporter.
func (o *Orchestrator) SetMetrics(e *metrics.PrometheusExporter) { o.exporter = e }

// ExchangeResult summarizes a finished exchange.
type ExchangeResult struct {
	Final        string
	Participants []string
	Failed       bool
	Messages     int
	Reason       string
}

// exchange carries the mutable state of one running exchange. All emission
// goes through it so sequence numbers stay monotonic even with parallel
// teams.
type exchange struct {
	mu       sync.Mutex
	seq      int
	state    State
	term     TerminationState
	policy   *Policy
	callback EventCallback
	cancel   context.CancelFunc

	finals       []string
	participants []string
	seen         map[string]bool
	stopReason   string
}

func (e *exchange) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// emit assigns the next sequence number and delivers the event. The callback
// runs under the lock so events reach the stream in seq order even with
// parallel teams; callbacks must only hand the event off, never block.
func (e *exchange) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	ev.Seq = e.seq
	if e.callback != nil {
		e.callback(ev)
	}
}

// recordMessage updates termination state for one agent message and cancels
// outstanding work when the policy fires.
func (e *exchange) recordMessage(agent string, confidence float64) {
	e.mu.Lock()
	e.term.MessageCount++
	if confidence > e.term.MaxConfidence {
		e.term.MaxConfidence = confidence
	}
	if !e.seen[agent] {
		e.seen[agent] = true
		e.participants = append(e.participants, agent)
	}
	stop, reason := e.policy.ShouldTerminate(e.term)
	if stop && e.stopReason == "" {
		e.stopReason = reason
	}
	e.mu.Unlock()

	if stop {
		e.cancel()
	}
}

// terminated reports whether the policy has already fired.
func (e *exchange) terminated() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopReason != "" {
		return true, e.stopReason
	}
	stop, reason := e.policy.ShouldTerminate(e.term)
	if stop {
		e.stopReason = reason
	}
	return stop, reason
}

func (e *exchange) recordTeamDone(final string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.term.TeamsDone++
	if final != "" {
		e.finals = append(e.finals, final)
	}
	if err != nil {
		e.term.LastErr = err
	}
}

// HandleExchange runs one exchange: classify, dispatch, merge, terminate.
// Every intermediate message reaches callback before the final one does. A
// failed exchange still produces a best-effort final message.
func (o *Orchestrator) HandleExchange(ctx context.Context, incidentID, message string, history []llm.Message, callback EventCallback) *ExchangeResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ExchangeTimeout)
	defer cancel()

	// Policy firings cancel dispatch only; merging still runs on the
	// exchange context so the final answer can be produced.
	dispatchCtx, dispatchCancel := context.WithCancel(ctx)
	defer dispatchCancel()

	ex := &exchange{
		state:    StateReceived,
		callback: callback,
		cancel:   dispatchCancel,
		seen:     make(map[string]bool),
		term:     TerminationState{StartedAt: start},
		policy: NewPolicy(
			MaxMessage(o.cfg.MaxMessages),
			HighConfidence(o.cfg.ConfidenceThreshold),
			AllTeamsReported(),
			CriticalError(),
			Timeout(o.cfg.ExchangeTimeout),
		),
	}

	slog.Info("orchestrator: exchange received", "incident_id", incidentID)
	ex.emit(Event{Type: EventChatStart, Message: "Starting incident analysis"})

	ex.setState(StateClassifying)
	teamNames := o.selectTeams(message)
	ex.mu.Lock()
	ex.term.TeamsTotal = len(teamNames)
	ex.mu.Unlock()

	task := &agents.Task{IncidentID: incidentID, Query: message, History: history}

	ex.setState(StateDispatching)
	if o.cfg.ParallelTeams && len(teamNames) > 1 {
		o.dispatchParallel(dispatchCtx, ex, teamNames, task)
	} else {
		o.dispatchSequential(dispatchCtx, ex, teamNames, task)
	}

	ex.setState(StateMerging)
	final := o.merge(ctx, ex, incidentID, message, history)

	ex.mu.Lock()
	lastErr := ex.term.LastErr
	participants := append([]string(nil), ex.participants...)
	messages := ex.term.MessageCount
	reason := ex.stopReason
	findings := len(ex.finals)
	ex.mu.Unlock()

	// An exchange that stopped without any team findings failed, whatever
	// stopped it (timeout, cancellation, team error).
	failed := lastErr != nil || findings == 0
	if lastErr != nil {
		ex.emit(Event{Type: EventError, Message: lastErr.Error()})
	}
	ex.emit(Event{
		Type:         EventChatComplete,
		Message:      final,
		Participants: participants,
		Failed:       failed,
	})
	ex.setState(StateTerminated)

	if o.exporter != nil {
		o.exporter.RecordChatRequest("chat", time.Since(start), !failed)
	}
	slog.Info("orchestrator: exchange terminated",
		"incident_id", incidentID,
		"messages", messages,
		"failed", failed,
		"reason", reason,
		"duration_ms", time.Since(start).Milliseconds())

	return &ExchangeResult{
		Final:        final,
		Participants: participants,
		Failed:       failed,
		Messages:     messages,
		Reason:       reason,
	}
}

// selectTeams maps classification output to configured teams, preserving
// classification order.
func (o *Orchestrator) selectTeams(message string) []string {
	var selected []string
	for _, name := range Classify(message) {
		if _, ok := o.teams[name]; ok {
			selected = append(selected, name)
		}
	}
	if len(selected) == 0 {
		// Nothing matched the configured teams, dispatch all of them.
		selected = append(selected, o.order...)
	}
	return selected
}

func (o *Orchestrator) dispatchSequential(ctx context.Context, ex *exchange, teamNames []string, task *agents.Task) {
	for _, name := range teamNames {
		if stop, reason := ex.terminated(); stop {
			slog.Info("orchestrator: stopping dispatch", "reason", reason)
			return
		}
		o.runTeam(ctx, ex, name, task)
	}
}

func (o *Orchestrator) dispatchParallel(ctx context.Context, ex *exchange, teamNames []string, task *agents.Task) {
	sem := semaphore.NewWeighted(o.cfg.MaxParallel)
	var wg sync.WaitGroup

	for _, name := range teamNames {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(team string) {
			defer wg.Done()
			defer sem.Release(1)
			o.runTeam(ctx, ex, team, task)
		}(name)
	}
	wg.Wait()
}

// runTeam executes one team and folds its events into the exchange.
func (o *Orchestrator) runTeam(ctx context.Context, ex *exchange, name string, task *agents.Task) {
	team := o.teams[name]
	result, err := team.Run(ctx, task, func(ev swarm.Event) {
		switch ev.Type {
		case swarm.EventMessage:
			ex.emit(Event{
				Type:    EventAgentMessage,
				Agent:   ev.Agent,
				Message: ev.Message,
				Payload: ev.Payload,
			})
			ex.recordMessage(ev.Agent, ev.Confidence)
		case swarm.EventHandoff:
			ex.emit(Event{
				Type:    EventAgentHandoff,
				Agent:   ev.Agent,
				Message: ev.Message,
			})
			if o.exporter != nil {
				o.exporter.RecordHandoff(ev.Agent, ev.Target)
			}
		}
	})

	// Policy-driven cancellation is an expected stop, not a team failure.
	if err != nil && ctx.Err() != nil {
		if stop, _ := ex.terminated(); stop {
			ex.recordTeamDone(result.Final, nil)
			return
		}
	}
	if err != nil {
		slog.Error("orchestrator: team failed", "team", name, "error", err)
		if o.exporter != nil {
			o.exporter.RecordAgentError(name, errorClass(err))
		}
		ex.recordTeamDone(result.Final, err)
		return
	}
	ex.recordTeamDone(result.Final, nil)
}

// merge produces the final answer: the report agent synthesizes team findings
// against the context snapshot, with deterministic concatenation as the
// fallback when it fails.
func (o *Orchestrator) merge(ctx context.Context, ex *exchange, incidentID, message string, history []llm.Message) string {
	ex.mu.Lock()
	finals := append([]string(nil), ex.finals...)
	ex.mu.Unlock()

	task := &agents.Task{
		IncidentID: incidentID,
		Query: "Synthesize the team findings into a final answer for the user question: " + message +
			"\n\nTeam findings:\n" + strings.Join(finals, "\n---\n"),
		History: history,
	}

	contribution, err := o.report.Contribute(ctx, task, o.contexts.Snapshot(incidentID))
	if err != nil || contribution.Message == "" {
		if err != nil {
			slog.Warn("orchestrator: report agent failed, falling back to concatenation", "error", err)
		}
		if len(finals) == 0 {
			return "The investigation could not produce findings for this question."
		}
		return strings.Join(finals, "\n\n---\n\n")
	}

	ex.recordMessage(agents.AgentReport, contribution.Confidence)
	return contribution.Message
}

// errorClass buckets a team failure for the error counter.
func errorClass(err error) string {
	switch {
	case errors.Is(err, llm.ErrReasoningTimeout):
		return "reasoning_timeout"
	case errors.Is(err, llm.ErrReasoningFailure):
		return "reasoning_failure"
	case errors.Is(err, swarm.ErrInvalidHandoff):
		return "invalid_handoff"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
