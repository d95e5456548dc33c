package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/opspilot/opspilot/ai/core/llm"
)

// History window sizes. Sessions keep the last maxHistoryMessages, the
// reasoning prompts get the most recent historyPromptWindow of those.
const (
	maxHistoryMessages  = 20
	historyPromptWindow = 6
)

// Session is one chat session. A session survives WebSocket reconnects and
// keeps its incident context and conversation history alive.
type Session struct {
	// ID identifies the session for reconnects.
	ID string

	// IncidentID namespaces the workflow context of this session.
	IncidentID string

	mu         sync.Mutex
	history    []llm.Message
	busy       bool
	createdAt  time.Time
	lastActive time.Time
}

func newSession() *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		IncidentID: "inc-" + shortuuid.New(),
		createdAt:  now,
		lastActive: now,
	}
}

// TryBegin marks the session busy for one exchange. It returns false while
// another exchange is running, one exchange at a time per session.
func (s *Session) TryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	s.lastActive = time.Now()
	return true
}

// End releases the session after an exchange.
func (s *Session) End() {
	s.mu.Lock()
	s.busy = false
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// History returns the prompt window of recent conversation turns.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := len(s.history) - historyPromptWindow
	if start < 0 {
		start = 0
	}
	out := make([]llm.Message, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// Append records one completed turn and trims the rolling window.
func (s *Session) Append(userMessage, finalAnswer string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history,
		llm.UserMessage(userMessage),
		llm.AssistantMessage(finalAnswer))
	if len(s.history) > maxHistoryMessages {
		s.history = s.history[len(s.history)-maxHistoryMessages:]
	}
	s.lastActive = time.Now()
}

// SessionManager tracks live sessions by id.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// GetOrCreate reattaches to a known session or starts a fresh one. The
// second return value reports whether an existing session was found.
func (m *SessionManager) GetOrCreate(id string) (*Session, bool) {
	if id != "" {
		m.mu.RLock()
		sess, ok := m.sessions[id]
		m.mu.RUnlock()
		if ok {
			return sess, true
		}
	}

	sess := newSession()
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess, false
}

// Count returns how many sessions are live.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Prune drops sessions idle for longer than maxIdle and returns their
// incident ids so callers can release the matching contexts.
func (m *SessionManager) Prune(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	var dropped []string
	for id, sess := range m.sessions {
		sess.mu.Lock()
		idle := !sess.busy && sess.lastActive.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			dropped = append(dropped, sess.IncidentID)
			delete(m.sessions, id)
		}
	}
	return dropped
}
