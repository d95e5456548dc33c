package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionHistoryWindow(t *testing.T) {
	sess := newSession()

	for i := 0; i < 15; i++ {
		sess.Append(fmt.Sprintf("question %d", i), fmt.Sprintf("answer %d", i))
	}

	// The prompt window holds only the most recent messages.
	history := sess.History()
	require.Len(t, history, historyPromptWindow)
	assert.Equal(t, "answer 14", history[len(history)-1].Content)
	assert.Equal(t, "user", history[0].Role)

	// The rolling buffer itself is capped too.
	sess.mu.Lock()
	stored := len(sess.history)
	sess.mu.Unlock()
	assert.Equal(t, maxHistoryMessages, stored)
}

func TestSessionSingleExchangeAtATime(t *testing.T) {
	sess := newSession()

	require.True(t, sess.TryBegin())
	assert.False(t, sess.TryBegin(), "second exchange must be rejected while one runs")

	sess.End()
	assert.True(t, sess.TryBegin())
}

func TestSessionManagerReattach(t *testing.T) {
	m := NewSessionManager()

	first, resumed := m.GetOrCreate("")
	assert.False(t, resumed)
	assert.NotEmpty(t, first.ID)
	assert.NotEmpty(t, first.IncidentID)

	// Reconnecting with the session id reattaches to the same session and
	// its incident context.
	again, resumed := m.GetOrCreate(first.ID)
	assert.True(t, resumed)
	assert.Same(t, first, again)

	// An unknown id starts a fresh session.
	fresh, resumed := m.GetOrCreate("not-a-session")
	assert.False(t, resumed)
	assert.NotEqual(t, first.ID, fresh.ID)

	assert.Equal(t, 2, m.Count())
}

func TestSessionManagerPrune(t *testing.T) {
	m := NewSessionManager()
	idle, _ := m.GetOrCreate("")
	busy, _ := m.GetOrCreate("")
	require.True(t, busy.TryBegin())

	// Make both look old.
	old := time.Now().Add(-time.Hour)
	idle.mu.Lock()
	idle.lastActive = old
	idle.mu.Unlock()
	busy.mu.Lock()
	busy.lastActive = old
	busy.mu.Unlock()

	dropped := m.Prune(30 * time.Minute)
	require.Len(t, dropped, 1, "busy sessions must survive pruning")
	assert.Equal(t, idle.IncidentID, dropped[0])
	assert.Equal(t, 1, m.Count())
}
