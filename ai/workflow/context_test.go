package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndGet(t *testing.T) {
	m := NewContextManager()

	err := m.Publish("inc-1", "metrics.memory", map[string]interface{}{"oom_killed": true}, "metric-expert")
	require.NoError(t, err)

	val, ok := m.Get("inc-1", "metrics.memory")
	require.True(t, ok)
	data := val.(map[string]interface{})
	assert.Equal(t, true, data["oom_killed"])

	_, ok = m.Get("inc-1", "metrics.cpu")
	assert.False(t, ok)

	_, ok = m.Get("inc-2", "metrics.memory")
	assert.False(t, ok)
}

func TestSameOwnerRepublishOverwrites(t *testing.T) {
	m := NewContextManager()

	require.NoError(t, m.Publish("inc-1", "logs.errors", "first", "log-expert"))
	require.NoError(t, m.Publish("inc-1", "logs.errors", "second", "log-expert"))

	val, ok := m.Get("inc-1", "logs.errors")
	require.True(t, ok)
	assert.Equal(t, "second", val)
}

func TestOwnershipConflict(t *testing.T) {
	m := NewContextManager()

	require.NoError(t, m.Publish("inc-1", "metrics.memory", "original", "metric-expert"))

	err := m.Publish("inc-1", "metrics.memory", "hijack", "log-expert")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOwnershipConflict)

	// The stored value must be untouched.
	val, ok := m.Get("inc-1", "metrics.memory")
	require.True(t, ok)
	assert.Equal(t, "original", val)
}

func TestOwnershipScopedToIncident(t *testing.T) {
	m := NewContextManager()

	require.NoError(t, m.Publish("inc-1", "analysis.root_cause", "a", "analysis-agent"))

	// A different incident is a fresh namespace, so any owner may claim the key.
	require.NoError(t, m.Publish("inc-2", "analysis.root_cause", "b", "log-expert"))
}

func TestSnapshotIsolation(t *testing.T) {
	m := NewContextManager()
	require.NoError(t, m.Publish("inc-1", "metrics.memory", "before", "metric-expert"))
	m.SetNamespace("inc-1", "payments")

	snap := m.Snapshot("inc-1")
	require.NoError(t, m.Publish("inc-1", "metrics.memory", "after", "metric-expert"))
	require.NoError(t, m.Publish("inc-1", "logs.errors", "new", "log-expert"))

	val, ok := snap.Get("metrics.memory")
	require.True(t, ok)
	assert.Equal(t, "before", val)

	_, ok = snap.Get("logs.errors")
	assert.False(t, ok)

	assert.Equal(t, "payments", snap.Namespace)
	assert.Equal(t, "inc-1", snap.IncidentID)
	assert.ElementsMatch(t, []string{"metrics.memory"}, snap.Keys())
}

func TestSnapshotUnknownIncident(t *testing.T) {
	m := NewContextManager()

	snap := m.Snapshot("no-such-incident")
	require.NotNil(t, snap)
	assert.Empty(t, snap.Entries)
}

func TestContextSurvivesAcrossExchanges(t *testing.T) {
	m := NewContextManager()

	// First exchange publishes evidence.
	require.NoError(t, m.Publish("inc-1", "metrics.memory", "oom at 512MB", "metric-expert"))

	// Second exchange in the same session sees it.
	snap := m.Snapshot("inc-1")
	val, ok := snap.Get("metrics.memory")
	require.True(t, ok)
	assert.Equal(t, "oom at 512MB", val)
}

func TestDropAndPrune(t *testing.T) {
	m := NewContextManager()
	require.NoError(t, m.Publish("inc-1", "metrics.memory", "x", "metric-expert"))
	require.NoError(t, m.Publish("inc-2", "metrics.memory", "y", "metric-expert"))

	m.Drop("inc-1")
	_, ok := m.Get("inc-1", "metrics.memory")
	assert.False(t, ok)

	// inc-2 was just touched, a generous cutoff must not remove it.
	assert.Equal(t, 0, m.Prune(time.Hour))

	// A zero cutoff removes everything updated before now.
	assert.Equal(t, 1, m.Prune(-time.Second))
	_, ok = m.Get("inc-2", "metrics.memory")
	assert.False(t, ok)
}
