// Package workflow provides the shared evidence store that specialist agents
// publish their findings to during an incident investigation.
package workflow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrOwnershipConflict is returned when an agent publishes to a key that a
// different agent published first. Keys are single-writer for the lifetime of
// an incident.
var ErrOwnershipConflict = errors.New("context key owned by another agent")

// Entry is one published piece of evidence.
type Entry struct {
	Key       string
	Value     interface{}
	Owner     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// incidentContext holds all evidence for one incident.
type incidentContext struct {
	incidentID string
	namespace  string
	createdAt  time.Time
	updatedAt  time.Time
	entries    map[string]*Entry
}

// Snapshot is a frozen, read-only view of an incident's context, safe to hand
// to an agent while others keep publishing.
type Snapshot struct {
	IncidentID string
	Namespace  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Entries    map[string]Entry
}

// Get returns the entry value for a key, if present.
func (s *Snapshot) Get(key string) (interface{}, bool) {
	e, ok := s.Entries[key]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Keys returns the published keys, in no particular order.
func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Entries))
	for k := range s.Entries {
		keys = append(keys, k)
	}
	return keys
}

// ContextManager stores per-incident evidence contexts. Contexts survive
// across exchanges within one session so follow-up questions can build on
// earlier findings.
type ContextManager struct {
	mu        sync.RWMutex
	incidents map[string]*incidentContext
}

func NewContextManager() *ContextManager {
	return &ContextManager{incidents: make(map[string]*incidentContext)}
}

// Publish writes evidence under an owned key. The first publisher of a key
// owns it for the incident; a publish by anyone else fails with
// ErrOwnershipConflict and leaves the stored value untouched. Same-owner
// republish overwrites.
func (m *ContextManager) Publish(incidentID, key string, value interface{}, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[incidentID]
	if !ok {
		now := time.Now()
		inc = &incidentContext{
			incidentID: incidentID,
			createdAt:  now,
			entries:    make(map[string]*Entry),
		}
		m.incidents[incidentID] = inc
	}

	now := time.Now()
	if existing, ok := inc.entries[key]; ok {
		if existing.Owner != owner {
			return errors.Wrapf(ErrOwnershipConflict, "key %s owned by %s, publish attempted by %s",
				key, existing.Owner, owner)
		}
		existing.Value = value
		existing.UpdatedAt = now
	} else {
		inc.entries[key] = &Entry{
			Key:       key,
			Value:     value,
			Owner:     owner,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	inc.updatedAt = now

	slog.Info("workflow: published context entry",
		"incident_id", incidentID, "key", key, "owner", owner)
	return nil
}

// SetNamespace records the Kubernetes namespace under investigation.
func (m *ContextManager) SetNamespace(incidentID, namespace string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inc, ok := m.incidents[incidentID]; ok {
		inc.namespace = namespace
	}
}

// Get returns the value published under key for the incident.
func (m *ContextManager) Get(incidentID, key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inc, ok := m.incidents[incidentID]
	if !ok {
		return nil, false
	}
	e, ok := inc.entries[key]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Snapshot returns a frozen copy of the incident's context. Publishing after
// the snapshot was taken does not affect it. An unknown incident yields an
// empty snapshot, never an error.
func (m *ContextManager) Snapshot(incidentID string) *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Snapshot{
		IncidentID: incidentID,
		Entries:    make(map[string]Entry),
	}
	inc, ok := m.incidents[incidentID]
	if !ok {
		return snap
	}

	snap.Namespace = inc.namespace
	snap.CreatedAt = inc.createdAt
	snap.UpdatedAt = inc.updatedAt
	for k, e := range inc.entries {
		snap.Entries[k] = *e
	}
	return snap
}

// Drop removes an incident's context entirely, used when a session ends.
func (m *ContextManager) Drop(incidentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.incidents, incidentID)
}

// Prune removes incident contexts untouched for longer than maxAge and
// returns how many were dropped.
func (m *ContextManager) Prune(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	dropped := 0
	for id, inc := range m.incidents {
		if inc.updatedAt.Before(cutoff) {
			delete(m.incidents, id)
			dropped++
		}
	}
	if dropped > 0 {
		slog.Info("workflow: pruned stale incident contexts", "count", dropped)
	}
	return dropped
}
