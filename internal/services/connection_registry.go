package services

import (
	"sync"
	"time"

	"medisos/internal/metrics"
	"medisos/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConnectionHandle is a live connection the dispatcher can push events to.
// Implementations must be safe for concurrent use.
type ConnectionHandle interface {
	ID() string
	Push(event string, payload interface{}) error
}

type ConnectionEntry struct {
	IdentityID  primitive.ObjectID
	Role        models.Role
	Handle      ConnectionHandle
	ConnectedAt time.Time
}

// ConnectionRegistry keeps at most one live connection per identity. A newer
// Connect for the same identity replaces the older handle, which then stays
// open but is no longer reachable through the registry.
type ConnectionRegistry struct {
	mu         sync.RWMutex
	entries    map[primitive.ObjectID]*ConnectionEntry
	byHandle   map[string]primitive.ObjectID
	roleCounts map[models.Role]int
	metrics    *metrics.Metrics
}

func NewConnectionRegistry(m *metrics.Metrics) *ConnectionRegistry {
	return &ConnectionRegistry{
		entries:    make(map[primitive.ObjectID]*ConnectionEntry),
		byHandle:   make(map[string]primitive.ObjectID),
		roleCounts: make(map[models.Role]int),
		metrics:    m,
	}
}

// Connect registers handle for identityID and returns the entry it evicted,
// if any.
func (r *ConnectionRegistry) Connect(identityID primitive.ObjectID, role models.Role, handle ConnectionHandle) *ConnectionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.entries[identityID]
	if previous != nil {
		delete(r.byHandle, previous.Handle.ID())
		r.adjustRole(previous.Role, -1)
	}

	r.entries[identityID] = &ConnectionEntry{
		IdentityID:  identityID,
		Role:        role,
		Handle:      handle,
		ConnectedAt: time.Now(),
	}
	r.byHandle[handle.ID()] = identityID
	r.adjustRole(role, 1)

	return previous
}

// Disconnect removes the entry owned by handle. It reports false when the
// handle was already replaced or never registered.
func (r *ConnectionRegistry) Disconnect(handle ConnectionHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	identityID, ok := r.byHandle[handle.ID()]
	if !ok {
		return false
	}
	delete(r.byHandle, handle.ID())

	entry := r.entries[identityID]
	if entry == nil || entry.Handle.ID() != handle.ID() {
		return false
	}
	delete(r.entries, identityID)
	r.adjustRole(entry.Role, -1)

	return true
}

func (r *ConnectionRegistry) Lookup(identityID primitive.ObjectID) (ConnectionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[identityID]
	if !ok {
		return ConnectionEntry{}, false
	}
	return *entry, true
}

// IsReachable reports whether identityID has a live connection with role.
func (r *ConnectionRegistry) IsReachable(identityID primitive.ObjectID, role models.Role) bool {
	entry, ok := r.Lookup(identityID)
	return ok && entry.Role == role
}

func (r *ConnectionRegistry) Count(role models.Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roleCounts[role]
}

func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// adjustRole must be called with mu held.
func (r *ConnectionRegistry) adjustRole(role models.Role, delta int) {
	r.roleCounts[role] += delta
	r.metrics.SetActiveConnections(string(role), r.roleCounts[role])
}
