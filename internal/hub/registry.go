// Package hub implements the real-time event routing hub: a connection
// registry of role-tagged peers, a static routing table, and the fan-out path
// that persists every accepted event to the ledger before any delivery.
package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opsbridge/opsbridge/internal/event"
)

// Transport delivers fan-out messages to one connected peer. Implementations
// must not block indefinitely; a buffered channel transport is provided in
// transport.go.
type Transport interface {
	Deliver(data []byte) error
	Close() error
}

// Connection is one registered peer. It is owned by the Registry; the hub
// references connections by id only.
type Connection struct {
	ID         string
	Role       event.Role
	LastSeenAt time.Time

	transport Transport
	failures  atomic.Int32
}

// Registry tracks connected peers under their logical roles with liveness
// timestamps. All operations are safe for concurrent use. It is a plain
// object owned by one Hub instance so independent hubs can coexist in tests
// and in horizontally scaled deployments.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byRole map[event.Role]map[string]*Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byRole: make(map[event.Role]map[string]*Connection),
	}
}

// Add registers a peer under role and returns its connection.
func (r *Registry) Add(role event.Role, t Transport) *Connection {
	c := &Connection{
		ID:         uuid.New().String(),
		Role:       role,
		LastSeenAt: time.Now().UTC(),
		transport:  t,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c.ID] = c
	if r.byRole[role] == nil {
		r.byRole[role] = make(map[string]*Connection)
	}
	r.byRole[role][c.ID] = c
	return c
}

// Remove unregisters a peer and returns it, or nil if unknown. The caller is
// responsible for closing the transport.
func (r *Registry) Remove(id string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	delete(r.conns, id)
	if peers, ok := r.byRole[c.Role]; ok {
		delete(peers, id)
		if len(peers) == 0 {
			delete(r.byRole, c.Role)
		}
	}
	return c
}

// Get returns the connection with the given id, or nil.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// Touch refreshes the liveness timestamp for a connection.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.LastSeenAt = time.Now().UTC()
	}
}

// PeersInRoles snapshots the live connections whose role is in roles,
// excluding the connection with id excludeID. The snapshot lets fan-out sends
// run without holding the registry lock.
func (r *Registry) PeersInRoles(roles []event.Role, excludeID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var peers []*Connection
	for _, role := range roles {
		for id, c := range r.byRole[role] {
			if id == excludeID {
				continue
			}
			peers = append(peers, c)
		}
	}
	return peers
}

// Stale returns connections whose last-seen timestamp is older than timeout.
func (r *Registry) Stale(timeout time.Duration) []*Connection {
	cutoff := time.Now().UTC().Add(-timeout)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []*Connection
	for _, c := range r.conns {
		if c.LastSeenAt.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	return stale
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByRole returns the number of connections registered under role.
func (r *Registry) CountByRole(role event.Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRole[role])
}
