// Package registry is the arena of known nodes: one explicit map owned by
// the supervisor and passed by handle, keeping O(1) id lookup without
// process-global state. Each entry holds the confirmed snapshot (from the
// last successful poll) and a separate pending hint (from the last issued
// command) so the two are always assertable independently.
package registry

import (
	"sort"
	"sync"

	"roomctl/internal/model"
)

type entry struct {
	mu        sync.Mutex
	confirmed model.Node
	pending   *model.PendingHint
}

// Registry maps node IDs to entries. IDs are immutable once assigned.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Add inserts a node if its ID is not yet present. Returns false when the
// ID already exists; the existing entry is left untouched.
func (r *Registry) Add(n model.Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[n.ID]; ok {
		return false
	}
	r.entries[n.ID] = &entry{confirmed: n.Clone()}
	return true
}

// Remove drops a node. Removing an unknown ID is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Get returns a deep-copied snapshot of the node's confirmed state.
func (r *Registry) Get(id string) (model.Node, bool) {
	e := r.entry(id)
	if e == nil {
		return model.Node{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmed.Clone(), true
}

// SetConfirmed replaces the confirmed snapshot. Called only by the node's
// polling loop. A write for a removed node is silently dropped, which is
// how in-flight tick results are discarded after removal.
func (r *Registry) SetConfirmed(n model.Node) {
	e := r.entry(n.ID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirmed = n.Clone()
}

// Pending returns the optimistic hint, if one is outstanding.
func (r *Registry) Pending(id string) (model.PendingHint, bool) {
	e := r.entry(id)
	if e == nil {
		return model.PendingHint{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return model.PendingHint{}, false
	}
	return *e.pending, true
}

// SetPending records an optimistic hint after a command was issued.
func (r *Registry) SetPending(id string, h model.PendingHint) {
	e := r.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = &h
}

// ClearPending drops the hint; the next successful poll calls this because
// polled state is always authoritative.
func (r *Registry) ClearPending(id string) {
	e := r.entry(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
}

// IDs returns all node IDs, sorted for stable iteration.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns deep-copied snapshots of every node, sorted by ID.
func (r *Registry) List() []model.Node {
	ids := r.IDs()
	out := make([]model.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := r.Get(id); ok {
			out = append(out, n)
		}
	}
	return out
}

func (r *Registry) entry(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}
