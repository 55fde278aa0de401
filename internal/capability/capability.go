// Package capability tracks which optional speaker endpoints are known to
// work. Support is a tri-state so "never tried" stays distinguishable from
// "tried and failed"; a recorded failure is sticky for the node's session.
package capability

import (
	"sync"

	"roomctl/internal/device"
)

// State is the probe status of one (node, endpoint) pair.
type State uint8

const (
	Unknown State = iota
	Supported
	Unsupported
)

func (s State) String() string {
	switch s {
	case Supported:
		return "supported"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

type key struct {
	nodeID string
	kind   device.SecondaryKind
}

// Tracker is pure bookkeeping with no I/O. The zero map state means every
// capability starts Unknown.
type Tracker struct {
	mu     sync.Mutex
	states map[key]State
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[key]State)}
}

// ShouldAttempt reports whether the endpoint may be called. Once a failure
// is recorded this returns false until an explicit Reset.
func (t *Tracker) ShouldAttempt(nodeID string, kind device.SecondaryKind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[key{nodeID, kind}] != Unsupported
}

// State returns the current probe status for the pair.
func (t *Tracker) State(nodeID string, kind device.SecondaryKind) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[key{nodeID, kind}]
}

// Record stores a probe outcome. A later success never overrides a
// recorded failure; unsupported is final for the node's lifetime.
func (t *Tracker) Record(nodeID string, kind device.SecondaryKind, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{nodeID, kind}
	if t.states[k] == Unsupported {
		return
	}
	if ok {
		t.states[k] = Supported
	} else {
		t.states[k] = Unsupported
	}
}

// Reset drops all recorded states for a node. Called only on node
// reconfiguration or removal, never from the polling loop.
func (t *Tracker) Reset(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.states {
		if k.nodeID == nodeID {
			delete(t.states, k)
		}
	}
}
