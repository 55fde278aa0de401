// Package broadcast fans out "this node's state changed" signals. Delivery
// is synchronous and carries no payload; listeners re-read current state
// themselves. There is no buffering or replay — a listener subscribed after
// a publish misses it.
package broadcast

import (
	"sync"

	"github.com/google/uuid"
)

// Wildcard subscribes a listener to every node's signals.
const Wildcard = "*"

// Listener receives the ID of the node whose state changed. Listeners are
// trusted internal code and must not block; a panic propagates to the
// publisher.
type Listener func(nodeID string)

// Broadcaster is safe for concurrent use; the subscriber map is the one
// structure in this system touched from multiple goroutines.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[string]Listener // nodeID -> token -> listener
	tokens map[string]string              // token -> nodeID
}

func New() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]map[string]Listener),
		tokens: make(map[string]string),
	}
}

// Subscribe registers a listener for one node (or Wildcard for all) and
// returns a token for Unsubscribe.
func (b *Broadcaster) Subscribe(nodeID string, fn Listener) string {
	token := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[nodeID]
	if m == nil {
		m = make(map[string]Listener)
		b.subs[nodeID] = m
	}
	m[token] = fn
	b.tokens[token] = nodeID
	return token
}

// Unsubscribe removes a listener. Unknown tokens are a no-op.
func (b *Broadcaster) Unsubscribe(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	nodeID, ok := b.tokens[token]
	if !ok {
		return
	}
	delete(b.tokens, token)
	if m := b.subs[nodeID]; m != nil {
		delete(m, token)
		if len(m) == 0 {
			delete(b.subs, nodeID)
		}
	}
}

// Publish invokes every listener currently subscribed for the node, plus
// wildcard listeners. Listeners run synchronously on the caller's
// goroutine, outside the lock so they may subscribe or unsubscribe.
func (b *Broadcaster) Publish(nodeID string) {
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.subs[nodeID])+len(b.subs[Wildcard]))
	for _, fn := range b.subs[nodeID] {
		listeners = append(listeners, fn)
	}
	for _, fn := range b.subs[Wildcard] {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(nodeID)
	}
}
