package poll

import (
	"context"
	"time"
)

// Loop schedules ticks for one node. The loop goroutine is the single
// owner of the node's plan; a tick still in flight when its timer would
// fire again is never re-triggered because the next wait only starts
// after Tick returns.
type Loop struct {
	engine *Engine
	nodeID string
	force  chan struct{}
}

func NewLoop(engine *Engine, nodeID string) *Loop {
	return &Loop{
		engine: engine,
		nodeID: nodeID,
		force:  make(chan struct{}, 1),
	}
}

// ForceTick requests an out-of-schedule tick. Multiple requests while a
// tick is pending coalesce into one.
func (l *Loop) ForceTick() {
	select {
	case l.force <- struct{}{}:
	default:
	}
}

// Run ticks immediately, then waits out the node's current interval (or a
// forced tick) between cycles until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.engine.Tick(ctx, l.nodeID)

	for {
		timer := time.NewTimer(l.engine.Interval(l.nodeID))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-l.force:
			timer.Stop()
		}
		l.engine.Tick(ctx, l.nodeID)
	}
}
