// Package supervisor owns the hub's long-lived state: the node registry,
// the polling engine, one polling loop per node, and the group
// coordinator. Nodes come and go at runtime; their loops start and stop
// with them.
package supervisor

import (
	"context"
	"log"
	"sync"

	"roomctl/internal/broadcast"
	"roomctl/internal/capability"
	"roomctl/internal/device"
	"roomctl/internal/group"
	"roomctl/internal/model"
	"roomctl/internal/poll"
	"roomctl/internal/registry"
)

// Supervisor wires the polling machinery together and manages the
// lifecycle of per-node loops.
type Supervisor struct {
	client device.Client
	reg    *registry.Registry
	caps   *capability.Tracker
	bus    *broadcast.Broadcaster
	engine *poll.Engine
	coord  *group.Coordinator

	mu    sync.Mutex
	ctx   context.Context
	loops map[string]*runningLoop
	wg    sync.WaitGroup
}

type runningLoop struct {
	loop   *poll.Loop
	cancel context.CancelFunc
}

// New builds a supervisor around a device client and polling config.
func New(client device.Client, cfg poll.Config) *Supervisor {
	reg := registry.New()
	caps := capability.NewTracker()
	bus := broadcast.New()
	engine := poll.NewEngine(client, reg, caps, bus, cfg)

	s := &Supervisor{
		client: client,
		reg:    reg,
		caps:   caps,
		bus:    bus,
		engine: engine,
		loops:  make(map[string]*runningLoop),
	}
	s.coord = group.NewCoordinator(client, reg, s)
	return s
}

func (s *Supervisor) Registry() *registry.Registry        { return s.reg }
func (s *Supervisor) Broadcaster() *broadcast.Broadcaster { return s.bus }
func (s *Supervisor) Coordinator() *group.Coordinator     { return s.coord }
func (s *Supervisor) Engine() *poll.Engine                { return s.engine }

// AddNode registers a node and, once Run has started, spawns its polling
// loop. Adding an already-registered ID is a no-op returning false.
func (s *Supervisor) AddNode(node model.Node) bool {
	if !s.reg.Add(node) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		s.startLoopLocked(node.ID)
	}
	log.Printf("node added id=%s addr=%s", node.ID, node.Address)
	return true
}

// RemoveNode stops the node's loop and drops all of its state. A tick
// still in flight for the node finishes but its result is discarded.
func (s *Supervisor) RemoveNode(nodeID string) {
	s.mu.Lock()
	if rl, ok := s.loops[nodeID]; ok {
		rl.cancel()
		delete(s.loops, nodeID)
	}
	s.mu.Unlock()

	s.reg.Remove(nodeID)
	s.caps.Reset(nodeID)
	s.engine.Forget(nodeID)
	log.Printf("node removed id=%s", nodeID)
}

// ForceTick requests an immediate poll of the node.
func (s *Supervisor) ForceTick(nodeID string) {
	s.mu.Lock()
	rl, ok := s.loops[nodeID]
	s.mu.Unlock()
	if ok {
		rl.loop.ForceTick()
	}
}

// Run starts loops for every registered node and blocks until the
// context ends, then waits for all loops to drain.
func (s *Supervisor) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	for _, id := range s.reg.IDs() {
		if _, ok := s.loops[id]; !ok {
			s.startLoopLocked(id)
		}
	}
	s.mu.Unlock()

	<-ctx.Done()
	s.wg.Wait()
}

func (s *Supervisor) startLoopLocked(nodeID string) {
	loopCtx, cancel := context.WithCancel(s.ctx)
	loop := poll.NewLoop(s.engine, nodeID)
	s.loops[nodeID] = &runningLoop{loop: loop, cancel: cancel}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		loop.Run(loopCtx)
	}()
}
