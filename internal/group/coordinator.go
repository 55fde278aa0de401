// Package group executes the join/leave/volume protocol against speaker
// groups. Group formation is not transactional at the protocol level, so
// operations report structured per-candidate results instead of an
// all-or-nothing verdict. Writes here are optimistic hints; the next poll
// of each affected node is always the authority.
package group

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"roomctl/internal/device"
	"roomctl/internal/model"
	"roomctl/internal/registry"
	"roomctl/internal/role"
)

var (
	// ErrUnknownNode marks an ID with no registry entry.
	ErrUnknownNode = errors.New("unknown node")
	// ErrNotGroupLead marks a group operation aimed at a node that does
	// not lead a group.
	ErrNotGroupLead = errors.New("node does not lead a group")
)

// ForceTicker triggers an immediate out-of-schedule poll so topology
// converges without waiting for the next scheduled tick.
type ForceTicker interface {
	ForceTick(nodeID string)
}

// MemberResult is the outcome for one candidate of a group operation.
type MemberResult struct {
	NodeID string
	Err    error
}

func (m MemberResult) OK() bool { return m.Err == nil }

// JoinResult reports per-candidate outcomes of a join.
type JoinResult struct {
	MasterID string
	Results  []MemberResult
}

// Succeeded returns the IDs whose join command was accepted.
func (r JoinResult) Succeeded() []string {
	var out []string
	for _, m := range r.Results {
		if m.OK() {
			out = append(out, m.NodeID)
		}
	}
	return out
}

// Failed returns the IDs whose join command failed.
func (r JoinResult) Failed() []string {
	var out []string
	for _, m := range r.Results {
		if !m.OK() {
			out = append(out, m.NodeID)
		}
	}
	return out
}

// VolumeTarget is the computed outcome for one node of a group volume
// change.
type VolumeTarget struct {
	NodeID string
	Target int
	Err    error
}

// VolumeResult reports per-node outcomes of a group volume change.
type VolumeResult struct {
	MasterID string
	Level    int
	Targets  []VolumeTarget
}

// Coordinator mutates group membership through device commands. It never
// touches node state directly from its own goroutine; convergence happens
// by forcing polls, keeping the single-owner discipline on node state.
type Coordinator struct {
	client device.Client
	reg    *registry.Registry
	ticker ForceTicker
}

func NewCoordinator(client device.Client, reg *registry.Registry, ticker ForceTicker) *Coordinator {
	return &Coordinator{client: client, reg: reg, ticker: ticker}
}

// Join makes each candidate a slave of the target master, in order. A
// failed candidate never aborts the rest; partial success is reported
// per candidate. A candidate already in another group is handed only the
// new join command — device firmware replaces its previous membership. A
// candidate that is the master itself is silently skipped. Commands to
// distinct candidates overlap; result order follows candidate order.
func (c *Coordinator) Join(ctx context.Context, masterID string, candidateIDs []string) (JoinResult, error) {
	master, ok := c.reg.Get(masterID)
	if !ok {
		return JoinResult{}, fmt.Errorf("join master %s: %w", masterID, ErrUnknownNode)
	}

	var targets []model.Node
	for _, id := range candidateIDs {
		if id == masterID {
			continue
		}
		node, ok := c.reg.Get(id)
		if !ok {
			targets = append(targets, model.Node{ID: id})
			continue
		}
		targets = append(targets, node)
	}

	result := JoinResult{MasterID: masterID, Results: make([]MemberResult, len(targets))}
	var wg sync.WaitGroup
	for i, node := range targets {
		result.Results[i].NodeID = node.ID
		if node.Address == "" {
			result.Results[i].Err = fmt.Errorf("join candidate %s: %w", node.ID, ErrUnknownNode)
			continue
		}

		wg.Add(1)
		go func(i int, node model.Node) {
			defer wg.Done()
			err := c.client.SendCommand(ctx, node.Address, device.Command{
				Action:     device.ActionJoin,
				MasterID:   masterID,
				MasterAddr: master.Address,
			})
			if err != nil {
				result.Results[i].Err = err
				return
			}
			c.reg.SetPending(node.ID, model.PendingHint{
				Role:     model.RoleSlave,
				MasterID: masterID,
				IssuedAt: time.Now().UTC(),
			})
		}(i, node)
	}
	wg.Wait()

	succeeded := result.Succeeded()
	if len(succeeded) > 0 {
		c.reg.SetPending(masterID, model.PendingHint{
			Role:     model.RoleMaster,
			IssuedAt: time.Now().UTC(),
		})
	}
	if len(result.Failed()) > 0 {
		log.Printf("partial join master=%s ok=%d failed=%d", masterID, len(succeeded), len(result.Failed()))
	}

	c.ticker.ForceTick(masterID)
	for _, id := range succeeded {
		c.ticker.ForceTick(id)
	}
	return result, nil
}

// Leave detaches the node from its group. A node already solo is a
// no-op success. If the node was a master its former members revert to
// solo only once their own next poll confirms it; that eventual-
// consistency window is accepted.
func (c *Coordinator) Leave(ctx context.Context, nodeID string) error {
	node, ok := c.reg.Get(nodeID)
	if !ok {
		return fmt.Errorf("leave %s: %w", nodeID, ErrUnknownNode)
	}
	if _, pending := c.reg.Pending(nodeID); node.Role == model.RoleSolo && !pending {
		return nil
	}

	if err := c.client.SendCommand(ctx, node.Address, device.Command{Action: device.ActionLeave}); err != nil {
		return err
	}
	c.reg.SetPending(nodeID, model.PendingHint{Role: model.RoleSolo, IssuedAt: time.Now().UTC()})
	c.ticker.ForceTick(nodeID)
	return nil
}

// SetGroupVolume shifts the whole group by level minus the loudest
// member, preserving relative balance between members instead of forcing
// one absolute level. Members pushed out of range are clamped silently
// rather than rescaling the group.
func (c *Coordinator) SetGroupVolume(ctx context.Context, masterID string, level int) (VolumeResult, error) {
	level = clamp(level)

	master, ok := c.reg.Get(masterID)
	if !ok {
		return VolumeResult{}, fmt.Errorf("group volume %s: %w", masterID, ErrUnknownNode)
	}
	if !role.For(master.Role).LeadsGroup {
		return VolumeResult{}, fmt.Errorf("group volume %s: %w", masterID, ErrNotGroupLead)
	}

	nodes := []model.Node{master}
	result := VolumeResult{MasterID: masterID, Level: level}
	for _, id := range master.MemberIDs {
		member, ok := c.reg.Get(id)
		if !ok {
			result.Targets = append(result.Targets, VolumeTarget{
				NodeID: id,
				Err:    fmt.Errorf("group member %s: %w", id, ErrUnknownNode),
			})
			continue
		}
		nodes = append(nodes, member)
	}

	maxVol := 0
	for _, n := range nodes {
		if n.Volume > maxVol {
			maxVol = n.Volume
		}
	}
	delta := level - maxVol

	offset := len(result.Targets)
	result.Targets = append(result.Targets, make([]VolumeTarget, len(nodes))...)
	var wg sync.WaitGroup
	for i, n := range nodes {
		target := clamp(n.Volume + delta)
		result.Targets[offset+i] = VolumeTarget{NodeID: n.ID, Target: target}

		wg.Add(1)
		go func(i int, n model.Node, target int) {
			defer wg.Done()
			vol := target
			err := c.client.SendCommand(ctx, n.Address, device.Command{
				Action: device.ActionSetVolume,
				Volume: &vol,
			})
			if err != nil {
				result.Targets[offset+i].Err = err
			}
		}(i, n, target)
	}
	wg.Wait()

	for _, t := range result.Targets {
		if t.Err == nil {
			c.ticker.ForceTick(t.NodeID)
		}
	}
	return result, nil
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
