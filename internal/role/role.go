// Package role derives a node's multiroom role from raw polled status.
// All role-conditional behavior lives here: Resolve maps the raw group
// block into exactly one role, and the traits table is the single place
// that branches on the result.
package role

import (
	"log"

	"roomctl/internal/device"
	"roomctl/internal/model"
)

// Assignment is the resolved role triple for one node.
type Assignment struct {
	Role      model.Role
	MasterID  string
	MemberIDs []string
}

// Resolve maps the raw group status into a role assignment. It is a pure
// function of its inputs apart from logging invariant violations.
//
// Contradictory raw signals (a node reporting both a master reference and
// a member list) are a firmware inconsistency: the raw role-hint field is
// trusted verbatim and the conflicting side is dropped. With no hint, a
// non-empty member list wins because memberIds implies mastership.
func Resolve(nodeID string, raw device.GroupStatus) Assignment {
	members := cleanMembers(nodeID, raw.Members)
	masterID := raw.MasterID
	if masterID == nodeID {
		log.Printf("invariant violation node=%s: reports itself as its own master, ignoring", nodeID)
		masterID = ""
	}

	contradictory := masterID != "" && len(members) > 0

	switch raw.Role {
	case "slave":
		if masterID == "" {
			log.Printf("invariant violation node=%s: slave hint without master_id, treating as solo", nodeID)
			return Assignment{Role: model.RoleSolo}
		}
		if contradictory {
			log.Printf("invariant violation node=%s: slave hint with member list, dropping members", nodeID)
		}
		return Assignment{Role: model.RoleSlave, MasterID: masterID}
	case "master":
		if contradictory {
			log.Printf("invariant violation node=%s: master hint with master_id=%s, dropping master_id", nodeID, masterID)
		}
		if len(members) == 0 {
			return Assignment{Role: model.RoleSolo}
		}
		return Assignment{Role: model.RoleMaster, MemberIDs: members}
	default:
		if contradictory {
			log.Printf("invariant violation node=%s: both master_id=%s and members present without role hint, trusting member list", nodeID, masterID)
			return Assignment{Role: model.RoleMaster, MemberIDs: members}
		}
		if len(members) > 0 {
			return Assignment{Role: model.RoleMaster, MemberIDs: members}
		}
		if masterID != "" {
			return Assignment{Role: model.RoleSlave, MasterID: masterID}
		}
		return Assignment{Role: model.RoleSolo}
	}
}

// cleanMembers deduplicates while preserving device order and strips the
// node's own ID so a snapshot can never contain a self-loop.
func cleanMembers(nodeID string, raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, id := range raw {
		if id == "" || id == nodeID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Traits is role-derived behavior, looked up rather than branched on at
// call sites. Adding a role variant touches only this table.
type Traits struct {
	// AcceptsTransport: play/pause/stop may be sent to this node directly.
	// Slaves delegate transport to their master.
	AcceptsTransport bool
	// LeadsGroup: group-wide operations may target this node.
	LeadsGroup bool
}

var traits = map[model.Role]Traits{
	model.RoleSolo:   {AcceptsTransport: true, LeadsGroup: false},
	model.RoleMaster: {AcceptsTransport: true, LeadsGroup: true},
	model.RoleSlave:  {AcceptsTransport: false, LeadsGroup: false},
}

// For returns the behavior traits of a role.
func For(r model.Role) Traits {
	if t, ok := traits[r]; ok {
		return t
	}
	return traits[model.RoleSolo]
}
