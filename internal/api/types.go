package api

import "time"

// NodeStatus is the hub's view of one speaker: the last confirmed
// snapshot plus any pending role hint still awaiting confirmation.
type NodeStatus struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Address   string            `json:"address"`
	Available bool              `json:"available"`
	Playback  string            `json:"playback"`
	Volume    int               `json:"volume"`
	Muted     bool              `json:"muted"`
	Role      string            `json:"role"`
	MasterID  string            `json:"master_id,omitempty"`
	MemberIDs []string          `json:"member_ids,omitempty"`
	TrackID   string            `json:"track_id,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	LastSeen  time.Time         `json:"last_seen"`

	PendingRole     string `json:"pending_role,omitempty"`
	PendingMasterID string `json:"pending_master_id,omitempty"`
}

// NodesResponse lists all registered speakers.
type NodesResponse struct {
	Nodes []NodeStatus `json:"nodes"`
}

// JoinRequest groups candidates under a master.
type JoinRequest struct {
	MasterID   string   `json:"master_id"`
	Candidates []string `json:"candidates"`
}

// MemberOutcome reports one candidate's result of a group operation.
type MemberOutcome struct {
	NodeID string `json:"node_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// JoinResponse reports per-candidate join outcomes.
type JoinResponse struct {
	MasterID string          `json:"master_id"`
	Results  []MemberOutcome `json:"results"`
}

// LeaveRequest detaches a node from its group.
type LeaveRequest struct {
	NodeID string `json:"node_id"`
}

// GroupVolumeRequest shifts a whole group toward a level.
type GroupVolumeRequest struct {
	MasterID string `json:"master_id"`
	Level    int    `json:"level"`
}

// VolumeOutcome reports the computed target for one group member.
type VolumeOutcome struct {
	NodeID string `json:"node_id"`
	Target int    `json:"target"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// GroupVolumeResponse reports per-member volume outcomes.
type GroupVolumeResponse struct {
	MasterID string          `json:"master_id"`
	Level    int             `json:"level"`
	Targets  []VolumeOutcome `json:"targets"`
}

// CommandRequest sends a playback or local command to one node.
// Transport actions (play, pause, stop) aimed at a slave are routed to
// its master; set_volume and set_mute always go to the node itself.
type CommandRequest struct {
	NodeID string `json:"node_id"`
	Action string `json:"action"`
	Volume *int   `json:"volume,omitempty"`
	Mute   *bool  `json:"mute,omitempty"`
}

// CommandResponse names the node the command was actually sent to.
type CommandResponse struct {
	NodeID   string `json:"node_id"`
	RoutedTo string `json:"routed_to"`
}

// EventMessage is pushed over the events websocket whenever a node's
// confirmed snapshot changes.
type EventMessage struct {
	NodeID string `json:"node_id"`
}
