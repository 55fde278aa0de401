package model

import "time"

// PlaybackState is the transport state reported by a speaker.
type PlaybackState string

const (
	PlaybackStopped PlaybackState = "stopped"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
)

// Role is a node's position in the multiroom topology. Exactly one role
// holds at any instant; roles are mutually exclusive tags.
type Role string

const (
	RoleSolo   Role = "solo"
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Node is the confirmed snapshot of one speaker, derived from its last
// successful poll. MasterID is set only when Role is slave; MemberIDs is
// non-empty only when Role is master, never contains the node's own ID,
// and preserves device order.
type Node struct {
	ID        string
	Name      string
	Address   string
	Playback  PlaybackState
	Volume    int
	Muted     bool
	Role      Role
	MasterID  string
	MemberIDs []string
	TrackID   string
	Meta      map[string]string
	Available bool
	LastSeen  time.Time
}

// Clone returns a deep copy so snapshots handed across goroutines never
// share the member list or metadata map.
func (n Node) Clone() Node {
	out := n
	if n.MemberIDs != nil {
		out.MemberIDs = append([]string(nil), n.MemberIDs...)
	}
	if n.Meta != nil {
		out.Meta = make(map[string]string, len(n.Meta))
		for k, v := range n.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// PendingHint is the optimistic group state written immediately after a
// command is issued. It is kept separate from the confirmed snapshot and
// cleared by the next successful poll, which is always authoritative.
type PendingHint struct {
	Role     Role
	MasterID string
	IssuedAt time.Time
}

// Change is one observed transition of an externally-visible node field.
type Change struct {
	Timestamp time.Time
	NodeID    string
	Field     string
	Old       string
	New       string
}
