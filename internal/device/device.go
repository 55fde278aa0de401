package device

import (
	"context"
	"fmt"
)

// SecondaryKind names an optional speaker endpoint whose support varies by
// hardware and firmware and must be probed rather than assumed.
type SecondaryKind string

const (
	KindNowPlaying     SecondaryKind = "now-playing"
	KindEqualizer      SecondaryKind = "equalizer"
	KindExtendedStatus SecondaryKind = "status-extended"
)

// SecondaryKinds lists every optional endpoint in probe order.
var SecondaryKinds = []SecondaryKind{KindNowPlaying, KindEqualizer, KindExtendedStatus}

// GroupStatus is the raw group topology block of a core status response.
type GroupStatus struct {
	Role     string   `json:"role"`
	MasterID string   `json:"master_id"`
	Members  []string `json:"members"`
}

// CoreStatus is the raw per-tick status payload of a speaker.
type CoreStatus struct {
	Playback string      `json:"playback"`
	Volume   int         `json:"volume"`
	Muted    bool        `json:"muted"`
	TrackID  string      `json:"track_id"`
	Group    GroupStatus `json:"group"`
}

// SecondaryData is the payload of an optional endpoint. Values are kept as
// strings; the poller folds them into the node's metadata verbatim.
type SecondaryData map[string]string

// Command is the single mutating request a speaker accepts.
type Command struct {
	Action     string `json:"action"`
	MasterID   string `json:"master_id,omitempty"`
	MasterAddr string `json:"master_addr,omitempty"`
	Volume     *int   `json:"volume,omitempty"`
	Mute       *bool  `json:"mute,omitempty"`
}

// Command actions.
const (
	ActionJoin      = "join"
	ActionLeave     = "leave"
	ActionPlay      = "play"
	ActionPause     = "pause"
	ActionStop      = "stop"
	ActionSetVolume = "set_volume"
	ActionSetMute   = "set_mute"
)

// Client issues typed requests to one speaker. Implementations collapse
// every failure class (timeout, refusal, malformed payload) into a
// *TransportError; callers never distinguish between them.
type Client interface {
	CoreStatus(ctx context.Context, address string) (CoreStatus, error)
	SecondaryData(ctx context.Context, address string, kind SecondaryKind) (SecondaryData, error)
	SendCommand(ctx context.Context, address string, cmd Command) error
}

// TransportError wraps any device request failure.
type TransportError struct {
	Address string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.Address, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
