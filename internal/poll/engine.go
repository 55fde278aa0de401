// Package poll drives the per-node refresh cycle: fetch core status,
// derive the role, probe optional endpoints, diff against the previous
// snapshot and publish changes. One loop goroutine per node; ticks for a
// node never overlap.
package poll

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"roomctl/internal/broadcast"
	"roomctl/internal/capability"
	"roomctl/internal/device"
	"roomctl/internal/model"
	"roomctl/internal/registry"
	"roomctl/internal/role"
)

const (
	DefaultFastInterval     = 1 * time.Second
	DefaultSlowInterval     = 10 * time.Second
	DefaultFailureThreshold = 3
)

// Config holds the two scheduling intervals and the failure threshold.
// The interval is always exactly one of the two values, never a continuum:
// fast while the node is playing, slow otherwise.
type Config struct {
	FastInterval     time.Duration
	SlowInterval     time.Duration
	FailureThreshold int
}

func (c *Config) applyDefaults() {
	if c.FastInterval <= 0 {
		c.FastInterval = DefaultFastInterval
	}
	if c.SlowInterval <= 0 {
		c.SlowInterval = DefaultSlowInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
}

// Plan is the per-node scheduling state, owned exclusively by that node's
// polling loop.
type Plan struct {
	CurrentInterval     time.Duration
	ConsecutiveFailures int
	LastCoreFetch       time.Time
	LastSecondaryFetch  time.Time
	lastTrackID         string
}

// ChangeHandler receives one field-level transition per changed field.
// Optional; used to feed the journal.
type ChangeHandler func(model.Change)

// Engine executes ticks. It owns all polling plans; access to a single
// plan only ever happens from that node's loop goroutine, the map itself
// is guarded for Add/Forget from the supervisor.
type Engine struct {
	client   device.Client
	reg      *registry.Registry
	caps     *capability.Tracker
	bus      *broadcast.Broadcaster
	cfg      Config
	onChange ChangeHandler

	mu    sync.Mutex
	plans map[string]*Plan
}

func NewEngine(client device.Client, reg *registry.Registry, caps *capability.Tracker, bus *broadcast.Broadcaster, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		client: client,
		reg:    reg,
		caps:   caps,
		bus:    bus,
		cfg:    cfg,
		plans:  make(map[string]*Plan),
	}
}

// OnChange sets the optional field-change handler. Must be called before
// any loop starts.
func (e *Engine) OnChange(fn ChangeHandler) { e.onChange = fn }

// Interval returns the node's current tick interval.
func (e *Engine) Interval(nodeID string) time.Duration {
	return e.planFor(nodeID).CurrentInterval
}

// PlanState returns a copy of the node's scheduling state.
func (e *Engine) PlanState(nodeID string) Plan {
	return *e.planFor(nodeID)
}

// Forget drops the node's polling plan. Called on node removal.
func (e *Engine) Forget(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.plans, nodeID)
}

func (e *Engine) planFor(nodeID string) *Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.plans[nodeID]
	if p == nil {
		p = &Plan{CurrentInterval: e.cfg.SlowInterval}
		e.plans[nodeID] = p
	}
	return p
}

// Tick runs one polling cycle for the node and returns the updated
// snapshot plus whether any externally-visible field changed. It never
// returns an error: transport failures manifest purely as available=false
// and a held slow interval. If the context is cancelled while the tick is
// in flight the result is discarded (not written back, not published).
func (e *Engine) Tick(ctx context.Context, nodeID string) (model.Node, bool) {
	prev, ok := e.reg.Get(nodeID)
	if !ok {
		return model.Node{}, false
	}
	plan := e.planFor(nodeID)
	now := time.Now().UTC()

	status, err := e.client.CoreStatus(ctx, prev.Address)
	plan.LastCoreFetch = now

	var node model.Node
	if err != nil {
		plan.ConsecutiveFailures++
		node = prev.Clone()
		if plan.ConsecutiveFailures >= e.cfg.FailureThreshold {
			node.Available = false
			// No exponential backoff: LAN devices recover quickly, the
			// slow tick rate is backoff enough.
			plan.CurrentInterval = e.cfg.SlowInterval
		}
		log.Printf("poll failed node=%s failures=%d err=%v", nodeID, plan.ConsecutiveFailures, err)
	} else {
		plan.ConsecutiveFailures = 0
		node = e.apply(prev, status, now)
		if node.Playback == model.PlaybackPlaying {
			plan.CurrentInterval = e.cfg.FastInterval
		} else {
			plan.CurrentInterval = e.cfg.SlowInterval
		}
		e.fetchSecondary(ctx, &node, plan)
		// The poll is authoritative; any outstanding optimistic hint is
		// now confirmed or corrected.
		e.reg.ClearPending(nodeID)
	}

	changes := diff(now, prev, node)
	changed := len(changes) > 0

	if ctx.Err() != nil {
		return node, false
	}

	e.reg.SetConfirmed(node)
	if e.onChange != nil {
		for _, c := range changes {
			e.onChange(c)
		}
	}
	if changed {
		e.bus.Publish(nodeID)
	}
	return node, changed
}

// apply folds a raw core status into a new snapshot.
func (e *Engine) apply(prev model.Node, status device.CoreStatus, now time.Time) model.Node {
	node := prev.Clone()
	node.Available = true
	node.LastSeen = now
	node.Playback = playbackState(status.Playback)
	node.Volume = status.Volume
	node.Muted = status.Muted
	node.TrackID = status.TrackID

	assigned := role.Resolve(node.ID, status.Group)
	node.Role = assigned.Role
	node.MasterID = assigned.MasterID
	node.MemberIDs = assigned.MemberIDs
	return node
}

// fetchSecondary probes unknown endpoints once and re-fetches supported
// ones when the track identity changed since the last fetch.
func (e *Engine) fetchSecondary(ctx context.Context, node *model.Node, plan *Plan) {
	trackChanged := node.TrackID != plan.lastTrackID
	fetched := false

	for _, kind := range device.SecondaryKinds {
		switch e.caps.State(node.ID, kind) {
		case capability.Unsupported:
			continue
		case capability.Unknown:
			data, err := e.client.SecondaryData(ctx, node.Address, kind)
			if err != nil {
				// One failed probe suppresses the endpoint for the rest
				// of the node's session; the result is discarded.
				e.caps.Record(node.ID, kind, false)
				log.Printf("capability unsupported node=%s kind=%s", node.ID, kind)
				continue
			}
			e.caps.Record(node.ID, kind, true)
			mergeMeta(node, data)
			fetched = true
		case capability.Supported:
			if !trackChanged {
				continue
			}
			data, err := e.client.SecondaryData(ctx, node.Address, kind)
			if err != nil {
				log.Printf("secondary fetch failed node=%s kind=%s err=%v", node.ID, kind, err)
				continue
			}
			mergeMeta(node, data)
			fetched = true
		}
	}

	if fetched {
		plan.LastSecondaryFetch = time.Now().UTC()
		plan.lastTrackID = node.TrackID
	}
}

func mergeMeta(node *model.Node, data device.SecondaryData) {
	if len(data) == 0 {
		return
	}
	if node.Meta == nil {
		node.Meta = make(map[string]string, len(data))
	}
	for k, v := range data {
		node.Meta[k] = v
	}
}

func playbackState(raw string) model.PlaybackState {
	switch raw {
	case "playing":
		return model.PlaybackPlaying
	case "paused":
		return model.PlaybackPaused
	default:
		return model.PlaybackStopped
	}
}

// diff compares the externally-visible fields of two snapshots.
func diff(now time.Time, prev, next model.Node) []model.Change {
	var out []model.Change
	add := func(field, old, new string) {
		if old != new {
			out = append(out, model.Change{
				Timestamp: now,
				NodeID:    next.ID,
				Field:     field,
				Old:       old,
				New:       new,
			})
		}
	}

	add("available", strconv.FormatBool(prev.Available), strconv.FormatBool(next.Available))
	add("playback", string(prev.Playback), string(next.Playback))
	add("volume", strconv.Itoa(prev.Volume), strconv.Itoa(next.Volume))
	add("muted", strconv.FormatBool(prev.Muted), strconv.FormatBool(next.Muted))
	add("role", string(prev.Role), string(next.Role))
	add("master", prev.MasterID, next.MasterID)
	add("members", strings.Join(prev.MemberIDs, ","), strings.Join(next.MemberIDs, ","))
	add("track", prev.TrackID, next.TrackID)
	for k, v := range next.Meta {
		add("meta."+k, prev.Meta[k], v)
	}
	return out
}
