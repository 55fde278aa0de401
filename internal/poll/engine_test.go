package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roomctl/internal/broadcast"
	"roomctl/internal/capability"
	"roomctl/internal/device"
	"roomctl/internal/model"
	"roomctl/internal/registry"
)

type fakeClient struct {
	mu             sync.Mutex
	status         device.CoreStatus
	statusErr      error
	secondary      map[device.SecondaryKind]device.SecondaryData
	secondaryErr   map[device.SecondaryKind]error
	secondaryCalls map[device.SecondaryKind]int
	onCoreStatus   func()
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		secondary:      make(map[device.SecondaryKind]device.SecondaryData),
		secondaryErr:   make(map[device.SecondaryKind]error),
		secondaryCalls: make(map[device.SecondaryKind]int),
	}
}

func (f *fakeClient) CoreStatus(ctx context.Context, address string) (device.CoreStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onCoreStatus != nil {
		f.onCoreStatus()
	}
	if f.statusErr != nil {
		return device.CoreStatus{}, f.statusErr
	}
	return f.status, nil
}

func (f *fakeClient) SecondaryData(ctx context.Context, address string, kind device.SecondaryKind) (device.SecondaryData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secondaryCalls[kind]++
	if err := f.secondaryErr[kind]; err != nil {
		return nil, err
	}
	return f.secondary[kind], nil
}

func (f *fakeClient) SendCommand(ctx context.Context, address string, cmd device.Command) error {
	return nil
}

func (f *fakeClient) set(status device.CoreStatus, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.statusErr = err
}

func (f *fakeClient) calls(kind device.SecondaryKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.secondaryCalls[kind]
}

func newEngine(client device.Client, cfg Config) (*Engine, *registry.Registry, *capability.Tracker, *broadcast.Broadcaster) {
	reg := registry.New()
	caps := capability.NewTracker()
	bus := broadcast.New()
	return NewEngine(client, reg, caps, bus, cfg), reg, caps, bus
}

func TestTick_SuccessUpdatesSnapshot(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.set(device.CoreStatus{
		Playback: "playing",
		Volume:   42,
		TrackID:  "t1",
		Group:    device.GroupStatus{Role: "master", Members: []string{"b"}},
	}, nil)
	client.secondaryErr[device.KindNowPlaying] = errors.New("404")
	client.secondaryErr[device.KindEqualizer] = errors.New("404")
	client.secondaryErr[device.KindExtendedStatus] = errors.New("404")

	e, reg, _, _ := newEngine(client, Config{})
	reg.Add(model.Node{ID: "a", Address: "addr"})

	node, changed := e.Tick(context.Background(), "a")
	if !changed {
		t.Fatalf("expected changed")
	}
	if !node.Available || node.Playback != model.PlaybackPlaying || node.Volume != 42 {
		t.Fatalf("got %+v", node)
	}
	if node.Role != model.RoleMaster || len(node.MemberIDs) != 1 {
		t.Fatalf("role not resolved: %+v", node)
	}

	stored, _ := reg.Get("a")
	if stored.Volume != 42 {
		t.Fatalf("snapshot not written back: %+v", stored)
	}

	// Identical state on the next tick reports no change.
	if _, changed := e.Tick(context.Background(), "a"); changed {
		t.Fatalf("unchanged state reported as changed")
	}
}

func TestTick_IntervalFollowsPlayback(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	cfg := Config{FastInterval: 100 * time.Millisecond, SlowInterval: time.Second}
	e, reg, caps, _ := newEngine(client, cfg)
	reg.Add(model.Node{ID: "a", Address: "addr"})
	for _, kind := range device.SecondaryKinds {
		caps.Record("a", kind, false)
	}

	client.set(device.CoreStatus{Playback: "playing"}, nil)
	e.Tick(context.Background(), "a")
	if got := e.Interval("a"); got != cfg.FastInterval {
		t.Fatalf("playing interval=%v", got)
	}

	// The switch back is immediate, not debounced.
	client.set(device.CoreStatus{Playback: "paused"}, nil)
	e.Tick(context.Background(), "a")
	if got := e.Interval("a"); got != cfg.SlowInterval {
		t.Fatalf("paused interval=%v", got)
	}
}

func TestTick_FailuresFlipAvailability(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	cfg := Config{FastInterval: 100 * time.Millisecond, SlowInterval: time.Second, FailureThreshold: 3}
	e, reg, caps, _ := newEngine(client, cfg)
	reg.Add(model.Node{ID: "a", Address: "addr"})
	for _, kind := range device.SecondaryKinds {
		caps.Record("a", kind, false)
	}

	// Healthy and playing first.
	client.set(device.CoreStatus{Playback: "playing"}, nil)
	e.Tick(context.Background(), "a")
	if got := e.Interval("a"); got != cfg.FastInterval {
		t.Fatalf("interval=%v", got)
	}

	client.set(device.CoreStatus{}, errors.New("timeout"))
	for i := 0; i < 2; i++ {
		node, _ := e.Tick(context.Background(), "a")
		if !node.Available {
			t.Fatalf("available flipped before threshold (failure %d)", i+1)
		}
	}
	node, changed := e.Tick(context.Background(), "a")
	if node.Available {
		t.Fatalf("available still true after threshold")
	}
	if !changed {
		t.Fatalf("availability flip not reported as change")
	}
	// Stale playback state is still "playing" but the interval is held slow.
	if node.Playback != model.PlaybackPlaying {
		t.Fatalf("stale playback lost: %+v", node)
	}
	if got := e.Interval("a"); got != cfg.SlowInterval {
		t.Fatalf("interval not held slow: %v", got)
	}

	// Recovery resets the failure count and availability.
	client.set(device.CoreStatus{}, nil)
	node, _ = e.Tick(context.Background(), "a")
	if !node.Available || e.PlanState("a").ConsecutiveFailures != 0 {
		t.Fatalf("recovery failed: %+v plan=%+v", node, e.PlanState("a"))
	}
}

func TestTick_CapabilityProbeOnceOnFailure(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.set(device.CoreStatus{TrackID: "t1"}, nil)
	client.secondaryErr[device.KindEqualizer] = errors.New("404")
	client.secondary[device.KindNowPlaying] = device.SecondaryData{"title": "Song"}
	client.secondary[device.KindExtendedStatus] = device.SecondaryData{"firmware": "1.2"}

	e, reg, caps, _ := newEngine(client, Config{})
	reg.Add(model.Node{ID: "a", Address: "addr"})

	for i := 0; i < 5; i++ {
		e.Tick(context.Background(), "a")
	}

	if got := client.calls(device.KindEqualizer); got != 1 {
		t.Fatalf("failed capability probed %d times", got)
	}
	if caps.State("a", device.KindEqualizer) != capability.Unsupported {
		t.Fatalf("eq not marked unsupported")
	}
	if caps.State("a", device.KindNowPlaying) != capability.Supported {
		t.Fatalf("now-playing not marked supported")
	}

	node, _ := reg.Get("a")
	if node.Meta["title"] != "Song" {
		t.Fatalf("secondary data not merged: %+v", node.Meta)
	}
}

func TestTick_SecondaryRefetchOnlyOnTrackChange(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.set(device.CoreStatus{TrackID: "t1"}, nil)
	client.secondary[device.KindNowPlaying] = device.SecondaryData{"title": "One"}
	client.secondaryErr[device.KindEqualizer] = errors.New("404")
	client.secondaryErr[device.KindExtendedStatus] = errors.New("404")

	e, reg, _, _ := newEngine(client, Config{})
	reg.Add(model.Node{ID: "a", Address: "addr"})

	e.Tick(context.Background(), "a") // probe
	e.Tick(context.Background(), "a") // same track, no re-fetch
	e.Tick(context.Background(), "a")
	if got := client.calls(device.KindNowPlaying); got != 1 {
		t.Fatalf("re-fetched without track change: %d calls", got)
	}

	client.set(device.CoreStatus{TrackID: "t2"}, nil)
	client.mu.Lock()
	client.secondary[device.KindNowPlaying] = device.SecondaryData{"title": "Two"}
	client.mu.Unlock()

	e.Tick(context.Background(), "a")
	if got := client.calls(device.KindNowPlaying); got != 2 {
		t.Fatalf("track change did not trigger fetch: %d calls", got)
	}
	node, _ := reg.Get("a")
	if node.Meta["title"] != "Two" {
		t.Fatalf("meta not updated: %+v", node.Meta)
	}
}

func TestTick_ClearsPendingOnSuccess(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.set(device.CoreStatus{Group: device.GroupStatus{Role: "slave", MasterID: "m"}}, nil)
	e, reg, caps, _ := newEngine(client, Config{})
	reg.Add(model.Node{ID: "a", Address: "addr"})
	for _, kind := range device.SecondaryKinds {
		caps.Record("a", kind, false)
	}
	reg.SetPending("a", model.PendingHint{Role: model.RoleSlave, MasterID: "m"})

	e.Tick(context.Background(), "a")
	if _, ok := reg.Pending("a"); ok {
		t.Fatalf("pending hint survived successful poll")
	}

	// A failed poll leaves the hint in place.
	reg.SetPending("a", model.PendingHint{Role: model.RoleSolo})
	client.set(device.CoreStatus{}, errors.New("down"))
	e.Tick(context.Background(), "a")
	if _, ok := reg.Pending("a"); !ok {
		t.Fatalf("pending hint cleared by failed poll")
	}
}

func TestTick_PublishesOnlyOnChange(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.set(device.CoreStatus{Volume: 10}, nil)
	e, reg, caps, bus := newEngine(client, Config{})
	reg.Add(model.Node{ID: "a", Address: "addr"})
	for _, kind := range device.SecondaryKinds {
		caps.Record("a", kind, false)
	}

	var mu sync.Mutex
	published := 0
	bus.Subscribe("a", func(string) {
		mu.Lock()
		published++
		mu.Unlock()
	})

	e.Tick(context.Background(), "a")
	e.Tick(context.Background(), "a")
	client.set(device.CoreStatus{Volume: 20}, nil)
	e.Tick(context.Background(), "a")

	mu.Lock()
	defer mu.Unlock()
	if published != 2 {
		t.Fatalf("published=%d", published)
	}
}

func TestTick_ChangeHandlerSeesFieldTransitions(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.set(device.CoreStatus{Playback: "playing", Volume: 10}, nil)
	e, reg, caps, _ := newEngine(client, Config{})
	reg.Add(model.Node{ID: "a", Address: "addr"})
	for _, kind := range device.SecondaryKinds {
		caps.Record("a", kind, false)
	}

	var changes []model.Change
	e.OnChange(func(c model.Change) { changes = append(changes, c) })

	e.Tick(context.Background(), "a")

	fields := map[string]model.Change{}
	for _, c := range changes {
		fields[c.Field] = c
	}
	if c, ok := fields["playback"]; !ok || c.New != "playing" || c.Old != "" {
		t.Fatalf("playback change missing or wrong: %+v", changes)
	}
	if c, ok := fields["volume"]; !ok || c.New != "10" {
		t.Fatalf("volume change missing: %+v", changes)
	}
	if c, ok := fields["available"]; !ok || c.New != "true" {
		t.Fatalf("available change missing: %+v", changes)
	}
}

func TestTick_CancelledContextDiscardsResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	client := newFakeClient()
	client.set(device.CoreStatus{Volume: 99}, nil)
	// Cancellation lands while the request is in flight.
	client.onCoreStatus = func() { cancel() }

	e, reg, caps, _ := newEngine(client, Config{})
	reg.Add(model.Node{ID: "a", Address: "addr", Volume: 1})
	for _, kind := range device.SecondaryKinds {
		caps.Record("a", kind, false)
	}

	_, changed := e.Tick(ctx, "a")
	if changed {
		t.Fatalf("discarded tick reported change")
	}
	node, _ := reg.Get("a")
	if node.Volume != 1 {
		t.Fatalf("discarded tick wrote back: %+v", node)
	}
}

func TestTick_UnknownNode(t *testing.T) {
	t.Parallel()

	e, _, _, _ := newEngine(newFakeClient(), Config{})
	if _, changed := e.Tick(context.Background(), "ghost"); changed {
		t.Fatalf("unknown node reported change")
	}
}
