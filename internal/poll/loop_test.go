package poll

import (
	"context"
	"testing"
	"time"

	"roomctl/internal/device"
	"roomctl/internal/model"
)

func TestLoop_TicksImmediatelyAndStops(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	ticks := make(chan struct{}, 64)
	client.onCoreStatus = func() { ticks <- struct{}{} }
	client.set(device.CoreStatus{}, nil)

	cfg := Config{FastInterval: 10 * time.Millisecond, SlowInterval: time.Hour}
	e, reg, caps, _ := newEngine(client, cfg)
	reg.Add(model.Node{ID: "a", Address: "addr"})
	for _, kind := range device.SecondaryKinds {
		caps.Record("a", kind, false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(e, "a")
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatalf("no immediate tick")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop")
	}
}

func TestLoop_ForceTickSkipsWait(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	ticks := make(chan struct{}, 64)
	client.onCoreStatus = func() { ticks <- struct{}{} }
	client.set(device.CoreStatus{}, nil)

	// Slow interval so only forced ticks fire after the first.
	cfg := Config{FastInterval: time.Hour, SlowInterval: time.Hour}
	e, reg, caps, _ := newEngine(client, cfg)
	reg.Add(model.Node{ID: "a", Address: "addr"})
	for _, kind := range device.SecondaryKinds {
		caps.Record("a", kind, false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop(e, "a")
	go loop.Run(ctx)

	<-ticks // initial tick

	loop.ForceTick()
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatalf("forced tick never ran")
	}
}

func TestLoop_ForceTickCoalesces(t *testing.T) {
	t.Parallel()

	loop := NewLoop(nil, "a")
	// Many requests before the loop drains them collapse into one.
	for i := 0; i < 10; i++ {
		loop.ForceTick()
	}
	if len(loop.force) != 1 {
		t.Fatalf("force queue len=%d", len(loop.force))
	}
}
