package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/grimoire-overlay/internal/core"
)

func TestMemoryCapacity(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()
	if err := m.SetSegment(ctx, core.Broadcaster, "0123456789"); err != nil {
		t.Fatalf("at capacity: %v", err)
	}
	err := m.SetSegment(ctx, core.Broadcaster, strings.Repeat("x", 11))
	var swe *SegmentWriteError
	if !errors.As(err, &swe) || swe.Size != 11 || swe.Capacity != 10 || swe.Kind != core.Broadcaster {
		t.Fatalf("expected SegmentWriteError, got %v", err)
	}
	got, _ := m.GetSegment(ctx, core.Broadcaster)
	if got != "0123456789" {
		t.Fatalf("rejected write replaced segment: %q", got)
	}
	if g, _ := m.GetSegment(ctx, core.Global); g != "" {
		t.Fatalf("unset global = %q", g)
	}
}

func TestMemoryNotify(t *testing.T) {
	m := NewMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	if err := m.Notify(ctx, func() { calls.Add(1) }); err != nil {
		t.Fatal(err)
	}
	_ = m.SetSegment(context.Background(), core.Broadcaster, "a")
	_ = m.SetSegment(context.Background(), core.Broadcaster, "a") // unchanged
	_ = m.Broadcast(context.Background(), "ping")
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
	cancel()
	deadline := time.Now().Add(time.Second)
	for {
		m.mu.RLock()
		n := len(m.listeners)
		m.mu.RUnlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("listener not removed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if b := m.Broadcasts(); len(b) != 1 || b[0] != "ping" {
		t.Fatalf("broadcasts = %v", b)
	}
}

type pollOnly struct {
	mu   sync.Mutex
	segs map[core.ChannelKind]string
	gets int
	fail bool
}

func (p *pollOnly) SetSegment(_ context.Context, k core.ChannelKind, v string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.segs == nil {
		p.segs = map[core.ChannelKind]string{}
	}
	p.segs[k] = v
	return nil
}

func (p *pollOnly) GetSegment(_ context.Context, k core.ChannelKind) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets++
	if p.fail {
		return "", ErrUnavailable
	}
	return p.segs[k], nil
}

func (p *pollOnly) Broadcast(context.Context, string) error { return nil }

func TestSourceFor(t *testing.T) {
	if _, ok := SourceFor(NewMemory(0), 0).(*Push); !ok {
		t.Fatalf("memory adapter should use push")
	}
	if _, ok := SourceFor(&pollOnly{}, 0).(*Poller); !ok {
		t.Fatalf("poll-only adapter should use Poller")
	}
}

func TestPollerFiresOnlyOnChange(t *testing.T) {
	a := &pollOnly{}
	p := &Poller{Adapter: a}
	var calls int
	fn := func() { calls++ }
	ctx := context.Background()

	p.tick(ctx, fn)
	p.tick(ctx, fn)
	if calls != 1 {
		t.Fatalf("calls after idle ticks = %d, want 1", calls)
	}
	_ = a.SetSegment(ctx, core.Global, "tail")
	p.tick(ctx, fn)
	if calls != 2 {
		t.Fatalf("global change not detected")
	}
	a.fail = true
	p.tick(ctx, fn)
	if calls != 2 {
		t.Fatalf("failed poll fired callback")
	}
}

func TestPollerWatchStopsOnCancel(t *testing.T) {
	a := &pollOnly{}
	p := &Poller{Adapter: a, Interval: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx, func() { fired <- struct{}{} }) }()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("initial poll did not fire")
	}
	_ = a.SetSegment(context.Background(), core.Broadcaster, "v2")
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("change not picked up")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("watch did not return")
	}
}

func TestPollerWatchFiresWhenChannelDown(t *testing.T) {
	a := &pollOnly{fail: true}
	p := &Poller{Adapter: a, Interval: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	fired := make(chan struct{}, 16)
	go p.Watch(ctx, func() {
		calls.Add(1)
		fired <- struct{}{}
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("no initial call while channel is down")
	}
	time.Sleep(30 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls while down = %d, want 1", n)
	}

	_ = a.SetSegment(context.Background(), core.Broadcaster, "v1")
	a.mu.Lock()
	a.fail = false
	a.mu.Unlock()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("recovery not picked up")
	}
}

func TestPushWatchCatchesUp(t *testing.T) {
	m := NewMemory(0)
	_ = m.SetSegment(context.Background(), core.Broadcaster, "before")
	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() { done <- SourceFor(m, 0).Watch(ctx, func() { fired <- struct{}{} }) }()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("push source did not fire on start")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch: %v", err)
	}
}
