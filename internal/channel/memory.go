package channel

import (
	"context"
	"sync"

	"github.com/you/grimoire-overlay/internal/core"
)

// Memory is an in-process Adapter and Notifier. It backs the self-hosted
// mode of overlayd and tests.
type Memory struct {
	Capacity int // per segment; 0 means unlimited

	mu         sync.RWMutex
	segments   map[core.ChannelKind]string
	broadcasts []string
	nextID     int
	listeners  map[int]func()
}

func NewMemory(capacity int) *Memory {
	return &Memory{Capacity: capacity}
}

func (m *Memory) SetSegment(ctx context.Context, kind core.ChannelKind, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Capacity > 0 && len(payload) > m.Capacity {
		return &SegmentWriteError{Kind: kind, Size: len(payload), Capacity: m.Capacity}
	}
	m.mu.Lock()
	if m.segments == nil {
		m.segments = make(map[core.ChannelKind]string)
	}
	changed := m.segments[kind] != payload
	m.segments[kind] = payload
	fns := m.snapshotLocked()
	m.mu.Unlock()
	if changed {
		fire(fns)
	}
	return nil
}

func (m *Memory) GetSegment(ctx context.Context, kind core.ChannelKind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.segments[kind], nil
}

func (m *Memory) Broadcast(ctx context.Context, payload string) error {
	m.mu.Lock()
	m.broadcasts = append(m.broadcasts, payload)
	fns := m.snapshotLocked()
	m.mu.Unlock()
	fire(fns)
	return nil
}

// Broadcasts returns every payload broadcast so far.
func (m *Memory) Broadcasts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.broadcasts...)
}

func (m *Memory) Notify(ctx context.Context, fn func()) error {
	m.mu.Lock()
	if m.listeners == nil {
		m.listeners = make(map[int]func())
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}()
	return nil
}

func (m *Memory) snapshotLocked() []func() {
	fns := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func fire(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
