// Package channel is the boundary between the config transport and the
// storage that hosts it: two capacity-bounded segments plus a best-effort
// broadcast.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/you/grimoire-overlay/internal/core"
)

// DefaultPollInterval is used when an adapter cannot push changes.
const DefaultPollInterval = 5 * time.Second

// ErrUnavailable means no backing store could be reached.
var ErrUnavailable = errors.New("channel: unavailable")

// SegmentWriteError is returned when a payload exceeds a segment's capacity.
type SegmentWriteError struct {
	Kind     core.ChannelKind
	Size     int
	Capacity int
}

func (e *SegmentWriteError) Error() string {
	return fmt.Sprintf("channel: %s segment write of %d bytes exceeds capacity %d", e.Kind, e.Size, e.Capacity)
}

// Adapter stores the two segments. GetSegment returns "" for an unset
// segment.
type Adapter interface {
	SetSegment(ctx context.Context, kind core.ChannelKind, payload string) error
	GetSegment(ctx context.Context, kind core.ChannelKind) (string, error)
	Broadcast(ctx context.Context, payload string) error
}

// Notifier is implemented by adapters that can push change notifications.
// Notify registers fn and returns; fn stops firing once ctx is done.
type Notifier interface {
	Notify(ctx context.Context, fn func()) error
}

// ChangeSource calls fn whenever the segments may have changed. Watch
// blocks until ctx is done.
type ChangeSource interface {
	Watch(ctx context.Context, fn func()) error
}

// SourceFor picks push when a supports it and polling otherwise.
func SourceFor(a Adapter, interval time.Duration) ChangeSource {
	if n, ok := a.(Notifier); ok {
		return &Push{Notifier: n}
	}
	return &Poller{Adapter: a, Interval: interval}
}

// Push adapts a Notifier to ChangeSource. fn is also called once at start
// so a subscriber catches up with state written before it subscribed.
type Push struct {
	Notifier Notifier
}

func (p *Push) Watch(ctx context.Context, fn func()) error {
	if err := p.Notifier.Notify(ctx, fn); err != nil {
		return err
	}
	fn()
	<-ctx.Done()
	return nil
}
