package channel

import (
	"context"
	"log/slog"
	"time"

	"github.com/you/grimoire-overlay/internal/core"
)

// Poller fetches both segments on a fixed interval and calls fn only when
// their contents changed since the previous tick. The first Watch tick
// always calls fn, even when the adapter is unreachable, so a subscriber
// can fall back instead of waiting for the channel to come up.
type Poller struct {
	Adapter  Adapter
	Interval time.Duration
	Logger   *slog.Logger

	lastBroadcaster string
	lastGlobal      string
	primed          bool
}

func (p *Poller) Watch(ctx context.Context, fn func()) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p.tick(ctx, fn)
	if !p.primed {
		fn()
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.tick(ctx, fn)
		}
	}
}

func (p *Poller) tick(ctx context.Context, fn func()) {
	b, err := p.Adapter.GetSegment(ctx, core.Broadcaster)
	if err != nil {
		p.logger().Debug("channel: poll broadcaster failed", "err", err)
		return
	}
	g, err := p.Adapter.GetSegment(ctx, core.Global)
	if err != nil {
		p.logger().Debug("channel: poll global failed", "err", err)
		return
	}
	if p.primed && b == p.lastBroadcaster && g == p.lastGlobal {
		return
	}
	p.primed = true
	p.lastBroadcaster, p.lastGlobal = b, g
	fn()
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
