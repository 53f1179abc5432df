package reconcile

import (
	"context"
	"sync"

	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/core"
)

// RenderFunc receives every newly applied body.
type RenderFunc func(Result)

// Viewer keeps one overlay in sync with the channel. Applies are keyed by
// the record signature, so duplicate notifications are cheap and an older
// record never replaces a newer one.
type Viewer struct {
	Reconciler *Reconciler
	Source     channel.ChangeSource
	Render     RenderFunc

	commit sync.Mutex // serializes commit + render

	mu             sync.Mutex
	applied        core.Signature
	appliedVersion int64
	hasApplied     bool
	current        Result
	hasCurrent     bool
}

// Run blocks, refreshing on every change notification until ctx is done.
func (v *Viewer) Run(ctx context.Context) error {
	return v.Source.Watch(ctx, func() { v.Refresh(ctx) })
}

// Refresh fetches the broadcaster record and applies it.
func (v *Viewer) Refresh(ctx context.Context) (Result, bool) {
	rec, err := v.Reconciler.Fetch(ctx)
	if err != nil {
		v.Reconciler.logger().Debug("reconcile: fetch failed", "err", err)
	}
	return v.Apply(ctx, rec)
}

// Apply reconciles rec unless it is already applied or older than what is
// applied. It reports whether the renderer was called.
func (v *Viewer) Apply(ctx context.Context, rec core.ConfigRecord) (Result, bool) {
	sig := rec.Signature()
	if cur, skip := v.check(rec, sig); skip {
		return cur, false
	}

	res := v.Reconciler.Resolve(ctx, rec)

	v.commit.Lock()
	defer v.commit.Unlock()
	if cur, skip := v.check(rec, sig); skip {
		return cur, false
	}

	v.mu.Lock()
	sameBody := v.hasCurrent && v.current.Body.Text == res.Body.Text && v.current.Source == res.Source
	if res.Source.Primary() {
		v.applied = sig
		v.appliedVersion = rec.ScriptVersion
		v.hasApplied = true
	}
	v.current = res
	v.hasCurrent = true
	v.mu.Unlock()

	if sameBody {
		return res, false
	}
	v.Reconciler.Metrics.IncApplied()
	if v.Render != nil {
		v.Render(res)
	}
	return res, true
}

func (v *Viewer) check(rec core.ConfigRecord, sig core.Signature) (Result, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hasApplied {
		return v.current, false
	}
	if sig == v.applied {
		v.Reconciler.Metrics.IncSkipped()
		return v.current, true
	}
	if rec.ScriptVersion < v.appliedVersion {
		v.Reconciler.Metrics.IncStale()
		return v.current, true
	}
	return v.current, false
}

// Current returns the last applied result.
func (v *Viewer) Current() (Result, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current, v.hasCurrent
}
