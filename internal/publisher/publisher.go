// Package publisher is the admin save path: validate, build, write both
// segments and announce the change.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/core"
	"github.com/you/grimoire-overlay/internal/record"
	"github.com/you/grimoire-overlay/internal/synctrace"
)

// ErrSaveInFlight is returned while another save is running.
var ErrSaveInFlight = errors.New("publisher: save already in flight")

// Notice is the broadcast announcing a new record. It carries only the
// signature so it stays far below any broadcast size limit.
type Notice struct {
	Type          string `json:"type"`
	Signature     string `json:"signature"`
	ScriptVersion int64  `json:"scriptVersion"`
}

// Outcome reports a completed save.
type Outcome struct {
	Record       core.ConfigRecord `json:"record"`
	Encoding     core.Encoding     `json:"encoding"`
	Stats        record.Stats      `json:"stats"`
	Broadcasted  bool              `json:"broadcasted"`
	BroadcastErr string            `json:"broadcastError,omitempty"`
}

type Publisher struct {
	adapter channel.Adapter
	builder *record.Builder

	save    sync.Mutex
	mu      sync.Mutex
	onSaved func(Outcome)
	logger  *slog.Logger
}

func New(adapter channel.Adapter, builder *record.Builder) *Publisher {
	return &Publisher{adapter: adapter, builder: builder}
}

// SetLogger overrides slog.Default.
func (p *Publisher) SetLogger(l *slog.Logger) {
	p.mu.Lock()
	p.logger = l
	p.mu.Unlock()
}

// SetOnSaved registers a hook called after every successful save.
func (p *Publisher) SetOnSaved(fn func(Outcome)) {
	p.mu.Lock()
	p.onSaved = fn
	p.mu.Unlock()
}

// Save persists sel (with raw as the body for custom selections). Write
// errors are returned as is; a failed broadcast is only reported.
func (p *Publisher) Save(ctx context.Context, sel core.Selection, raw []byte) (Outcome, error) {
	if !p.save.TryLock() {
		return Outcome{}, ErrSaveInFlight
	}
	defer p.save.Unlock()

	built, err := p.builder.BuildRaw(sel, raw)
	if err != nil {
		return Outcome{}, err
	}
	trace := synctrace.New("admin", string(built.Record.Signature()), string(built.Encoding))
	defer trace.Log(p.log(), "publisher: save")

	// overflow first, so a viewer that sees the new record can already
	// find its tail
	if built.Global != nil {
		if err := p.adapter.SetSegment(ctx, core.Global, built.GlobalJSON); err != nil {
			return Outcome{}, fmt.Errorf("write global segment: %w", err)
		}
		trace.Inc(synctrace.StageWrittenGlobal)
	}
	if err := p.adapter.SetSegment(ctx, core.Broadcaster, built.RecordJSON); err != nil {
		return Outcome{}, fmt.Errorf("write broadcaster segment: %w", err)
	}
	trace.Inc(synctrace.StageWrittenBroadcaster)

	out := Outcome{Record: built.Record, Encoding: built.Encoding, Stats: built.Stats}
	notice, _ := json.Marshal(Notice{
		Type:          "config",
		Signature:     string(built.Record.Signature()),
		ScriptVersion: built.Record.ScriptVersion,
	})
	if err := p.adapter.Broadcast(ctx, string(notice)); err != nil {
		p.log().Warn("publisher: broadcast failed", "err", err)
		out.BroadcastErr = err.Error()
	} else {
		out.Broadcasted = true
		trace.Inc(synctrace.StageBroadcast)
	}

	p.log().Info("publisher: saved",
		"selected", built.Record.SelectedScript,
		"encoding", built.Encoding,
		"original", built.Stats.OriginalLength,
		"compressed", built.Stats.CompressedLength,
		"mode", built.Stats.Mode,
	)

	p.mu.Lock()
	hook := p.onSaved
	p.mu.Unlock()
	if hook != nil {
		hook(out)
	}
	return out, nil
}

// Current reads back the stored broadcaster record.
func (p *Publisher) Current(ctx context.Context) (core.ConfigRecord, error) {
	raw, err := p.adapter.GetSegment(ctx, core.Broadcaster)
	if err != nil {
		return core.ConfigRecord{}, fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	return record.Parse(raw)
}

func (p *Publisher) log() *slog.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}
