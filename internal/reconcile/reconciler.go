// Package reconcile turns whatever a channel holds into a script body. It
// never fails: when the record cannot be decoded it falls back to the
// cache and finally to the default script.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/you/grimoire-overlay/internal/channel"
	"github.com/you/grimoire-overlay/internal/chunk"
	"github.com/you/grimoire-overlay/internal/codec"
	"github.com/you/grimoire-overlay/internal/core"
	"github.com/you/grimoire-overlay/internal/record"
	"github.com/you/grimoire-overlay/internal/script"
	"github.com/you/grimoire-overlay/internal/synctrace"
)

// Source says where a Result came from.
type Source string

const (
	SourceBuiltin    Source = "builtin"
	SourceInline     Source = "inline"
	SourceCompressed Source = "compressed"
	SourceDual       Source = "dual"
	SourceCacheHash  Source = "cache_hash"
	SourceCacheLast  Source = "cache_last"
	SourceDefault    Source = "default"
)

// Primary reports whether s decoded the record itself rather than a
// fallback.
func (s Source) Primary() bool {
	switch s {
	case SourceBuiltin, SourceInline, SourceCompressed, SourceDual:
		return true
	}
	return false
}

var (
	ErrStaleOverflow  = errors.New("reconcile: global segment belongs to another record")
	ErrLengthMismatch = errors.New("reconcile: joined payload length mismatch")
	ErrHashMismatch   = errors.New("reconcile: body hash mismatch")
	ErrNoPayload      = errors.New("reconcile: record has no payload")
)

// Segments is the read side of channel.Adapter.
type Segments interface {
	GetSegment(ctx context.Context, kind core.ChannelKind) (string, error)
}

// Cache is the warm-start store. cache.Store implements it.
type Cache interface {
	SaveRecord(ctx context.Context, rec core.ConfigRecord) error
	LoadRecord(ctx context.Context) (core.ConfigRecord, bool, error)
	PutBody(ctx context.Context, hash string, version int64, text string) error
	BodyByHash(ctx context.Context, hash string) (string, bool, error)
	LastBody(ctx context.Context) (string, bool, error)
}

// Result is a reconciled body. Err holds the failure that forced a
// fallback, if any.
type Result struct {
	Body   script.Body
	Source Source
	Record core.ConfigRecord
	Err    error
}

type Reconciler struct {
	Channel Segments
	Codec   *codec.Codec
	Library *script.Library
	Cache   Cache
	Metrics *Metrics
	Logger  *slog.Logger
}

// Fetch reads the broadcaster record. When the channel cannot be read the
// cached record is returned together with an error wrapping
// channel.ErrUnavailable.
func (r *Reconciler) Fetch(ctx context.Context) (core.ConfigRecord, error) {
	var fetchErr error
	if r.Channel != nil {
		raw, err := r.Channel.GetSegment(ctx, core.Broadcaster)
		if err == nil {
			rec, perr := record.Parse(raw)
			if perr == nil {
				return rec, nil
			}
			fetchErr = &codec.DecodeError{Mode: "json", Err: perr}
		} else {
			fetchErr = fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
		}
	} else {
		fetchErr = channel.ErrUnavailable
	}
	if r.Cache != nil {
		if rec, ok, err := r.Cache.LoadRecord(ctx); err == nil && ok {
			return rec, fetchErr
		}
	}
	return core.ConfigRecord{}, fetchErr
}

// Resolve reconstructs the body for rec, falling back as needed.
func (r *Reconciler) Resolve(ctx context.Context, rec core.ConfigRecord) Result {
	trace := synctrace.New("viewer", string(rec.Signature()), string(rec.Encoding()))
	res := r.resolve(ctx, rec, trace, true)
	r.Metrics.ObserveResolve(res.Source)
	switch {
	case errors.Is(res.Err, ErrNoPayload):
		r.logger().Debug("reconcile: no record, using fallback", "source", res.Source)
	case res.Err != nil:
		r.logger().Warn("reconcile: fell back", "source", res.Source, "err", res.Err)
	}
	trace.Log(r.Logger, "reconcile: resolved")
	return res
}

// Peek runs the same chain as Resolve but leaves the cache and metrics
// untouched.
func (r *Reconciler) Peek(ctx context.Context, rec core.ConfigRecord) Result {
	trace := synctrace.New("peek", string(rec.Signature()), string(rec.Encoding()))
	return r.resolve(ctx, rec, trace, false)
}

func (r *Reconciler) resolve(ctx context.Context, rec core.ConfigRecord, trace *synctrace.Trace, store bool) Result {
	body, src, err := r.primary(ctx, rec, trace)
	if err == nil {
		trace.Inc(synctrace.StageValidated)
		if store {
			r.remember(ctx, rec, body, src, trace)
		}
		return Result{Body: body, Source: src, Record: rec}
	}
	return r.fallback(ctx, rec, err, trace)
}

func (r *Reconciler) primary(ctx context.Context, rec core.ConfigRecord, trace *synctrace.Trace) (script.Body, Source, error) {
	switch rec.Encoding() {
	case core.EncodingInline:
		body, err := r.verify(rec, rec.CustomJSON)
		return body, SourceInline, err
	case core.EncodingCompressed:
		text, err := r.codec().Decompress(rec.CompressedJSON, rec.CompressionMode)
		if err != nil {
			return script.Body{}, SourceCompressed, err
		}
		trace.Inc(synctrace.StageDecoded)
		body, err := r.verify(rec, text)
		return body, SourceCompressed, err
	case core.EncodingDual:
		body, err := r.dual(ctx, rec, trace)
		return body, SourceDual, err
	}
	if rec.SelectedScript != "" && !rec.IsCustom() {
		body, err := r.library().Load(rec.SelectedScript)
		return body, SourceBuiltin, err
	}
	return script.Body{}, "", ErrNoPayload
}

func (r *Reconciler) dual(ctx context.Context, rec core.ConfigRecord, trace *synctrace.Trace) (script.Body, error) {
	if r.Channel == nil {
		return script.Body{}, channel.ErrUnavailable
	}
	raw, err := r.Channel.GetSegment(ctx, core.Global)
	if err != nil {
		return script.Body{}, fmt.Errorf("%w: global: %v", channel.ErrUnavailable, err)
	}
	trace.Inc(synctrace.StageFetchedGlobal)
	g, err := record.ParseGlobal(raw)
	if err != nil {
		return script.Body{}, &codec.DecodeError{Mode: "json", Err: err}
	}
	if !g.Matches(rec) {
		return script.Body{}, fmt.Errorf("%w: have %q@%d, want %q@%d",
			ErrStaleOverflow, g.ExtraChunkID, g.ScriptVersion, rec.ExtraChunkID, rec.ScriptVersion)
	}
	joined := chunk.Join([]string{rec.CompressedJSONHead, g.CompressedJSONTail})
	if rec.CompressedLength > 0 && len(joined) != rec.CompressedLength {
		return script.Body{}, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(joined), rec.CompressedLength)
	}
	text, err := r.codec().Decompress(joined, rec.CompressionMode)
	if err != nil {
		return script.Body{}, err
	}
	trace.Inc(synctrace.StageDecoded)
	return r.verify(rec, text)
}

// verify parses text and checks it against the record's hash when present.
// Legacy records without a hash pass on shape alone.
func (r *Reconciler) verify(rec core.ConfigRecord, text string) (script.Body, error) {
	body, err := script.ParseString(text)
	if err != nil {
		return script.Body{}, err
	}
	if rec.ScriptHash != "" && body.Hash() != rec.ScriptHash {
		return script.Body{}, fmt.Errorf("%w: got %s want %s", ErrHashMismatch, body.Hash(), rec.ScriptHash)
	}
	return body, nil
}

func (r *Reconciler) fallback(ctx context.Context, rec core.ConfigRecord, cause error, trace *synctrace.Trace) Result {
	if r.Cache != nil {
		if rec.ScriptHash != "" {
			if text, ok, err := r.Cache.BodyByHash(ctx, rec.ScriptHash); err == nil && ok {
				if body, err := script.ParseString(text); err == nil {
					trace.Inc(synctrace.StageFallback(string(SourceCacheHash)))
					return Result{Body: body, Source: SourceCacheHash, Record: rec, Err: cause}
				}
			}
		}
		if text, ok, err := r.Cache.LastBody(ctx); err == nil && ok {
			if body, err := script.ParseString(text); err == nil {
				trace.Inc(synctrace.StageFallback(string(SourceCacheLast)))
				return Result{Body: body, Source: SourceCacheLast, Record: rec, Err: cause}
			}
		}
	}
	trace.Inc(synctrace.StageFallback(string(SourceDefault)))
	body, err := r.library().Load(script.DefaultName)
	if err != nil {
		body = script.Default()
	}
	return Result{Body: body, Source: SourceDefault, Record: rec, Err: cause}
}

func (r *Reconciler) remember(ctx context.Context, rec core.ConfigRecord, body script.Body, src Source, trace *synctrace.Trace) {
	if r.Cache == nil {
		return
	}
	hash := rec.ScriptHash
	if hash == "" {
		hash = body.Hash()
	}
	if err := r.Cache.PutBody(ctx, hash, rec.ScriptVersion, body.Text); err != nil {
		r.logger().Warn("reconcile: cache body failed", "err", err)
		return
	}
	if err := r.Cache.SaveRecord(ctx, rec); err != nil {
		r.logger().Warn("reconcile: cache record failed", "err", err)
		return
	}
	trace.Inc(synctrace.StageCached)
}

func (r *Reconciler) codec() *codec.Codec {
	if r.Codec == nil {
		return codec.Default()
	}
	return r.Codec
}

func (r *Reconciler) library() *script.Library {
	if r.Library == nil {
		return script.NewLibrary("")
	}
	return r.Library
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
