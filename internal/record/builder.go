// Package record builds the broadcaster (and, for oversized scripts, global)
// segment documents for a script selection.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you/grimoire-overlay/internal/chunk"
	"github.com/you/grimoire-overlay/internal/codec"
	"github.com/you/grimoire-overlay/internal/core"
	"github.com/you/grimoire-overlay/internal/script"
)

// DefaultCapacity is the Twitch extension configuration segment limit.
const DefaultCapacity = 5120

var (
	ErrPayloadTooLarge = errors.New("record: payload too large")
	ErrNoSelection     = errors.New("record: nothing selected")
)

// PayloadTooLargeError reports a script that does not fit even compressed
// across both segments.
type PayloadTooLargeError struct {
	OriginalLength   int
	CompressedLength int // 0 when no codec produced output
	Capacity         int // combined capacity of both segments
}

func (e *PayloadTooLargeError) Error() string {
	if e.CompressedLength == 0 {
		return fmt.Sprintf("record: script is %d bytes and could not be compressed below %d bytes", e.OriginalLength, e.Capacity)
	}
	return fmt.Sprintf("record: script compresses %d -> %d bytes, over the %d byte limit of two segments",
		e.OriginalLength, e.CompressedLength, e.Capacity)
}

func (e *PayloadTooLargeError) Is(target error) bool { return target == ErrPayloadTooLarge }

// Stats describes the compression outcome of a build.
type Stats struct {
	OriginalLength   int    `json:"originalLength"`
	CompressedLength int    `json:"compressedLength,omitempty"`
	Mode             string `json:"mode,omitempty"`
}

// Built is a record ready to persist. Global is nil unless Encoding is dual.
type Built struct {
	Record     core.ConfigRecord
	Global     *core.GlobalSegment
	Encoding   core.Encoding
	Stats      Stats
	RecordJSON string
	GlobalJSON string
}

// Builder picks the cheapest encoding that fits: inline, then one compressed
// segment, then compressed across both segments.
type Builder struct {
	Capacity       int
	GlobalCapacity int
	Codec          *codec.Codec
	Now            func() time.Time
	NewID          func() string

	mu          sync.Mutex
	lastVersion int64
}

func NewBuilder(c *codec.Codec) *Builder {
	return &Builder{
		Capacity:       DefaultCapacity,
		GlobalCapacity: DefaultCapacity,
		Codec:          c,
	}
}

// BuildRaw validates raw as a script body before building.
func (b *Builder) BuildRaw(sel core.Selection, raw []byte) (Built, error) {
	if !sel.IsCustom() {
		return b.Build(sel, script.Body{})
	}
	body, err := script.Parse(raw)
	if err != nil {
		return Built{}, err
	}
	return b.Build(sel, body)
}

// Build produces the record for sel. body is ignored for builtin selections.
func (b *Builder) Build(sel core.Selection, body script.Body) (Built, error) {
	switch {
	case sel.Kind == core.SelectBuiltin:
		if !script.ValidName(sel.File) {
			return Built{}, fmt.Errorf("%w: %q", script.ErrInvalidName, sel.File)
		}
		version := b.nextVersion()
		rec := core.ConfigRecord{
			SelectedScript: sel.File,
			ScriptVersion:  version,
			Timestamp:      version,
		}
		return b.finish(rec, core.EncodingNone, Stats{})
	case sel.IsCustom():
		return b.buildCustom(sel, body)
	}
	return Built{}, ErrNoSelection
}

func (b *Builder) buildCustom(sel core.Selection, body script.Body) (Built, error) {
	if body.Text == "" {
		return Built{}, &script.ValidationError{Index: -1, Reason: "empty body"}
	}
	version := b.nextVersion()
	base := core.ConfigRecord{
		SelectedScript:   core.CustomSentinel,
		ScriptVersion:    version,
		ScriptHash:       body.Hash(),
		CustomJSONLength: body.Len(),
		Timestamp:        version,
	}
	if sel.Kind == core.SelectCustomSaved {
		base.CustomName = sel.Name
	}
	stats := Stats{OriginalLength: body.Len()}
	capacity := b.capacity()

	inline := base
	inline.CustomJSON = body.Text
	if fits(inline, capacity) {
		return b.finish(inline, core.EncodingInline, stats)
	}

	res := b.codec().Compress(body.Text)
	if res == nil {
		return Built{}, &PayloadTooLargeError{OriginalLength: body.Len(), Capacity: capacity + b.globalCapacity()}
	}
	stats.CompressedLength = res.CompressedLength
	stats.Mode = res.Mode

	single := base
	single.CompressedJSON = res.Payload
	single.CompressionMode = res.Mode
	if fits(single, capacity) {
		return b.finish(single, core.EncodingCompressed, stats)
	}

	tooLarge := &PayloadTooLargeError{
		OriginalLength:   body.Len(),
		CompressedLength: res.CompressedLength,
		Capacity:         capacity + b.globalCapacity(),
	}

	dual := base
	dual.CompressionMode = res.Mode
	dual.ExtraChunkID = strconv.FormatInt(version, 10) + "-" + b.newID()
	dual.CompressedLength = res.CompressedLength
	dual.CompressedJSONHead = "x"
	headCap := capacity - (marshaledLen(dual) - 1)
	if headCap <= 0 {
		return Built{}, tooLarge
	}
	parts := chunk.Split(res.Payload, headCap)
	dual.CompressedJSONHead = parts[0]
	global := &core.GlobalSegment{
		ExtraChunkID:       dual.ExtraChunkID,
		ScriptVersion:      version,
		CompressedJSONTail: chunk.Join(parts[1:]),
	}
	globalJSON, err := json.Marshal(global)
	if err != nil {
		return Built{}, err
	}
	if len(globalJSON) > b.globalCapacity() || !fits(dual, capacity) {
		return Built{}, tooLarge
	}
	built, err := b.finish(dual, core.EncodingDual, stats)
	if err != nil {
		return Built{}, err
	}
	built.Global = global
	built.GlobalJSON = string(globalJSON)
	return built, nil
}

func (b *Builder) finish(rec core.ConfigRecord, enc core.Encoding, stats Stats) (Built, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return Built{}, err
	}
	return Built{Record: rec, Encoding: enc, Stats: stats, RecordJSON: string(raw)}, nil
}

// nextVersion returns unix milliseconds, bumped so versions strictly
// increase for this Builder.
func (b *Builder) nextVersion() int64 {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	v := now().UnixMilli()
	b.mu.Lock()
	defer b.mu.Unlock()
	if v <= b.lastVersion {
		v = b.lastVersion + 1
	}
	b.lastVersion = v
	return v
}

func (b *Builder) newID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return uuid.NewString()
}

func (b *Builder) codec() *codec.Codec {
	if b.Codec == nil {
		return codec.Default()
	}
	return b.Codec
}

func (b *Builder) capacity() int {
	if b.Capacity <= 0 {
		return DefaultCapacity
	}
	return b.Capacity
}

func (b *Builder) globalCapacity() int {
	if b.GlobalCapacity <= 0 {
		return b.capacity()
	}
	return b.GlobalCapacity
}

func fits(rec core.ConfigRecord, capacity int) bool {
	return marshaledLen(rec) <= capacity
}

func marshaledLen(v any) int {
	raw, err := json.Marshal(v)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return len(raw)
}
