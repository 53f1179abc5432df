package core

import (
	"fmt"
	"strconv"
)

// CustomSentinel marks a record whose script travels in the record itself.
const CustomSentinel = "__custom__"

// ChannelKind names one of the two storage segments.
type ChannelKind string

const (
	Broadcaster ChannelKind = "broadcaster"
	Global      ChannelKind = "global"
)

func (k ChannelKind) Valid() bool { return k == Broadcaster || k == Global }

// ParseChannelKind accepts "broadcaster" or "global".
func ParseChannelKind(s string) (ChannelKind, error) {
	k := ChannelKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown channel kind %q", s)
	}
	return k, nil
}

// SelectionKind tags a Selection.
type SelectionKind int

const (
	SelectNone SelectionKind = iota
	SelectBuiltin
	SelectCustomNew
	SelectCustomSaved
)

// Selection is what the admin panel currently has picked. It only lives for
// an editing session.
type Selection struct {
	Kind SelectionKind
	File string // builtin file name
	Name string // custom label
}

func None() Selection                   { return Selection{} }
func Builtin(file string) Selection     { return Selection{Kind: SelectBuiltin, File: file} }
func CustomNew() Selection              { return Selection{Kind: SelectCustomNew} }
func CustomSaved(name string) Selection { return Selection{Kind: SelectCustomSaved, Name: name} }

func (s Selection) IsCustom() bool {
	return s.Kind == SelectCustomNew || s.Kind == SelectCustomSaved
}

// ScriptField is the selectedScript value stored for s.
func (s Selection) ScriptField() string {
	switch s.Kind {
	case SelectBuiltin:
		return s.File
	case SelectCustomNew, SelectCustomSaved:
		return CustomSentinel
	}
	return ""
}

// ConfigRecord is the JSON document stored in the broadcaster segment.
// At most one payload encoding is set.
type ConfigRecord struct {
	SelectedScript   string `json:"selectedScript,omitempty"`
	CustomName       string `json:"customName,omitempty"`
	ScriptVersion    int64  `json:"scriptVersion,omitempty"`
	ScriptHash       string `json:"scriptHash,omitempty"`
	CustomJSONLength int    `json:"customJsonLength,omitempty"`

	CustomJSON string `json:"customJson,omitempty"`

	CompressedJSON  string `json:"compressedJson,omitempty"`
	CompressionMode string `json:"compressionMode,omitempty"`

	CompressedJSONHead string `json:"compressedJsonHead,omitempty"`
	ExtraChunkID       string `json:"extraChunkId,omitempty"`
	CompressedLength   int    `json:"compressedLength,omitempty"`

	Timestamp int64 `json:"_timestamp,omitempty"`
}

// Encoding names the payload layout of a record.
type Encoding string

const (
	EncodingNone       Encoding = "none"
	EncodingInline     Encoding = "inline"
	EncodingCompressed Encoding = "compressed"
	EncodingDual       Encoding = "dual"
)

func (r ConfigRecord) IsCustom() bool { return r.SelectedScript == CustomSentinel }

// Encoding reports the payload layout. Dual wins over compressed wins over
// inline when a malformed record sets several.
func (r ConfigRecord) Encoding() Encoding {
	switch {
	case r.CompressedJSONHead != "" || r.ExtraChunkID != "":
		return EncodingDual
	case r.CompressedJSON != "":
		return EncodingCompressed
	case r.CustomJSON != "":
		return EncodingInline
	}
	return EncodingNone
}

// Signature identifies a record for change detection.
type Signature string

func (r ConfigRecord) Signature() Signature {
	return Signature(r.SelectedScript + "|" +
		strconv.FormatInt(r.ScriptVersion, 10) + "|" +
		r.ScriptHash + "|" +
		strconv.Itoa(r.CustomJSONLength))
}

// GlobalSegment carries the overflow of a dual-segment record.
type GlobalSegment struct {
	ExtraChunkID       string `json:"extraChunkId"`
	ScriptVersion      int64  `json:"scriptVersion"`
	CompressedJSONTail string `json:"compressedJsonTail"`
}

// Matches reports whether g belongs to r.
func (g GlobalSegment) Matches(r ConfigRecord) bool {
	return g.ExtraChunkID != "" && g.ExtraChunkID == r.ExtraChunkID && g.ScriptVersion == r.ScriptVersion
}
