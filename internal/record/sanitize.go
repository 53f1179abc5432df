package record

import (
	"encoding/json"
	"strings"

	"github.com/you/grimoire-overlay/internal/core"
)

// DefaultSanitizeThreshold is the payload size above which cached records
// drop their payload fields.
const DefaultSanitizeThreshold = 512

// Sanitize strips payload fields longer than threshold. Metadata, including
// the hash used to match cached bodies, is kept.
func Sanitize(rec core.ConfigRecord, threshold int) core.ConfigRecord {
	if threshold <= 0 {
		threshold = DefaultSanitizeThreshold
	}
	if len(rec.CustomJSON) > threshold {
		rec.CustomJSON = ""
	}
	if len(rec.CompressedJSON) > threshold {
		rec.CompressedJSON = ""
	}
	if len(rec.CompressedJSONHead) > threshold {
		rec.CompressedJSONHead = ""
	}
	return rec
}

// Parse decodes a broadcaster segment. Empty input is an empty record.
func Parse(text string) (core.ConfigRecord, error) {
	var rec core.ConfigRecord
	if strings.TrimSpace(text) == "" {
		return rec, nil
	}
	err := json.Unmarshal([]byte(text), &rec)
	return rec, err
}

// ParseGlobal decodes a global segment.
func ParseGlobal(text string) (core.GlobalSegment, error) {
	var g core.GlobalSegment
	if strings.TrimSpace(text) == "" {
		return g, nil
	}
	err := json.Unmarshal([]byte(text), &g)
	return g, err
}
