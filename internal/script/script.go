// Package script validates and normalizes script bodies: JSON arrays of role
// entries, each an object with a non-empty string "id".
package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf16"
)

// ValidationError names the first offending entry. Index is -1 when the
// body as a whole is malformed.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return "script: " + e.Reason
	}
	return fmt.Sprintf("script: entry %d: %s", e.Index, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Body is a validated script in normalized form.
type Body struct {
	Text string
	IDs  []string
}

func (b Body) Len() int { return len(b.Text) }

// Hash returns the rolling hash of the normalized text.
func (b Body) Hash() string { return Hash(b.Text) }

// Parse validates raw JSON and returns its compact form. Element and key
// order are preserved.
func Parse(raw []byte) (Body, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Body{}, &ValidationError{Index: -1, Reason: "empty body"}
	}
	if raw[0] != '[' {
		return Body{}, &ValidationError{Index: -1, Reason: "body must be a JSON array"}
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return Body{}, &ValidationError{Index: -1, Reason: "invalid JSON: " + err.Error()}
	}

	ids := make([]string, 0, len(entries))
	for i, entry := range entries {
		id, reason := entryID(entry)
		if reason != "" {
			return Body{}, &ValidationError{Index: i, Reason: reason}
		}
		ids = append(ids, id)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Body{}, &ValidationError{Index: -1, Reason: "invalid JSON: " + err.Error()}
	}
	return Body{Text: buf.String(), IDs: ids}, nil
}

// ParseString is Parse for text input.
func ParseString(text string) (Body, error) {
	return Parse([]byte(text))
}

func entryID(entry json.RawMessage) (string, string) {
	trimmed := bytes.TrimSpace(entry)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", "entry must be an object"
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return "", "entry must be an object"
	}
	rawID, ok := fields["id"]
	if !ok {
		return "", `missing "id"`
	}
	var id string
	if err := json.Unmarshal(rawID, &id); err != nil {
		return "", `"id" must be a string`
	}
	if id == "" {
		return "", `"id" must not be empty`
	}
	return id, ""
}

// Hash is a base-31 rolling hash over UTF-16 code units with int32
// wraparound, rendered as unsigned hex. It is a change signal, not an
// integrity guarantee.
func Hash(text string) string {
	var h int32
	for _, r := range text {
		if r1, r2 := utf16.EncodeRune(r); r1 != '�' {
			h = h*31 + r1
			h = h*31 + r2
			continue
		}
		h = h*31 + r
	}
	return strconv.FormatUint(uint64(uint32(h)), 16)
}
