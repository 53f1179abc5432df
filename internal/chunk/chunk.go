// Package chunk slices transport payloads into bounded pieces.
//
// Payloads are base64 text, so slicing by byte never splits a rune.
package chunk

import "strings"

// Split cuts text into consecutive pieces of at most max bytes. Empty text
// yields nil; max <= 0 yields the whole text as one piece.
func Split(text string, max int) []string {
	if text == "" {
		return nil
	}
	if max <= 0 || len(text) <= max {
		return []string{text}
	}
	out := make([]string, 0, (len(text)+max-1)/max)
	for len(text) > max {
		out = append(out, text[:max])
		text = text[max:]
	}
	return append(out, text)
}

// Join is the inverse of Split.
func Join(chunks []string) string {
	return strings.Join(chunks, "")
}
