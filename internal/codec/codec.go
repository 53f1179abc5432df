// Package codec turns script text into a transport-safe base64 payload and
// back. The compression mode always travels next to the payload so the
// decoder never has to guess.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"
)

const (
	// ModeGzip is the default mode for new records.
	ModeGzip = "gzip/base64"
	// ModeLZW is the dependency-free fallback. The label predates the LZW
	// implementation and is kept for compatibility with stored records.
	ModeLZW = "lzma/base64"
	// ModeZstd is accepted on read and can be enabled for writes.
	ModeZstd = "zstd/base64"

	DefaultMode = ModeGzip

	// maxDecodedSize bounds decompression output.
	maxDecodedSize = 8 << 20
)

var (
	ErrUnsupportedMode = errors.New("codec: unsupported mode")
	ErrTooLarge        = errors.New("codec: decoded payload exceeds limit")
)

// Backend is a single compression algorithm.
type Backend interface {
	Mode() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// Result describes a compressed payload.
type Result struct {
	Payload          string
	Mode             string
	OriginalLength   int
	CompressedLength int // base64 characters
	CompressedBytes  int
}

// DecodeError reports a payload that is not valid for its declared mode.
type DecodeError struct {
	Mode string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode %s: %v", e.Mode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Codec compresses with the first working encoder and decompresses with any
// known backend.
type Codec struct {
	encoders []Backend
	decoders map[string]Backend
}

// New builds a Codec that prefers encoders in the given order. Every
// built-in backend stays available for decoding regardless of the list.
func New(encoders ...Backend) *Codec {
	c := &Codec{
		encoders: append([]Backend(nil), encoders...),
		decoders: make(map[string]Backend),
	}
	for _, b := range []Backend{Gzip{}, LZW{}, Zstd{}} {
		c.decoders[b.Mode()] = b
	}
	for _, b := range encoders {
		if b != nil {
			c.decoders[b.Mode()] = b
		}
	}
	return c
}

// Default prefers gzip and falls back to LZW.
func Default() *Codec {
	return New(Gzip{}, LZW{})
}

// ForMode returns a codec whose preferred encoder is mode, keeping LZW as
// the fallback. Unknown modes yield the default codec.
func ForMode(mode string) *Codec {
	switch mode {
	case ModeZstd:
		return New(Zstd{}, LZW{})
	case ModeLZW:
		return New(LZW{})
	default:
		return Default()
	}
}

// Compress returns nil when no encoder could produce a payload; callers
// must keep an uncompressed path.
func (c *Codec) Compress(text string) *Result {
	if c == nil {
		return nil
	}
	src := []byte(text)
	for _, b := range c.encoders {
		if b == nil {
			continue
		}
		if len(src) == 0 {
			return &Result{Mode: b.Mode()}
		}
		out, err := b.Encode(src)
		if err != nil {
			slog.Warn("codec: encoder failed, trying next", "mode", b.Mode(), "err", err)
			continue
		}
		payload := base64.StdEncoding.EncodeToString(out)
		return &Result{
			Payload:          payload,
			Mode:             b.Mode(),
			OriginalLength:   len(src),
			CompressedLength: len(payload),
			CompressedBytes:  len(out),
		}
	}
	return nil
}

// Decompress inverts Compress. An empty mode means DefaultMode. Unknown
// modes are retried as DefaultMode before giving up.
func (c *Codec) Decompress(payload, mode string) (string, error) {
	if payload == "" {
		return "", nil
	}
	if mode == "" {
		mode = DefaultMode
	}
	if c == nil {
		c = Default()
	}
	b, ok := c.decoders[mode]
	if !ok {
		text, err := c.decodeWith(c.decoders[DefaultMode], payload)
		if err != nil {
			return "", &DecodeError{Mode: mode, Err: fmt.Errorf("%w; default mode retry: %v", ErrUnsupportedMode, err)}
		}
		return text, nil
	}
	text, err := c.decodeWith(b, payload)
	if err != nil {
		return "", &DecodeError{Mode: mode, Err: err}
	}
	return text, nil
}

func (c *Codec) decodeWith(b Backend, payload string) (string, error) {
	if b == nil {
		return "", ErrUnsupportedMode
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("base64: %w", err)
	}
	out, err := b.Decode(raw)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(out) {
		return "", errors.New("decoded text is not valid UTF-8")
	}
	return string(out), nil
}
