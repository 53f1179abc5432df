package codec

import (
	"encoding/base64"
	"errors"
	"math/rand"
	"strings"
	"testing"
)

var samples = []string{
	"a",
	"abababababababababab",
	`[{"id":"washerwoman"},{"id":"librarian"},{"id":"investigator"}]`,
	"Grüße, 魔導書 and ☾ spirits",
	strings.Repeat(`{"id":"imp","team":"demon"},`, 400),
}

func TestRoundTripBackends(t *testing.T) {
	for _, b := range []Backend{Gzip{}, LZW{}, Zstd{}} {
		c := New(b)
		for _, s := range samples {
			res := c.Compress(s)
			if res == nil {
				t.Fatalf("%s: compress returned nil", b.Mode())
			}
			if res.Mode != b.Mode() {
				t.Fatalf("mode = %q, want %q", res.Mode, b.Mode())
			}
			if res.OriginalLength != len(s) || res.CompressedLength != len(res.Payload) {
				t.Fatalf("%s: lengths %+v", b.Mode(), res)
			}
			got, err := c.Decompress(res.Payload, res.Mode)
			if err != nil {
				t.Fatalf("%s: decompress: %v", b.Mode(), err)
			}
			if got != s {
				t.Fatalf("%s: round trip mismatch for %q", b.Mode(), s)
			}
		}
	}
}

func TestLZWPastDictionaryCap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const alphabet = "abcdefghijklmnopqrstuvwxyz{}[]\":, "
	var sb strings.Builder
	for sb.Len() < 300_000 {
		sb.WriteByte(alphabet[rng.Intn(len(alphabet))])
	}
	text := sb.String()

	enc, err := LZW{}.Encode([]byte(text))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := LZW{}.Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(dec) != text {
		t.Fatalf("round trip mismatch past dictionary cap (len %d vs %d)", len(dec), len(text))
	}
}

func TestLZWKwKwK(t *testing.T) {
	for _, s := range []string{"aaaa", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "abababa"} {
		enc, _ := LZW{}.Encode([]byte(s))
		dec, err := LZW{}.Decode(enc)
		if err != nil || string(dec) != s {
			t.Fatalf("kwkwk %q: got %q err %v", s, dec, err)
		}
	}
}

func TestLZWMissingEOF(t *testing.T) {
	enc, _ := LZW{}.Encode([]byte("washerwoman washerwoman"))
	if _, err := (LZW{}).Decode(enc[:len(enc)-2]); err == nil {
		t.Fatalf("expected error for truncated stream")
	}
}

func TestCompressEmpty(t *testing.T) {
	res := Default().Compress("")
	if res == nil || res.Payload != "" {
		t.Fatalf("empty compress = %+v", res)
	}
	got, err := Default().Decompress("", ModeGzip)
	if err != nil || got != "" {
		t.Fatalf("empty decompress = %q, %v", got, err)
	}
}

func TestCompressNoBackend(t *testing.T) {
	if res := New().Compress("hello"); res != nil {
		t.Fatalf("expected nil result, got %+v", res)
	}
}

type failing struct{}

func (failing) Mode() string                    { return "broken/base64" }
func (failing) Encode([]byte) ([]byte, error)   { return nil, errors.New("boom") }
func (failing) Decode(b []byte) ([]byte, error) { return b, nil }

func TestCompressFallsBackToNextEncoder(t *testing.T) {
	res := New(failing{}, LZW{}).Compress("fallback please")
	if res == nil || res.Mode != ModeLZW {
		t.Fatalf("expected LZW fallback, got %+v", res)
	}
}

func TestDecompressErrors(t *testing.T) {
	c := Default()
	cases := []struct {
		name    string
		payload string
		mode    string
	}{
		{"bad base64", "!!!not base64!!!", ModeGzip},
		{"garbage gzip", base64.StdEncoding.EncodeToString([]byte("not gzip at all")), ModeGzip},
		{"garbage lzw", base64.StdEncoding.EncodeToString([]byte{0xff, 0xff, 0xff}), ModeLZW},
		{"unknown mode", base64.StdEncoding.EncodeToString([]byte("plain")), "brotli/base64"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Decompress(tc.payload, tc.mode)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
			if de.Mode != tc.mode {
				t.Fatalf("mode = %q, want %q", de.Mode, tc.mode)
			}
		})
	}
}

func TestDecompressUnknownModeRetriesDefault(t *testing.T) {
	res := New(Gzip{}).Compress("role list")
	got, err := Default().Decompress(res.Payload, "deflate/base64")
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if got != "role list" {
		t.Fatalf("got %q", got)
	}
}

func TestDecompressEmptyModeMeansDefault(t *testing.T) {
	res := Default().Compress("legacy")
	got, err := Default().Decompress(res.Payload, "")
	if err != nil || got != "legacy" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestForMode(t *testing.T) {
	if got := ForMode(ModeZstd).Compress("x").Mode; got != ModeZstd {
		t.Fatalf("zstd codec used %q", got)
	}
	if got := ForMode("nope").Compress("x").Mode; got != ModeGzip {
		t.Fatalf("default codec used %q", got)
	}
}
