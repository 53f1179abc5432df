package codec

import (
	"errors"
	"fmt"
)

const (
	lzwEOF          = 256
	lzwFirstCode    = 257
	lzwInitialWidth = 9
	lzwMaxWidth     = 16
	lzwMaxCodes     = 1 << lzwMaxWidth
)

var (
	errLZWTruncated = errors.New("lzw: stream ended before EOF code")
	errLZWBadCode   = errors.New("lzw: invalid code")
)

// LZW is a byte-oriented LZW with a 9..16 bit adaptive code width and an
// explicit EOF code. It needs no third-party primitive, so it is always
// available as the fallback encoder.
type LZW struct{}

func (LZW) Mode() string { return ModeLZW }

func (LZW) Encode(src []byte) ([]byte, error) {
	return lzwEncode(src), nil
}

func (LZW) Decode(src []byte) ([]byte, error) {
	return lzwDecode(src)
}

// widthSchedule is shared by encoder and decoder. It advances once per
// non-EOF code, so both sides always agree on the width of the next code.
type widthSchedule struct {
	next  int
	width uint
}

func newWidthSchedule() widthSchedule {
	return widthSchedule{next: lzwFirstCode, width: lzwInitialWidth}
}

func (s *widthSchedule) full() bool { return s.next >= lzwMaxCodes }

func (s *widthSchedule) advance() {
	if s.full() {
		return
	}
	s.next++
	if s.next == 1<<s.width && s.width < lzwMaxWidth {
		s.width++
	}
}

func lzwEncode(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	// key: prefix code << 8 | next byte
	dict := make(map[uint32]int, 4096)
	sched := newWidthSchedule()
	var bw bitWriter

	code := int(src[0])
	for _, b := range src[1:] {
		key := uint32(code)<<8 | uint32(b)
		if known, ok := dict[key]; ok {
			code = known
			continue
		}
		bw.write(code, sched.width)
		if !sched.full() {
			dict[key] = sched.next
		}
		sched.advance()
		code = int(b)
	}
	bw.write(code, sched.width)
	sched.advance()
	bw.write(lzwEOF, sched.width)
	return bw.bytes()
}

func lzwDecode(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	br := bitReader{buf: src}
	sched := newWidthSchedule()

	first, ok := br.read(sched.width)
	if !ok {
		return nil, errLZWTruncated
	}
	if first == lzwEOF {
		return nil, nil
	}
	if first > 0xff {
		return nil, fmt.Errorf("%w: first code %d", errLZWBadCode, first)
	}
	sched.advance()

	table := make([][]byte, lzwFirstCode, 4096)
	for i := 0; i < 256; i++ {
		table[i] = []byte{byte(i)}
	}

	prev := table[first]
	out := append([]byte(nil), prev...)
	for {
		code, ok := br.read(sched.width)
		if !ok {
			return nil, errLZWTruncated
		}
		if code == lzwEOF {
			return out, nil
		}

		var entry []byte
		switch {
		case code < len(table) && table[code] != nil:
			entry = table[code]
		case code == len(table):
			// the code being defined right now: prev + prev[0]
			entry = append(append(make([]byte, 0, len(prev)+1), prev...), prev[0])
		default:
			return nil, fmt.Errorf("%w: %d (next %d)", errLZWBadCode, code, len(table))
		}
		if len(out)+len(entry) > maxDecodedSize {
			return nil, ErrTooLarge
		}
		out = append(out, entry...)

		if len(table) < lzwMaxCodes {
			table = append(table, append(append(make([]byte, 0, len(prev)+1), prev...), entry[0]))
		}
		sched.advance()
		prev = entry
	}
}

// bitWriter packs codes MSB first.
type bitWriter struct {
	out []byte
	acc uint32
	n   uint
}

func (w *bitWriter) write(code int, width uint) {
	w.acc = w.acc<<width | uint32(code)
	w.n += width
	for w.n >= 8 {
		w.n -= 8
		w.out = append(w.out, byte(w.acc>>w.n))
		w.acc &= 1<<w.n - 1
	}
}

func (w *bitWriter) bytes() []byte {
	if w.n > 0 {
		w.out = append(w.out, byte(w.acc<<(8-w.n)))
		w.acc, w.n = 0, 0
	}
	return w.out
}

type bitReader struct {
	buf []byte
	pos int
	acc uint32
	n   uint
}

func (r *bitReader) read(width uint) (int, bool) {
	for r.n < width {
		if r.pos >= len(r.buf) {
			return 0, false
		}
		r.acc = r.acc<<8 | uint32(r.buf[r.pos])
		r.pos++
		r.n += 8
	}
	r.n -= width
	v := int(r.acc>>r.n) & (1<<width - 1)
	r.acc &= 1<<r.n - 1
	return v, true
}
