// Package slip implements the byte-stuffed SLIP framing used on the wire
// between the host and an ESP ROM/stub bootloader (spec.md §4.2).
package slip

import "errors"

const (
	end     = 0xC0
	esc     = 0xDB
	escEnd  = 0xDC
	escEsc  = 0xDD
)

// ErrDangling is returned when a frame ends mid-escape (a trailing 0xDB
// with nothing, or an invalid byte, following it).
var ErrDangling = errors.New("slip: dangling escape byte")

// ErrUnterminated is returned when the input ends before a terminating
// 0xC0 is seen.
var ErrUnterminated = errors.New("slip: frame not terminated")

// Encode returns data framed per spec.md §4.2: a leading 0xC0, 0xDB bytes
// escaped to {0xDB,0xDD}, 0xC0 bytes escaped to {0xDB,0xDC}, and a trailing
// 0xC0.
func Encode(data []byte) []byte {
	out := make([]byte, 0, len(data)+2)
	out = append(out, end)
	for _, b := range data {
		switch b {
		case esc:
			out = append(out, esc, escEsc)
		case end:
			out = append(out, esc, escEnd)
		default:
			out = append(out, b)
		}
	}
	out = append(out, end)
	return out
}

// Decode reverses Encode. It tolerates any leading garbage before the
// first 0xC0 (unsolicited ROM chatter during reset, per spec.md §4.2) and
// requires the frame to be terminated by a trailing 0xC0 that is not
// itself escaped.
//
// Decode returns the decoded payload and the number of input bytes
// consumed (through and including the terminating 0xC0), so callers can
// pull one frame at a time out of a longer byte stream.
func Decode(in []byte) (payload []byte, consumed int, err error) {
	start := 0
	for start < len(in) && in[start] != end {
		start++
	}
	if start >= len(in) {
		return nil, 0, ErrUnterminated
	}
	i := start + 1
	out := make([]byte, 0, len(in)-i)
	for i < len(in) {
		b := in[i]
		switch {
		case b == end:
			return out, i + 1, nil
		case b == esc:
			i++
			if i >= len(in) {
				return nil, 0, ErrDangling
			}
			switch in[i] {
			case escEnd:
				out = append(out, end)
			case escEsc:
				out = append(out, esc)
			default:
				return nil, 0, ErrDangling
			}
			i++
		default:
			out = append(out, b)
			i++
		}
	}
	return nil, 0, ErrUnterminated
}

// DecodeAll decodes every complete frame found in in, returning the
// decoded payloads in order and the count of trailing bytes that did not
// form a complete frame (kept by the caller for the next read).
func DecodeAll(in []byte) (frames [][]byte, remainder int) {
	pos := 0
	for pos < len(in) {
		payload, consumed, err := Decode(in[pos:])
		if err != nil {
			return frames, len(in) - pos
		}
		frames = append(frames, payload)
		pos += consumed
	}
	return frames, 0
}
