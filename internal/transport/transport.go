// Package transport abstracts the byte-stream endpoint the protocol
// engine talks over: a native serial port or a raw USB-bulk backing
// (spec.md §4.1). The transport never interprets bytes — framing and
// command semantics live entirely above it.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by ReadExactUntil when the timeout elapses
// before the byte count (or predicate) is satisfied.
var ErrTimeout = errors.New("transport: timeout")

// Signals is the DTR/RTS/BREAK line state. Implementations must preserve
// whichever lines a caller does not mention across partial updates: a
// caller that sets only DTR must not cause RTS to flip (spec.md §4.1).
type Signals struct {
	DTR   *bool
	RTS   *bool
	Break *bool
}

// Info reports the USB vendor/product ID of the underlying device, when
// known (used by the reset sequencer and CLI to report what is attached).
type Info struct {
	VID, PID uint16
}

// Transport is the contract every backing (native serial, USB bulk,
// in-memory loopback for tests) must satisfy.
type Transport interface {
	// Open opens the endpoint at the given baud rate (ignored by backings
	// that have no concept of a baud rate, e.g. pure USB bulk).
	Open(baud int) error
	Close() error

	// ReadExactUntil reads until n bytes have been read, until pred
	// (if non-nil) reports the buffer satisfies some condition (e.g. the
	// SLIP terminator has been seen), or until the deadline elapses — in
	// which case it returns ErrTimeout with whatever was read so far.
	ReadExactUntil(ctx context.Context, n int, timeout time.Duration, pred func([]byte) bool) ([]byte, error)

	WriteAll(data []byte) error

	// SetSignals updates only the non-nil fields of s.
	SetSignals(s Signals) error

	// SetBaud renegotiates the baud rate on an already-open transport.
	SetBaud(baud int) error

	Info() Info
}
