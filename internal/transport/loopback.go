package transport

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// Loopback is an in-memory Transport used by tests: writes go into an
// inbox a test can inspect, and reads are served from a pre-loaded
// outbox. It is the stand-in for a real serial/USB endpoint in protocol
// engine and flasher unit tests (spec.md components never talk to real
// hardware in this repo's test suite).
type Loopback struct {
	mu      sync.Mutex
	outbox  bytes.Buffer
	Written [][]byte
	baud    int
	signals Signals
	closed  bool

	// Respond, if set, is called after every WriteAll with the written
	// bytes and may append to the outbox before the next read.
	Respond func(written []byte, push func([]byte))
}

// NewLoopback returns a ready Loopback.
func NewLoopback() *Loopback { return &Loopback{} }

func (l *Loopback) Open(baud int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.baud = baud
	l.closed = false
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Push appends bytes the next ReadExactUntil calls will consume.
func (l *Loopback) Push(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outbox.Write(b)
}

func (l *Loopback) ReadExactUntil(ctx context.Context, n int, timeout time.Duration, pred func([]byte) bool) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var buf []byte
	for {
		l.mu.Lock()
		avail := l.outbox.Len()
		if avail > 0 {
			chunk := make([]byte, avail)
			l.outbox.Read(chunk)
			buf = append(buf, chunk...)
		}
		l.mu.Unlock()

		if pred != nil && pred(buf) {
			return buf, nil
		}
		if n > 0 && len(buf) >= n {
			return buf[:n], nil
		}
		if time.Now().After(deadline) {
			return buf, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return buf, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (l *Loopback) WriteAll(data []byte) error {
	l.mu.Lock()
	l.Written = append(l.Written, append([]byte{}, data...))
	respond := l.Respond
	l.mu.Unlock()

	if respond != nil {
		respond(data, l.Push)
	}
	return nil
}

func (l *Loopback) SetSignals(s Signals) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.DTR != nil {
		l.signals.DTR = s.DTR
	}
	if s.RTS != nil {
		l.signals.RTS = s.RTS
	}
	if s.Break != nil {
		l.signals.Break = s.Break
	}
	return nil
}

func (l *Loopback) SetBaud(baud int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.baud = baud
	return nil
}

func (l *Loopback) Info() Info { return Info{} }

// Baud returns the current baud rate, for assertions in tests.
func (l *Loopback) Baud() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.baud
}

// CurrentSignals returns a snapshot of the last-set DTR/RTS/Break state.
func (l *Loopback) CurrentSignals() Signals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.signals
}
