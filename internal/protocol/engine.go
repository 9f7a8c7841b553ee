// Package protocol issues ROM/stub commands over a Transport, validating
// responses, scaling timeouts and retrying transient errors (spec.md
// §4.3). It is the single point through which every other component —
// the stub loader, flasher, reset sequencer — talks to the target.
package protocol

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/Jason2866/esp32tool/internal/logging"
	"github.com/Jason2866/esp32tool/internal/slip"
	"github.com/Jason2866/esp32tool/internal/transport"
)

// maxRetries bounds Exchange's retry budget for ErrSlipRead and
// ErrInvalidRecvMsg (spec.md §4.3, §7). Synchronize and ChangeBaudrate do
// not go through Exchange and send each attempt exactly once. Every
// command sent through Exchange is subject to this budget, including the
// flasher's FLASH_END/FLASH_DEFL_END and ERASE_FLASH/ERASE_REGION.
const maxRetries = 3

// Transport is the subset of transport.Transport the engine needs,
// narrowed here so engine tests can supply a fake without importing the
// concrete backings.
type Transport = transport.Transport

// Engine sequences every command through a single transport, per
// spec.md §5 ("one logical session owns the transport at any time").
type Engine struct {
	t    Transport
	mode Mode
	log  *logging.Logger

	// leftover holds bytes read past the end of the last decoded SLIP
	// frame, so the next readFrame call does not have to re-read them
	// from the transport.
	leftover []byte
}

// New creates an engine bound to t, starting in ROM mode (the stub loader
// switches it to ModeStub after a successful handshake).
func New(t Transport, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{t: t, mode: ModeRom, log: log}
}

func (e *Engine) Mode() Mode        { return e.mode }
func (e *Engine) SetMode(m Mode)    { e.mode = m }
func (e *Engine) Transport() Transport { return e.t }

// ReadFrame reads and SLIP-decodes the next frame, for callers (the
// flasher's READ_FLASH stream) that need raw frame payloads outside the
// Command/Response envelope.
func (e *Engine) ReadFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return e.readFrame(ctx, timeout)
}

// WriteRaw SLIP-frames and writes data directly, bypassing Exchange's
// response wait. Used for READ_FLASH's periodic credit acks.
func (e *Engine) WriteRaw(data []byte) error {
	if err := e.t.WriteAll(slip.Encode(data)); err != nil {
		return &ErrTransportLost{Cause: err}
	}
	return nil
}

// readFrame reads bytes from the transport until one complete SLIP frame
// is available (tolerating leading garbage, per spec.md §4.2) or the
// timeout elapses, and returns the decoded payload.
func (e *Engine) readFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	buf := e.leftover
	e.leftover = nil

	deadline := time.Now().Add(timeout)
	for {
		frames, _ := slip.DecodeAll(buf)
		if len(frames) > 0 {
			_, consumed, _ := slip.Decode(buf)
			e.leftover = append([]byte{}, buf[consumed:]...)
			return frames[0], nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &ErrTimeout{Timeout: timeout.String()}
		}
		read, err := e.t.ReadExactUntil(ctx, 0, remaining, func(b []byte) bool {
			return len(b) > 0 && b[len(b)-1] == 0xC0 && len(b) > 1
		})
		if len(read) > 0 {
			buf = append(buf, read...)
		}
		if err == transport.ErrTimeout {
			if len(buf) == 0 {
				return nil, &ErrTimeout{Timeout: timeout.String()}
			}
			// fall through: try to decode whatever arrived before giving up
			frames, _ := slip.DecodeAll(buf)
			if len(frames) > 0 {
				_, consumed, _ := slip.Decode(buf)
				e.leftover = append([]byte{}, buf[consumed:]...)
				return frames[0], nil
			}
			return nil, &ErrTimeout{Timeout: timeout.String()}
		}
		if err != nil {
			return nil, &ErrTransportLost{Cause: err}
		}
	}
}

// Exchange writes cmd SLIP-framed and reads frames until one with a
// matching op is seen or timeout elapses; mismatched frames are discarded
// as unsolicited bootloader chatter (spec.md §4.3, §8 invariant 2).
// Exchange retries on ErrSlipRead and ErrInvalidRecvMsg, up to
// maxRetries, per spec.md §4.3/§7; every other error is returned as-is.
func (e *Engine) Exchange(ctx context.Context, cmd Command, timeout time.Duration) (Response, error) {
	if !e.mode.Supports(cmd.Op) {
		return Response{}, &ErrNotSupported{Reason: "op not implemented in " + e.mode.String() + " mode"}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := e.exchangeOnce(ctx, cmd, timeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			return Response{}, err
		}
		e.log.Debug("protocol: retrying op %#02x after %v (attempt %d/%d)", byte(cmd.Op), err, attempt+1, maxRetries)
	}
	return Response{}, lastErr
}

func retryable(err error) bool {
	switch err.(type) {
	case *ErrSlipRead, *ErrInvalidRecvMsg:
		return true
	default:
		return false
	}
}

func (e *Engine) exchangeOnce(ctx context.Context, cmd Command, timeout time.Duration) (Response, error) {
	frame := slip.Encode(cmd.Encode())
	if err := e.t.WriteAll(frame); err != nil {
		return Response{}, &ErrTransportLost{Cause: err}
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Response{}, &ErrTimeout{Op: cmd.Op, Timeout: timeout.String()}
		}
		payload, err := e.readFrame(ctx, remaining)
		if err != nil {
			if _, ok := err.(*ErrTimeout); ok {
				return Response{}, &ErrTimeout{Op: cmd.Op, Timeout: timeout.String()}
			}
			if _, ok := err.(*ErrTransportLost); ok {
				return Response{}, err
			}
			return Response{}, &ErrSlipRead{Cause: err}
		}

		resp, perr := ParseResponse(payload, e.mode.Trailer())
		if perr != nil {
			return Response{}, &ErrSlipRead{Cause: perr}
		}
		if resp.Op != cmd.Op {
			// Unsolicited bootloader output; discard and keep reading.
			continue
		}
		if resp.Status != 0 {
			if resp.Class == 0x05 {
				return Response{}, &ErrInvalidRecvMsg{Op: cmd.Op}
			}
			return Response{}, &ErrRom{Op: cmd.Op, Status: resp.Class}
		}
		return resp, nil
	}
}

// Synchronize sends the fixed 36-byte SYNC packet up to a bounded number
// of attempts with a short per-attempt timeout, then drains any further
// frames for up to 50ms (spec.md §4.3, scenario S2).
func (e *Engine) Synchronize(ctx context.Context) error {
	const maxAttempts = 8
	syncData := append([]byte{0x07, 0x07, 0x12, 0x20}, repeat('U', 32)...)
	cmd := Command{Op: OpSync, Data: syncData}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		frame := slip.Encode(cmd.Encode())
		if err := e.t.WriteAll(frame); err != nil {
			return &ErrTransportLost{Cause: err}
		}
		_, err := e.readFrame(ctx, SyncTimeout)
		if err == nil {
			e.drain(ctx, 50*time.Millisecond)
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &ErrTimeout{Op: OpSync, Timeout: SyncTimeout.String()}
	}
	return lastErr
}

// drain reads and discards frames for up to d, used after a successful
// sync to flush the extra responses a real ROM emits per sync attempt.
func (e *Engine) drain(ctx context.Context, d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if _, err := e.readFrame(ctx, time.Until(deadline)); err != nil {
			return
		}
	}
}

func repeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// ReadReg issues READ_REG for addr.
func (e *Engine) ReadReg(ctx context.Context, addr uint32) (uint32, error) {
	resp, err := e.Exchange(ctx, Command{Op: OpReadReg, Extra: []uint32{addr}}, DefaultTimeout)
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// WriteReg issues WRITE_REG(addr, value, mask, delay_us).
func (e *Engine) WriteReg(ctx context.Context, addr, value, mask uint32, delayUS uint32) error {
	_, err := e.Exchange(ctx, Command{Op: OpWriteReg, Extra: []uint32{addr, value, mask, delayUS}}, DefaultTimeout)
	return err
}

// ChangeBaudrate issues CHANGE_BAUDRATE then switches the transport's
// baud, sleeps 50ms and discards pending input (spec.md §4.3). ESP8266
// does not support this opcode; callers must check the chip descriptor's
// SupportsChangeBaudrate first, but the engine also refuses here as a
// defense in depth against a caller that forgets to.
func (e *Engine) ChangeBaudrate(ctx context.Context, newBaud int, currentBaud int, supports bool) error {
	if !supports {
		return &ErrNotSupported{Reason: "CHANGE_BAUDRATE on this chip family"}
	}
	old := currentBaud
	if e.mode == ModeRom {
		old = 0
	}
	extra := []uint32{uint32(newBaud), uint32(old)}
	_, err := e.exchangeOnce(ctx, Command{Op: OpChangeBaudrate, Extra: extra}, DefaultTimeout)
	if err != nil {
		return err
	}
	if err := e.t.SetBaud(newBaud); err != nil {
		return &ErrTransportLost{Cause: err}
	}
	time.Sleep(50 * time.Millisecond)
	e.leftover = nil
	return nil
}

// littleEndianWord is a small helper kept for callers that assemble
// extra words manually instead of through Command.Extra.
func littleEndianWord(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
