package protocol

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jason2866/esp32tool/internal/slip"
	"github.com/Jason2866/esp32tool/internal/transport"
)

// romResponseFrame builds a ROM response whose 2-byte trailer is a
// failure flag followed by the error class: status 0 means success, any
// other value sets the flag and is reported as the class.
func romResponseFrame(op Opcode, value uint32, data []byte, status byte) []byte {
	body := make([]byte, 8+len(data))
	body[0] = 0x01
	body[1] = byte(op)
	binary.LittleEndian.PutUint16(body[2:4], uint16(len(data)+2))
	binary.LittleEndian.PutUint32(body[4:8], value)
	copy(body[8:], data)
	failed := byte(0)
	if status != 0 {
		failed = 1
	}
	body = append(body, failed, status)
	return slip.Encode(body)
}

func newTestEngine() (*Engine, *transport.Loopback) {
	lb := transport.NewLoopback()
	return New(lb, nil), lb
}

func TestSyncSuccessS2(t *testing.T) {
	e, lb := newTestEngine()
	attempts := 0
	lb.Respond = func(written []byte, push func([]byte)) {
		attempts++
		push(romResponseFrame(OpSync, 0, nil, 0))
	}

	err := e.Synchronize(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts, 1)
	assert.LessOrEqual(t, attempts, 8)
}

func TestSyncTimeoutOnSilentPort(t *testing.T) {
	e, _ := newTestEngine()
	err := e.Synchronize(context.Background())
	require.Error(t, err)
	var timeoutErr *ErrTimeout
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestExchangeDiscardsMismatchedOp(t *testing.T) {
	e, lb := newTestEngine()
	first := true
	lb.Respond = func(written []byte, push func([]byte)) {
		if first {
			push(romResponseFrame(OpReadReg, 0, nil, 0)) // unsolicited chatter
			first = false
		}
		push(romResponseFrame(OpWriteReg, 0, nil, 0))
	}

	resp, err := e.Exchange(context.Background(), Command{Op: OpWriteReg, Extra: []uint32{0, 0, 0, 0}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, OpWriteReg, resp.Op)
}

func TestExchangeRetriesInvalidRecvMsg(t *testing.T) {
	e, lb := newTestEngine()
	calls := 0
	lb.Respond = func(written []byte, push func([]byte)) {
		calls++
		if calls < 3 {
			push(romResponseFrame(OpReadReg, 0, nil, 0x05))
			return
		}
		push(romResponseFrame(OpReadReg, 0x1234, nil, 0))
	}

	resp, err := e.Exchange(context.Background(), Command{Op: OpReadReg, Extra: []uint32{0x3ff00000}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1234), resp.Value)
	assert.Equal(t, 3, calls)
}

func TestExchangeSurfacesRomErrorWithoutRetry(t *testing.T) {
	e, lb := newTestEngine()
	calls := 0
	lb.Respond = func(written []byte, push func([]byte)) {
		calls++
		push(romResponseFrame(OpReadReg, 0, nil, 0x02))
	}

	_, err := e.Exchange(context.Background(), Command{Op: OpReadReg, Extra: []uint32{0}}, time.Second)
	require.Error(t, err)
	var romErr *ErrRom
	assert.ErrorAs(t, err, &romErr)
	assert.Equal(t, 1, calls)
}

func TestChangeBaudrateSkippedForESP8266(t *testing.T) {
	e, _ := newTestEngine()
	err := e.ChangeBaudrate(context.Background(), 460800, 115200, false)
	require.Error(t, err)
	var notSupported *ErrNotSupported
	assert.ErrorAs(t, err, &notSupported)
}

func TestChangeBaudrateSwitchesTransport(t *testing.T) {
	e, lb := newTestEngine()
	lb.Respond = func(written []byte, push func([]byte)) {
		push(romResponseFrame(OpChangeBaudrate, 0, nil, 0))
	}

	err := e.ChangeBaudrate(context.Background(), 460800, 115200, true)
	require.NoError(t, err)
	assert.Equal(t, 460800, lb.Baud())
}

func TestChecksum(t *testing.T) {
	allOnes := make([]byte, 1024)
	for i := range allOnes {
		allOnes[i] = 0xFF
	}
	// An even count of 0xFF bytes XORs to zero, leaving the 0xEF seed.
	assert.Equal(t, uint32(0xEF), Checksum(allOnes)&0xFF)
}
