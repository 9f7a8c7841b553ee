package flasher

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jason2866/esp32tool/internal/protocol"
	"github.com/Jason2866/esp32tool/internal/slip"
	"github.com/Jason2866/esp32tool/internal/transport"
)

func romOK(op protocol.Opcode, value uint32, data []byte) []byte {
	body := make([]byte, 8+len(data)+2)
	body[0] = 0x01
	body[1] = byte(op)
	binary.LittleEndian.PutUint16(body[2:4], uint16(len(data)+2))
	binary.LittleEndian.PutUint32(body[4:8], value)
	copy(body[8:], data)
	return slip.Encode(body)
}

// TestWritePlainProducesExpectedFrameCount exercises scenario S4: a 10 KiB
// payload at offset 0x10000, block size 0x400, produces exactly 10
// FLASH_DATA frames of 0x400 all-0xFF bytes; an even count of 0xFF bytes
// XORs to zero, so each checksum is the bare 0xEF seed.
func TestWritePlainProducesExpectedFrameCount(t *testing.T) {
	lb := transport.NewLoopback()
	e := protocol.New(lb, nil)
	fl := New(e, nil)

	dataFrames := 0
	lb.Respond = func(written []byte, push func([]byte)) {
		frames, _ := slip.DecodeAll(written)
		for _, fr := range frames {
			if len(fr) < 2 {
				continue
			}
			op := protocol.Opcode(fr[1])
			if op == protocol.OpFlashData {
				dataFrames++
				checksum := binary.LittleEndian.Uint32(fr[4:8])
				assert.Equal(t, uint32(0xEF), checksum&0xFF)
			}
			push(romOK(op, 0, nil))
		}
	}

	data := make([]byte, 10240)
	for i := range data {
		data[i] = 0xFF
	}
	err := fl.Write(context.Background(), WriteOptions{Offset: 0x10000, Data: data, BlockSize: 0x400})
	require.NoError(t, err)
	assert.Equal(t, 10, dataFrames)
}

func TestEraseRegionZeroSizeNoOp(t *testing.T) {
	lb := transport.NewLoopback()
	e := protocol.New(lb, nil)
	fl := New(e, nil)

	called := false
	lb.Respond = func(written []byte, push func([]byte)) { called = true }

	err := fl.EraseRegion(context.Background(), 0x1000, 0)
	require.NoError(t, err)
	assert.False(t, called)
}

func TestVerifyMD5Mismatch(t *testing.T) {
	lb := transport.NewLoopback()
	e := protocol.New(lb, nil)
	fl := New(e, nil)

	lb.Respond = func(written []byte, push func([]byte)) {
		frames, _ := slip.DecodeAll(written)
		for _, fr := range frames {
			if len(fr) < 2 {
				continue
			}
			digest := make([]byte, 16)
			digest[0] = 0xAB
			push(romOK(protocol.Opcode(fr[1]), 0, digest))
		}
	}

	var want [16]byte
	want[0] = 0xCD
	err := fl.VerifyMD5(context.Background(), 0, 16, want)
	require.Error(t, err)
	var mismatch *protocol.ErrChecksumMismatch
	require.ErrorAs(t, err, &mismatch)
}
