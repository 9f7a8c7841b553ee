package stub

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jason2866/esp32tool/internal/chip"
	"github.com/Jason2866/esp32tool/internal/protocol"
	"github.com/Jason2866/esp32tool/internal/slip"
	"github.com/Jason2866/esp32tool/internal/transport"
)

func romOK(op protocol.Opcode) []byte {
	body := make([]byte, 10)
	body[0] = 0x01
	body[1] = byte(op)
	binary.LittleEndian.PutUint16(body[2:4], 2)
	return slip.Encode(body)
}

func TestLoadKnownFamily(t *testing.T) {
	d, ok := chip.Lookup(chip.ESP32)
	require.True(t, ok)

	img, err := Load(d)
	require.NoError(t, err)
	assert.Equal(t, d.StubEntry, img.LoadAddr)
	assert.NotEmpty(t, img.Data)
}

func TestLoadUnavailableFamily(t *testing.T) {
	d, ok := chip.Lookup(chip.ESP32C5)
	require.True(t, ok)

	_, err := Load(d)
	require.Error(t, err)
	var notAvail *ErrNotAvailable
	require.ErrorAs(t, err, &notAvail)
}

func TestUploadSwitchesToStubModeOnHandshake(t *testing.T) {
	lb := transport.NewLoopback()
	e := protocol.New(lb, nil)

	lb.Respond = func(written []byte, push func([]byte)) {
		frames, _ := slip.DecodeAll(written)
		for _, f := range frames {
			if len(f) < 2 {
				continue
			}
			switch protocol.Opcode(f[1]) {
			case protocol.OpMemBegin, protocol.OpMemData:
				push(romOK(protocol.Opcode(f[1])))
			case protocol.OpMemEnd:
				push([]byte("OHAI"))
			}
		}
	}

	d, ok := chip.Lookup(chip.ESP32)
	require.True(t, ok)
	img, err := Load(d)
	require.NoError(t, err)

	err = Upload(context.Background(), e, img)
	require.NoError(t, err)
	assert.Equal(t, protocol.ModeStub, e.Mode())
}

func TestUploadFailsWithoutHandshake(t *testing.T) {
	lb := transport.NewLoopback()
	e := protocol.New(lb, nil)

	lb.Respond = func(written []byte, push func([]byte)) {
		frames, _ := slip.DecodeAll(written)
		for _, f := range frames {
			if len(f) < 2 {
				continue
			}
			switch protocol.Opcode(f[1]) {
			case protocol.OpMemBegin, protocol.OpMemData:
				push(romOK(protocol.Opcode(f[1])))
			}
		}
	}

	d, ok := chip.Lookup(chip.ESP32)
	require.True(t, ok)
	img, err := Load(d)
	require.NoError(t, err)

	err = Upload(context.Background(), e, img)
	require.Error(t, err)
	assert.Equal(t, protocol.ModeRom, e.Mode())
}
