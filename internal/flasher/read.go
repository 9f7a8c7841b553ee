package flasher

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/Jason2866/esp32tool/internal/protocol"
)

// ReadParams is the (chunk_size, block_size, max_in_flight) triple
// READ_FLASH takes (spec.md §4.5, §8 invariant 4: chunk in [0x1000,
// 0x40000], block in [31, 3968], in_flight in [31, 253952]).
type ReadParams struct {
	ChunkSize  uint32
	BlockSize  uint32
	MaxInFlight uint32
}

// Named parameter sets from spec.md §4.5. Callers may also supply a
// custom ReadParams.
var (
	ParamsAndroidWebUSB    = ReadParams{ChunkSize: 0x1000, BlockSize: 64, MaxInFlight: 256}
	ParamsDesktopWebSerial = ReadParams{ChunkSize: 0x1000, BlockSize: 512, MaxInFlight: 2048}
	ParamsDesktopNative    = ReadParams{ChunkSize: 0x4000, BlockSize: 3968, MaxInFlight: 65536}
)

// Read streams size bytes from offset using the stub's READ_FLASH (spec.md
// §4.5). Only available once the engine has switched to stub mode; the
// ROM command set has no equivalent. Verifies the stub's own MD5 against
// a locally computed one, failing with *protocol.ErrChecksumMismatch on
// mismatch.
func (f *Flasher) Read(ctx context.Context, offset, size uint32, params ReadParams, progress Progress) ([]byte, error) {
	cmd := protocol.Command{
		Op:    protocol.OpReadFlash,
		Extra: []uint32{offset, size, params.ChunkSize, params.MaxInFlight},
	}
	if _, err := f.e.Exchange(ctx, cmd, protocol.DefaultTimeout); err != nil {
		return nil, fmt.Errorf("flasher: READ_FLASH: %w", err)
	}

	out := make([]byte, 0, size)
	sinceAck := uint32(0)
	for uint32(len(out)) < size {
		frame, err := f.e.ReadFrame(ctx, protocol.FlashReadPacketTimeout*4)
		if err != nil {
			return nil, fmt.Errorf("flasher: READ_FLASH stream: %w", err)
		}
		out = append(out, frame...)
		sinceAck += uint32(len(frame))
		if progress != nil {
			progress(len(out), int(size))
		}
		if sinceAck >= params.MaxInFlight {
			if err := f.ackBytesReceived(uint32(len(out))); err != nil {
				return nil, err
			}
			sinceAck = 0
		}
	}
	if sinceAck > 0 {
		if err := f.ackBytesReceived(uint32(len(out))); err != nil {
			return nil, err
		}
	}

	if uint32(len(out)) > size {
		out = out[:size]
	}

	remoteMD5, err := f.readMD5(ctx, offset, size)
	if err != nil {
		return out, err
	}
	local := localMD5(out)
	if local != remoteMD5 {
		return out, &protocol.ErrChecksumMismatch{Want: remoteMD5, Got: local}
	}
	return out, nil
}

// ackBytesReceived writes the 4-byte little-endian running total the
// stub's READ_FLASH credit protocol expects (spec.md §4.5).
func (f *Flasher) ackBytesReceived(total uint32) error {
	ack := make([]byte, 4)
	binary.LittleEndian.PutUint32(ack, total)
	return f.e.WriteRaw(ack)
}
