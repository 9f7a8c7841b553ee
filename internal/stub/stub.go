// Package stub uploads the second-stage RAM loader ("the stub") that every
// other component prefers once a chip answers SYNC (spec.md §4.4). The
// stub trades the ROM bootloader's small MEM_DATA/FLASH_DATA blocks and
// narrow opcode set for a larger block size and the FLASH_DEFL_*/READ_FLASH
// opcodes; a failed handshake is non-fatal and the caller keeps talking to
// the ROM loader instead (spec.md §4.4, §7).
//
// Stub images are compiled per family and embedded at build time via
// go:embed, keyed by family the way any per-variant asset table is.
package stub

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/Jason2866/esp32tool/internal/chip"
	"github.com/Jason2866/esp32tool/internal/protocol"
)

//go:embed all:bin/*
var images embed.FS

// handshake is the literal ASCII a stub writes, unframed, once its loader
// loop starts (spec.md §4.4).
var handshake = []byte("OHAI")

// handshakeTimeout bounds how long Upload waits for the handshake after
// MEM_END (spec.md §4.4: "the loader waits for it (50 ms)").
const handshakeTimeout = 50 * time.Millisecond

// blockSize is the MEM_DATA payload size used while uploading the stub
// image itself; the stub's own, larger block size only applies once it is
// running and the engine has switched to ModeStub.
const blockSize = 0x400

// Image is a single-segment RAM program: Data loaded at LoadAddr, execution
// starting at EntryAddr once the final MEM_DATA block lands.
type Image struct {
	Family    chip.Family
	LoadAddr  uint32
	EntryAddr uint32
	Data      []byte
}

// imageFile maps a family to the name of its embedded stub image. Families
// absent here have no compiled stub and Load returns ErrNotAvailable for
// them; the flasher falls back to ROM commands (spec.md §4.4).
var imageFile = map[chip.Family]string{
	chip.ESP8266:  "esp8266.bin",
	chip.ESP32:    "esp32.bin",
	chip.ESP32S2:  "esp32s2.bin",
	chip.ESP32S3:  "esp32s3.bin",
	chip.ESP32C2:  "esp32c2.bin",
	chip.ESP32C3:  "esp32c3.bin",
	chip.ESP32C6:  "esp32c6.bin",
}

// ErrNotAvailable is returned by Load when a family has no compiled stub.
type ErrNotAvailable struct {
	Family chip.Family
}

func (e *ErrNotAvailable) Error() string {
	return fmt.Sprintf("stub: no compiled image for %s", e.Family)
}

// Load reads the embedded image for d's family, addressed to load at and
// execute from d.StubEntry. Callers that get ErrNotAvailable should treat
// it exactly like a failed handshake: stay on the ROM command set.
func Load(d chip.Descriptor) (Image, error) {
	name, ok := imageFile[d.Family]
	if !ok || d.StubEntry == 0 {
		return Image{}, &ErrNotAvailable{Family: d.Family}
	}
	data, err := images.ReadFile("bin/" + name)
	if err != nil {
		return Image{}, &ErrNotAvailable{Family: d.Family}
	}
	return Image{Family: d.Family, LoadAddr: d.StubEntry, EntryAddr: d.StubEntry, Data: data}, nil
}

// Upload sends img via MEM_BEGIN/MEM_DATA/MEM_END and waits for the OHAI
// handshake, switching e to ModeStub on success (spec.md §4.4). On a
// handshake miss it returns the handshake-read error and leaves e in
// whatever mode it was already in — the caller decides whether that is
// fatal.
func Upload(ctx context.Context, e *protocol.Engine, img Image) error {
	numBlocks := (len(img.Data) + blockSize - 1) / blockSize
	if numBlocks == 0 {
		numBlocks = 1
	}

	begin := protocol.Command{
		Op:    protocol.OpMemBegin,
		Extra: []uint32{uint32(len(img.Data)), uint32(numBlocks), uint32(blockSize), img.LoadAddr},
	}
	if _, err := e.Exchange(ctx, begin, protocol.DefaultTimeout); err != nil {
		return fmt.Errorf("stub: MEM_BEGIN: %w", err)
	}

	for seq := 0; seq < numBlocks; seq++ {
		start := seq * blockSize
		end := start + blockSize
		if end > len(img.Data) {
			end = len(img.Data)
		}
		block := img.Data[start:end]
		cmd := protocol.Command{
			Op:       protocol.OpMemData,
			Extra:    []uint32{uint32(len(block)), uint32(seq), 0, 0},
			Data:     block,
			Checksum: protocol.Checksum(block),
		}
		if _, err := e.Exchange(ctx, cmd, protocol.DefaultTimeout); err != nil {
			return fmt.Errorf("stub: MEM_DATA block %d: %w", seq, err)
		}
	}

	end := protocol.Command{Op: protocol.OpMemEnd, Extra: []uint32{0, img.EntryAddr}}
	// The ROM jumps to EntryAddr instead of replying, so MEM_END is written
	// without waiting for a response frame; the raw OHAI handshake is left
	// on the transport for awaitHandshake to read.
	if err := e.WriteRaw(end.Encode()); err != nil {
		return fmt.Errorf("stub: MEM_END: %w", err)
	}

	if err := awaitHandshake(ctx, e); err != nil {
		return err
	}
	e.SetMode(protocol.ModeStub)
	return nil
}

// awaitHandshake reads raw bytes off the transport (the stub's OHAI banner
// is not SLIP-framed) looking for the literal handshake within
// handshakeTimeout.
func awaitHandshake(ctx context.Context, e *protocol.Engine) error {
	read, err := e.Transport().ReadExactUntil(ctx, len(handshake), handshakeTimeout, func(b []byte) bool {
		return bytes.Contains(b, handshake)
	})
	if err != nil {
		return fmt.Errorf("stub: handshake: %w", err)
	}
	if !bytes.Contains(read, handshake) {
		return fmt.Errorf("stub: handshake: banner not seen within %s", handshakeTimeout)
	}
	return nil
}
