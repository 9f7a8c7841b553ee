// Package flasher drives the high-level read/write/erase/verify
// operations over a protocol.Engine (spec.md §4.5): SPI attach and
// parameter setup, FLASH_BEGIN/DATA/END (or the DEFLATE-compressed
// variants), stub READ_FLASH streaming, and SPI_FLASH_MD5 verification.
package flasher

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/Jason2866/esp32tool/internal/logging"
	"github.com/Jason2866/esp32tool/internal/protocol"
)

// BlockSizeRom / BlockSizeStub are the FLASH_DATA block sizes before and
// after a successful stub handshake (spec.md §4.4).
const (
	BlockSizeRom  = 0x400
	BlockSizeStub = 0x4000
)

// padByte is the value FLASH_DATA/FLASH_DEFL_DATA blocks are padded with
// when the final block is short (spec.md §4.5, scenario S4).
const padByte = 0xFF

// Progress reports byte-level progress for a write, read or erase. Total
// is 0 when it cannot be known in advance (e.g. a full-chip erase).
type Progress func(done, total int)

// Flasher sequences flash operations over a single protocol engine.
type Flasher struct {
	e   *protocol.Engine
	log *logging.Logger
}

// New binds a Flasher to e, logging through log (logging.Discard() if nil).
func New(e *protocol.Engine, log *logging.Logger) *Flasher {
	if log == nil {
		log = logging.Discard()
	}
	return &Flasher{e: e, log: log}
}

// Attach issues SPI_ATTACH with the default pin configuration (0: use the
// chip's natural SPI flash pins, no external GPIO override).
func (f *Flasher) Attach(ctx context.Context) error {
	_, err := f.e.Exchange(ctx, protocol.Command{Op: protocol.OpSpiAttach, Extra: []uint32{0}}, protocol.DefaultTimeout)
	return err
}

// FlashParams mirrors the six words SPI_SET_PARAMS expects: detected
// flash id, total capacity, and the block/sector/page sizes and status
// mask the ROM needs to drive the chip correctly.
type FlashParams struct {
	FlashID    uint32
	TotalSize  uint32
	BlockSize  uint32
	SectorSize uint32
	PageSize   uint32
	StatusMask uint32
}

// SetParams issues SPI_SET_PARAMS.
func (f *Flasher) SetParams(ctx context.Context, p FlashParams) error {
	extra := []uint32{p.FlashID, p.TotalSize, p.BlockSize, p.SectorSize, p.PageSize, p.StatusMask}
	_, err := f.e.Exchange(ctx, protocol.Command{Op: protocol.OpSpiSetParams, Extra: extra}, protocol.DefaultTimeout)
	return err
}

// WriteOptions parameterizes Write.
type WriteOptions struct {
	Offset    uint32
	Data      []byte
	BlockSize int // defaults to BlockSizeRom if zero
	Compress  bool
	Progress  Progress
}

// Write performs the FLASH_BEGIN/FLASH_DATA*/FLASH_END sequence (or its
// FLASH_DEFL_* equivalent when Compress is set), per spec.md §4.5.
func (f *Flasher) Write(ctx context.Context, opts WriteOptions) error {
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = BlockSizeRom
	}

	payload := opts.Data
	beginOp, dataOp, endOp := protocol.OpFlashBegin, protocol.OpFlashData, protocol.OpFlashEnd
	uncompressedSize := uint32(len(opts.Data))
	if opts.Compress {
		beginOp, dataOp, endOp = protocol.OpFlashDeflBegin, protocol.OpFlashDeflData, protocol.OpFlashDeflEnd
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.BestCompression)
		if err != nil {
			return fmt.Errorf("flasher: deflate writer: %w", err)
		}
		if _, err := w.Write(opts.Data); err != nil {
			return fmt.Errorf("flasher: deflate write: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("flasher: deflate close: %w", err)
		}
		payload = buf.Bytes()
	}

	numBlocks := (len(payload) + blockSize - 1) / blockSize
	if numBlocks == 0 {
		numBlocks = 1
	}

	begin := protocol.Command{
		Op:    beginOp,
		Extra: []uint32{uncompressedSize, uint32(numBlocks), uint32(blockSize), opts.Offset},
	}
	timeout := protocol.SizeScaledTimeout(len(opts.Data))
	if _, err := f.e.Exchange(ctx, begin, timeout); err != nil {
		return fmt.Errorf("flasher: %s: %w", beginOp, err)
	}

	for seq := 0; seq < numBlocks; seq++ {
		start := seq * blockSize
		end := start + blockSize
		if end > len(payload) {
			end = len(payload)
		}
		block := padTo(payload[start:end], blockSize)
		cmd := protocol.Command{
			Op:       dataOp,
			Extra:    []uint32{uint32(len(block)), uint32(seq), 0, 0},
			Data:     block,
			Checksum: protocol.Checksum(block),
		}
		if _, err := f.e.Exchange(ctx, cmd, timeout); err != nil {
			return fmt.Errorf("flasher: %s block %d: %w", dataOp, seq, err)
		}
		if opts.Progress != nil {
			opts.Progress(end, len(payload))
		}
	}

	_, err := f.e.Exchange(ctx, protocol.Command{Op: endOp, Extra: []uint32{0}}, protocol.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("flasher: %s: %w", endOp, err)
	}
	return nil
}

// padTo pads b to length n with padByte, copying rather than mutating the
// caller's slice.
func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	for i := len(b); i < n; i++ {
		out[i] = padByte
	}
	return out
}

// VerifyMD5 issues SPI_FLASH_MD5 over [offset, offset+size) and compares
// against want, returning *protocol.ErrChecksumMismatch on disagreement.
func (f *Flasher) VerifyMD5(ctx context.Context, offset, size uint32, want [16]byte) error {
	got, err := f.readMD5(ctx, offset, size)
	if err != nil {
		return err
	}
	if got != want {
		return &protocol.ErrChecksumMismatch{Want: want, Got: got}
	}
	return nil
}

func (f *Flasher) readMD5(ctx context.Context, offset, size uint32) ([16]byte, error) {
	var digest [16]byte
	resp, err := f.e.Exchange(ctx, protocol.Command{Op: protocol.OpSpiFlashMD5, Extra: []uint32{offset, size, 0, 0}}, protocol.SizeScaledTimeout(int(size)))
	if err != nil {
		return digest, err
	}
	switch len(resp.Data) {
	case 16:
		copy(digest[:], resp.Data)
	case 32:
		raw, err := hex.DecodeString(string(resp.Data))
		if err != nil || len(raw) != 16 {
			return digest, fmt.Errorf("flasher: malformed SPI_FLASH_MD5 response")
		}
		copy(digest[:], raw)
	default:
		return digest, fmt.Errorf("flasher: unexpected SPI_FLASH_MD5 response length %d", len(resp.Data))
	}
	return digest, nil
}

// EraseFull issues ERASE_FLASH, the full-chip erase (spec.md §4.5,
// EraseChipTimeout).
func (f *Flasher) EraseFull(ctx context.Context) error {
	_, err := f.e.Exchange(ctx, protocol.Command{Op: protocol.OpEraseFlash}, protocol.EraseChipTimeout)
	return err
}

// EraseRegion issues ERASE_REGION(offset, size) with a size-scaled
// timeout. A zero-size region is a no-op and never reaches the wire
// (spec.md §8 boundary behavior).
func (f *Flasher) EraseRegion(ctx context.Context, offset, size uint32) error {
	if size == 0 {
		return nil
	}
	_, err := f.e.Exchange(ctx, protocol.Command{Op: protocol.OpEraseRegion, Extra: []uint32{offset, size}}, protocol.SizeScaledTimeout(int(size)))
	return err
}

// localMD5 computes the MD5 digest of data, used to verify a local Read
// against the stub's own over-the-wire digest.
func localMD5(data []byte) [16]byte {
	return md5.Sum(data)
}
