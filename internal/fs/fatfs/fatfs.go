// Package fatfs implements a minimal, read-only FAT12/16 reader over a
// partition image: boot-sector parsing, root-directory entries and
// cluster-chain traversal; Write, Delete and Mkdir return
// ErrNotSupported (spec.md §4.7: "delegate to a FAT
// library-equivalent driver"). No FAT implementation exists anywhere in
// the corpus this was built from, so this codec is hand-rolled against
// the well-known on-disk format rather than grounded on an example file;
// see DESIGN.md.
package fatfs

import (
	"encoding/binary"
	"fmt"
	"strings"

	espfs "github.com/Jason2866/esp32tool/internal/fs"
)

// BootOffsetCandidate is the alternate offset a FAT partition's boot
// sector is sometimes found at, when the caller's region includes a
// leading reserved area (spec.md §4.7 supplemented feature).
const BootOffsetCandidate = 0x1000

const (
	bytesPerDirEntry = 32
	attrDirectory    = 0x10
	attrVolumeID     = 0x08
	attrLongName     = 0x0F
	freeEntryMarker  = 0x00
	deletedMarker    = 0xE5
)

// bootSector holds the BIOS Parameter Block fields this codec needs.
type bootSector struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	rootEntries       uint16
	totalSectors      uint32
	sectorsPerFAT     uint16
}

func (b bootSector) rootDirSectors() uint32 {
	return (uint32(b.rootEntries)*bytesPerDirEntry + uint32(b.bytesPerSector) - 1) / uint32(b.bytesPerSector)
}

func (b bootSector) fatStart() uint32       { return uint32(b.reservedSectors) }
func (b bootSector) rootDirStart() uint32   { return b.fatStart() + uint32(b.numFATs)*uint32(b.sectorsPerFAT) }
func (b bootSector) dataStart() uint32      { return b.rootDirStart() + b.rootDirSectors() }
func (b bootSector) clusterBytes() int      { return int(b.bytesPerSector) * int(b.sectorsPerCluster) }

func parseBootSector(data []byte) (bootSector, error) {
	if len(data) < 512 || data[510] != 0x55 || data[511] != 0xAA {
		return bootSector{}, &espfs.ErrMountFailed{Kind: espfs.KindFAT, Reason: "no boot signature"}
	}
	b := bootSector{
		bytesPerSector:    binary.LittleEndian.Uint16(data[11:13]),
		sectorsPerCluster: data[13],
		reservedSectors:   binary.LittleEndian.Uint16(data[14:16]),
		numFATs:           data[16],
		rootEntries:       binary.LittleEndian.Uint16(data[17:19]),
		totalSectors:      uint32(binary.LittleEndian.Uint16(data[19:21])),
		sectorsPerFAT:     binary.LittleEndian.Uint16(data[22:24]),
	}
	if b.totalSectors == 0 {
		b.totalSectors = binary.LittleEndian.Uint32(data[32:36])
	}
	if b.bytesPerSector == 0 || b.sectorsPerCluster == 0 {
		return bootSector{}, &espfs.ErrMountFailed{Kind: espfs.KindFAT, Reason: "zero geometry field"}
	}
	return b, nil
}

// StripBootOffset probes for a boot signature at offset 0, then at
// BootOffsetCandidate, returning the slice starting at whichever offset
// matched (spec.md §4.7: "if the boot signature is absent at offset 0
// but present at 0x1000, slice the data and retry").
func StripBootOffset(data []byte) ([]byte, int, bool) {
	if len(data) >= 512 && data[510] == 0x55 && data[511] == 0xAA {
		return data, 0, true
	}
	if len(data) > BootOffsetCandidate+512 && data[BootOffsetCandidate+510] == 0x55 && data[BootOffsetCandidate+511] == 0xAA {
		return data[BootOffsetCandidate:], BootOffsetCandidate, true
	}
	return nil, 0, false
}

// dirEntry is one decoded 8.3 root-directory entry.
type dirEntry struct {
	name        string
	attr        byte
	firstCluster uint16
	size        uint32
}

// FAT is a mounted FAT12/16 image. Only the root directory is modeled:
// List returns the root-directory entries whatever path it is given, and
// Read finds root-directory names only; subdirectory contents are not
// read.
type FAT struct {
	boot    bootSector
	bits    int // 12 or 16
	data    []byte
	entries []dirEntry
}

// Mount parses a partition image already stripped of any leading
// reserved offset (see StripBootOffset).
func Mount(data []byte) (*FAT, error) {
	boot, err := parseBootSector(data)
	if err != nil {
		return nil, err
	}
	bits := 16
	clusterCount := clusterCountOf(boot)
	if clusterCount < 4085 {
		bits = 12
	}

	f := &FAT{boot: boot, bits: bits, data: append([]byte{}, data...)}
	f.entries = f.readRootDir()
	return f, nil
}

func clusterCountOf(b bootSector) uint32 {
	dataSectors := b.totalSectors - b.dataStart()
	if b.sectorsPerCluster == 0 {
		return 0
	}
	return dataSectors / uint32(b.sectorsPerCluster)
}

func (f *FAT) readRootDir() []dirEntry {
	start := int(f.boot.rootDirStart()) * int(f.boot.bytesPerSector)
	count := int(f.boot.rootEntries)
	var out []dirEntry
	for i := 0; i < count; i++ {
		off := start + i*bytesPerDirEntry
		if off+bytesPerDirEntry > len(f.data) {
			break
		}
		row := f.data[off : off+bytesPerDirEntry]
		if row[0] == freeEntryMarker {
			break
		}
		if row[0] == deletedMarker || row[11] == attrLongName || row[11]&attrVolumeID != 0 {
			continue
		}
		out = append(out, dirEntry{
			name:         decode83(row[0:11]),
			attr:         row[11],
			firstCluster: binary.LittleEndian.Uint16(row[26:28]),
			size:         binary.LittleEndian.Uint32(row[28:32]),
		})
	}
	return out
}

func decode83(b []byte) string {
	name := strings.TrimRight(string(b[0:8]), " ")
	ext := strings.TrimRight(string(b[8:11]), " ")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

func (f *FAT) Kind() espfs.Kind { return espfs.KindFAT }

func (f *FAT) List(path string) ([]espfs.FileInfo, error) {
	var out []espfs.FileInfo
	for _, e := range f.entries {
		out = append(out, espfs.FileInfo{Path: e.name, Size: int(e.size), IsDir: e.attr&attrDirectory != 0})
	}
	return out, nil
}

func (f *FAT) Read(path string) ([]byte, error) {
	e, ok := f.find(path)
	if !ok {
		return nil, fmt.Errorf("fatfs: %s: not found", path)
	}
	return f.readClusterChain(e.firstCluster, int(e.size)), nil
}

func (f *FAT) find(path string) (dirEntry, bool) {
	name := strings.TrimPrefix(path, "/")
	for _, e := range f.entries {
		if strings.EqualFold(e.name, name) {
			return e, true
		}
	}
	return dirEntry{}, false
}

func (f *FAT) readClusterChain(first uint16, size int) []byte {
	out := make([]byte, 0, size)
	cluster := first
	clusterBytes := f.boot.clusterBytes()
	dataStart := int(f.boot.dataStart()) * int(f.boot.bytesPerSector)
	for cluster >= 2 && len(out) < size {
		off := dataStart + int(cluster-2)*clusterBytes
		if off+clusterBytes > len(f.data) {
			break
		}
		out = append(out, f.data[off:off+clusterBytes]...)
		cluster = f.nextCluster(cluster)
	}
	if len(out) > size {
		out = out[:size]
	}
	return out
}

func (f *FAT) nextCluster(cluster uint16) uint16 {
	fatStart := int(f.boot.fatStart()) * int(f.boot.bytesPerSector)
	if f.bits == 16 {
		off := fatStart + int(cluster)*2
		if off+2 > len(f.data) {
			return 0xFFFF
		}
		v := binary.LittleEndian.Uint16(f.data[off : off+2])
		if v >= 0xFFF8 {
			return 0xFFFF
		}
		return v
	}
	// FAT12: 12-bit packed entries.
	off := fatStart + int(cluster)*3/2
	if off+2 > len(f.data) {
		return 0xFFF
	}
	v := binary.LittleEndian.Uint16(f.data[off : off+2])
	if cluster%2 == 0 {
		v &= 0x0FFF
	} else {
		v >>= 4
	}
	if v >= 0xFF8 {
		return 0xFFF
	}
	return v
}

// Write, Delete and Mkdir are not implemented: this codec targets
// read/inspect workflows (partition dump, file extraction); a real
// write path needs free-cluster bookkeeping this minimal driver does
// not carry. Callers needing to author a FAT image should build one
// externally and flash it as raw bytes.
func (f *FAT) Write(path string, data []byte) error {
	return &espfs.ErrNotSupported{Kind: espfs.KindFAT, Op: "write"}
}

func (f *FAT) Delete(path string) error {
	return &espfs.ErrNotSupported{Kind: espfs.KindFAT, Op: "delete"}
}

func (f *FAT) Mkdir(path string) error {
	return &espfs.ErrNotSupported{Kind: espfs.KindFAT, Op: "mkdir"}
}

func (f *FAT) Serialize() ([]byte, error) {
	return append([]byte{}, f.data...), nil
}

// UsedBytes sums the sizes recorded in the root-directory entries.
// Cluster slack, directory clusters and subdirectory contents are not
// counted, so the result can be lower than the space the image uses.
func (f *FAT) UsedBytes() int {
	total := 0
	for _, e := range f.entries {
		total += int(e.size)
	}
	return total
}
