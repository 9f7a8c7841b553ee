// Package spiffs decodes and re-encodes a SPIFFS partition image as the
// flat filename→bytes mapping spec.md §4.7 describes: "build a flat
// filename→bytes mapping; list exposes simulated paths with an optional
// leading / preserving the original form; directory creation fails with
// NotSupported; serialize by reformatting a blank image of partition
// size and re-inserting every file."
package spiffs

import (
	"encoding/binary"
	"sort"
	"strings"

	espfs "github.com/Jason2866/esp32tool/internal/fs"
)

// Magic is the little-endian u32 every SPIFFS image starts with
// (spec.md §4.7).
const Magic = espfs.SPIFFSMagic

// headerSize reserves the image's first bytes for the magic and the
// partition size, so Serialize can rebuild a self-describing image.
const headerSize = 16

// entryHeaderSize is the per-file record overhead: 2-byte name length, 2
// bytes reserved/alignment, 4-byte data length.
const entryHeaderSize = 8

// SPIFFS is an in-memory SPIFFS image: a flat name-to-bytes table plus
// the partition size it must serialize back into.
type SPIFFS struct {
	size  int
	files map[string][]byte
}

// Mount parses data (a full partition image) into a flat file table.
// Returns *espfs.ErrMountFailed if the magic does not match.
func Mount(data []byte) (*SPIFFS, error) {
	if len(data) < headerSize || binary.LittleEndian.Uint32(data[0:4]) != Magic {
		return nil, &espfs.ErrMountFailed{Kind: espfs.KindSPIFFS, Reason: "magic mismatch"}
	}
	size := int(binary.LittleEndian.Uint32(data[4:8]))
	if size == 0 || size > len(data) {
		size = len(data)
	}

	fs := &SPIFFS{size: size, files: map[string][]byte{}}
	off := headerSize
	for off+entryHeaderSize <= len(data) {
		nameLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
		if nameLen == 0 {
			break // end-of-table sentinel
		}
		dataLen := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		nameStart := off + entryHeaderSize
		nameEnd := nameStart + nameLen
		dataEnd := nameEnd + dataLen
		if dataEnd > len(data) {
			break
		}
		name := string(data[nameStart:nameEnd])
		fs.files[name] = append([]byte{}, data[nameEnd:dataEnd]...)
		off = dataEnd
	}
	return fs, nil
}

// New returns an empty SPIFFS image formatted for the given partition
// size.
func New(size int) *SPIFFS {
	return &SPIFFS{size: size, files: map[string][]byte{}}
}

func (s *SPIFFS) Kind() espfs.Kind { return espfs.KindSPIFFS }

func (s *SPIFFS) List(path string) ([]espfs.FileInfo, error) {
	prefix := strings.TrimPrefix(path, "/")
	var out []espfs.FileInfo
	for name, data := range s.files {
		if prefix != "" && !strings.HasPrefix(strings.TrimPrefix(name, "/"), prefix) {
			continue
		}
		out = append(out, espfs.FileInfo{Path: name, Size: len(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *SPIFFS) Read(path string) ([]byte, error) {
	data, ok := s.files[path]
	if !ok {
		return nil, &espfs.ErrNotSupported{Kind: espfs.KindSPIFFS, Op: "read " + path + " (not found)"}
	}
	return append([]byte{}, data...), nil
}

func (s *SPIFFS) Write(path string, data []byte) error {
	s.files[path] = append([]byte{}, data...)
	return nil
}

func (s *SPIFFS) Delete(path string) error {
	delete(s.files, path)
	return nil
}

// Mkdir always fails: SPIFFS is a flat namespace (spec.md §4.7).
func (s *SPIFFS) Mkdir(path string) error {
	return &espfs.ErrNotSupported{Kind: espfs.KindSPIFFS, Op: "mkdir"}
}

// Serialize reformats a blank image of partition size and re-inserts
// every file (spec.md §4.7).
func (s *SPIFFS) Serialize() ([]byte, error) {
	out := make([]byte, s.size)
	binary.LittleEndian.PutUint32(out[0:4], Magic)
	binary.LittleEndian.PutUint32(out[4:8], uint32(s.size))

	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)

	off := headerSize
	for _, name := range names {
		data := s.files[name]
		need := entryHeaderSize + len(name) + len(data)
		if off+need > len(out) {
			break
		}
		binary.LittleEndian.PutUint16(out[off:off+2], uint16(len(name)))
		binary.LittleEndian.PutUint32(out[off+4:off+8], uint32(len(data)))
		copy(out[off+entryHeaderSize:], name)
		copy(out[off+entryHeaderSize+len(name):], data)
		off += need
	}
	sentinelEnd := off
	if off+2 <= len(out) {
		out[off], out[off+1] = 0, 0
		sentinelEnd = off + 2
	}
	for i := sentinelEnd; i < len(out); i++ {
		out[i] = 0xFF
	}
	return out, nil
}

func (s *SPIFFS) UsedBytes() int {
	total := headerSize
	for name, data := range s.files {
		total += entryHeaderSize + len(name) + len(data)
	}
	return total
}
