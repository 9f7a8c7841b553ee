// Package partition parses the ESP32-family partition table: a 4 KiB
// region at flash offset 0x8000 holding up to 128 32-byte entries
// terminated by an all-0xFF sentinel (spec.md §3, §6).
package partition

import (
	"encoding/binary"
	"fmt"
)

// TableOffset is the flash offset of the partition table on every
// ESP32-family chip (spec.md §3).
const TableOffset = 0x8000

// TableSize is the region's total size; the table itself may end long
// before this with a run of 0xFF bytes.
const TableSize = 0x1000

// EntrySize is the fixed size of one partition entry.
const EntrySize = 32

// magic is the two bytes every valid entry starts with (spec.md §6).
const magic = 0x50AA

// Type identifies an app or data partition (spec.md §6).
type Type byte

const (
	TypeApp  Type = 0x00
	TypeData Type = 0x01
)

// Subtype enumerates the type/subtype pairs spec.md §6 names.
type Subtype byte

const (
	SubtypeAppFactory Subtype = 0x00
	// SubtypeAppOTAMin..Max span 0x10-0x15 for ota_0..ota_5; use
	// IsOTASlot to test membership rather than naming all six.
	SubtypeAppOTAMin Subtype = 0x10
	SubtypeAppOTAMax Subtype = 0x15
	SubtypeAppTest   Subtype = 0x20

	SubtypeDataOTA      Subtype = 0x00
	SubtypeDataPHY      Subtype = 0x01
	SubtypeDataNVS      Subtype = 0x02
	SubtypeDataCoredump Subtype = 0x03
	SubtypeDataNVSKeys  Subtype = 0x04
	SubtypeDataEfuse    Subtype = 0x05
	SubtypeDataFAT      Subtype = 0x81
	SubtypeDataSPIFFS   Subtype = 0x82
)

// IsOTASlot reports whether (t, s) names one of the ota_0..ota_5 app
// slots.
func IsOTASlot(t Type, s Subtype) bool {
	return t == TypeApp && s >= SubtypeAppOTAMin && s <= SubtypeAppOTAMax
}

// Entry is one decoded partition-table row.
type Entry struct {
	Name    string
	Type    Type
	Subtype Subtype
	Offset  uint32
	Size    uint32
	Flags   uint32
}

// ErrMalformed is returned when an entry's magic bytes do not match and
// it is not the trailing all-0xFF terminator.
type ErrMalformed struct {
	Index int
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("partition: entry %d has invalid magic", e.Index)
}

// Parse decodes table, a byte region starting at TableOffset (the caller
// has already read it from flash), into the list of entries preceding the
// first 0xFF-filled or magic-less row.
func Parse(table []byte) ([]Entry, error) {
	var entries []Entry
	for i := 0; i+EntrySize <= len(table); i += EntrySize {
		row := table[i : i+EntrySize]
		if isTerminator(row) {
			break
		}
		got := binary.LittleEndian.Uint16(row[0:2])
		if got != magic {
			return entries, &ErrMalformed{Index: i / EntrySize}
		}
		name := decodeName(row[2:18])
		entries = append(entries, Entry{
			Name:    name,
			Type:    Type(row[18]),
			Subtype: Subtype(row[19]),
			Offset:  binary.LittleEndian.Uint32(row[20:24]),
			Size:    binary.LittleEndian.Uint32(row[24:28]),
			Flags:   binary.LittleEndian.Uint32(row[28:32]),
		})
	}
	return entries, nil
}

func isTerminator(row []byte) bool {
	for _, b := range row {
		if b != 0xFF {
			return false
		}
	}
	return true
}

func decodeName(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Encode re-serializes entries into a TableSize-byte region, padding the
// remainder with 0xFF.
func Encode(entries []Entry) []byte {
	out := make([]byte, TableSize)
	for i := range out {
		out[i] = 0xFF
	}
	for i, e := range entries {
		off := i * EntrySize
		if off+EntrySize > len(out) {
			break
		}
		row := out[off : off+EntrySize]
		binary.LittleEndian.PutUint16(row[0:2], magic)
		name := row[2:18]
		for j := range name {
			name[j] = 0
		}
		copy(name, []byte(e.Name))
		row[18] = byte(e.Type)
		row[19] = byte(e.Subtype)
		binary.LittleEndian.PutUint32(row[20:24], e.Offset)
		binary.LittleEndian.PutUint32(row[24:28], e.Size)
		binary.LittleEndian.PutUint32(row[28:32], e.Flags)
	}
	return out
}

// Find returns the first entry matching (t, s), for locating the NVS or
// a FAT/SPIFFS data partition.
func Find(entries []Entry, t Type, s Subtype) (Entry, bool) {
	for _, e := range entries {
		if e.Type == t && e.Subtype == s {
			return e, true
		}
	}
	return Entry{}, false
}
