// Package fs defines the common filesystem-codec surface (spec.md §4.7):
// detection, and the List/Read/Write/Delete/Mkdir/Serialize operations
// each of littlefs, spiffs and fatfs implements against a raw partition
// image.
package fs

import "fmt"

// Kind identifies which codec matched a region during detection.
type Kind int

const (
	Unknown Kind = iota
	KindLittleFS
	KindFAT
	KindSPIFFS
)

func (k Kind) String() string {
	switch k {
	case KindLittleFS:
		return "littlefs"
	case KindFAT:
		return "fat"
	case KindSPIFFS:
		return "spiffs"
	default:
		return "unknown"
	}
}

// ErrMountFailed is returned when no candidate block size yields a valid
// superblock (spec.md §4.7).
type ErrMountFailed struct {
	Kind   Kind
	Reason string
}

func (e *ErrMountFailed) Error() string {
	return fmt.Sprintf("fs: %s: mount failed: %s", e.Kind, e.Reason)
}

// ErrUnknownFilesystem reports that no probe matched a region. Detect
// itself returns the Unknown kind; callers that mount the region (the
// CLI's fs commands) turn that into this error.
type ErrUnknownFilesystem struct{}

func (e *ErrUnknownFilesystem) Error() string { return "fs: unknown filesystem" }

// ErrNotSupported is returned for operations a codec does not implement
// (e.g. SPIFFS mkdir).
type ErrNotSupported struct {
	Kind Kind
	Op   string
}

func (e *ErrNotSupported) Error() string {
	return fmt.Sprintf("fs: %s: %s not supported", e.Kind, e.Op)
}

// FileInfo describes one entry returned by List.
type FileInfo struct {
	Path  string
	Size  int
	IsDir bool
}

// Filesystem is the operation set every codec implements against an
// in-memory partition image (spec.md §4.7).
type Filesystem interface {
	Kind() Kind
	List(path string) ([]FileInfo, error)
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Delete(path string) error
	Mkdir(path string) error
	Serialize() ([]byte, error)
	// UsedBytes estimates space in use. The LittleFS codec returns a
	// monotone upper bound of the true value (spec.md §4.7 "Usage
	// estimation"); the FAT codec's estimate is not an upper bound (see
	// fatfs.FAT.UsedBytes).
	UsedBytes() int
}
