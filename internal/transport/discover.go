package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/gousb"
)

// Candidate is a connection point the reset sequencer or CLI can offer to
// the user before a session opens a Transport.
type Candidate struct {
	Path     string // tty device node, empty for pure-USB candidates
	VID, PID uint16
	Kind     Kind
	Name     string
}

// DiscoverSerialPorts lists /dev/ttyUSB*, /dev/ttyACM*, /dev/cu.* and /dev/tty.* nodes
// present on the host. It does not open them — opening is left to the
// caller so a half-open port from a previous session cannot be stolen out
// from under it.
func DiscoverSerialPorts() ([]Candidate, error) {
	var globs []string
	for _, pattern := range []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/cu.*", "/dev/tty.*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("transport: glob %s: %w", pattern, err)
		}
		globs = append(globs, matches...)
	}
	sort.Strings(globs)

	out := make([]Candidate, 0, len(globs))
	for _, path := range globs {
		if info, err := os.Stat(path); err != nil || info.Mode()&os.ModeCharDevice == 0 {
			continue
		}
		out = append(out, Candidate{Path: path})
	}
	return out, nil
}

// DiscoverUSBDevices probes the USB bus for every VID/PID in KnownDevices
// concurrently, a worker-pool fan-out over a short static list rather
// than a network sweep.
func DiscoverUSBDevices() ([]Candidate, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Candidate
	)

	for _, known := range KnownDevices {
		wg.Add(1)
		go func(k KnownDevice) {
			defer wg.Done()
			dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(k.VID), gousb.ID(k.PID))
			if err != nil || dev == nil {
				return
			}
			defer dev.Close()

			mu.Lock()
			results = append(results, Candidate{VID: k.VID, PID: k.PID, Kind: k.Kind, Name: k.Name})
			mu.Unlock()
		}(known)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		if results[i].VID != results[j].VID {
			return results[i].VID < results[j].VID
		}
		return results[i].PID < results[j].PID
	})
	return results, nil
}
