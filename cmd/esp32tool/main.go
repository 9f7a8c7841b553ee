// Command esp32tool provisions and inspects ESP8266/ESP32-family flash
// over a serial or USB-bulk transport: chip detection, reset sequencing,
// flash read/write/erase, partition-table and filesystem inspection, and
// NVS key/value dumping (spec.md §1-§9).
package main

import (
	"context"
	"crypto/md5"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Jason2866/esp32tool/internal/chip"
	"github.com/Jason2866/esp32tool/internal/config"
	"github.com/Jason2866/esp32tool/internal/flasher"
	espfs "github.com/Jason2866/esp32tool/internal/fs"
	"github.com/Jason2866/esp32tool/internal/fs/fatfs"
	"github.com/Jason2866/esp32tool/internal/fs/littlefs"
	"github.com/Jason2866/esp32tool/internal/fs/partition"
	"github.com/Jason2866/esp32tool/internal/fs/spiffs"
	"github.com/Jason2866/esp32tool/internal/logging"
	"github.com/Jason2866/esp32tool/internal/nvs"
	"github.com/Jason2866/esp32tool/internal/session"
	"github.com/Jason2866/esp32tool/internal/stub"
	"github.com/Jason2866/esp32tool/internal/transport"
	"github.com/Jason2866/esp32tool/internal/ui"
)

// defaultFlashSize is used to fill FlashParams.TotalSize when the caller
// does not pass -flash-size; esptool falls back to a similar generic
// value when flash-ID autodetection is skipped.
const defaultFlashSize = 4 * 1024 * 1024

func usage() {
	fmt.Fprint(os.Stderr, `usage: esp32tool [-port dev] [-baud N] [-trace] <command> [args]

commands:
  ports                                 list serial and USB candidates
  sync                                  open the port and synchronize with the ROM
  chip-id                               detect and print the attached chip family
  write-flash <offset> <file>           write file contents to flash at offset
  read-flash <offset> <size> <out>      read size bytes from flash into out
  erase-flash                           erase the whole chip
  erase-region <offset> <size>          erase one region
  partitions                            dump the partition table at 0x8000
  fs ls <offset> <size> [path]          list files in a filesystem partition
  fs get <offset> <size> <path> <out>   extract one file from a filesystem partition
  nvs dump <offset> <size>              dump NVS key/value pairs
`)
}

func main() {
	portFlag := flag.String("port", "", "serial port, overrides ESP32TOOL_PORT")
	baudFlag := flag.Int("baud", 0, "baud rate, overrides ESP32TOOL_BAUD")
	traceFlag := flag.Bool("trace", false, "trace protocol exchanges to stderr")
	sizeFlag := flag.Uint64("flash-size", defaultFlashSize, "flash capacity in bytes, for SPI_SET_PARAMS")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd, rest := args[0], args[1:]

	if cmd == "ports" {
		runPorts()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	if *baudFlag != 0 {
		cfg.Baud = *baudFlag
	}
	if *traceFlag {
		cfg.Trace = true
	}
	if cfg.Port == "" {
		fail(fmt.Errorf("no serial port set: pass -port, set ESP32TOOL_PORT, or run 'esp32tool ports'"))
	}

	log := logging.Discard()
	if cfg.Trace {
		l, err := logging.New("", logging.LevelDebug)
		if err != nil {
			fail(err)
		}
		log = l
	}

	t, err := transport.OpenSerial(cfg.Port)
	if err != nil {
		fail(err)
	}

	events := make(chan session.Event, 16)
	sess := session.New(t, log, events)
	go logEvents(events)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sess.Open(ctx, cfg.Baud); err != nil {
		fail(fmt.Errorf("open %s: %w", cfg.Port, err))
	}
	defer sess.Close()

	switch cmd {
	case "sync":
		fmt.Printf("synchronized with ROM on %s\n", cfg.Port)
	case "chip-id":
		runChipID(ctx, sess)
	case "write-flash":
		runWriteFlash(ctx, sess, rest, uint32(*sizeFlag))
	case "read-flash":
		runReadFlash(ctx, sess, rest, uint32(*sizeFlag))
	case "erase-flash":
		runEraseFlash(ctx, sess, uint32(*sizeFlag))
	case "erase-region":
		runEraseRegion(ctx, sess, rest, uint32(*sizeFlag))
	case "partitions":
		runPartitions(ctx, sess, uint32(*sizeFlag))
	case "fs":
		runFS(ctx, sess, rest, uint32(*sizeFlag))
	case "nvs":
		runNVS(ctx, sess, rest, uint32(*sizeFlag))
	default:
		usage()
		os.Exit(2)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "esp32tool:", err)
	os.Exit(1)
}

func parseAddr(s string) uint32 {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		fail(fmt.Errorf("invalid address/size %q: %w", s, err))
	}
	return uint32(n)
}

// logEvents prints ChipDetected and PortWillChange notifications as they
// arrive; Progress is reported separately through a ui.Reporter per
// command instead, since each command already knows its own byte total.
func logEvents(events <-chan session.Event) {
	for ev := range events {
		switch ev.Kind {
		case session.EventChipDetected:
			fmt.Fprintf(os.Stderr, "chip detected: %s\n", ev.Chip.Family)
		case session.EventPortWillChange:
			fmt.Fprintf(os.Stderr, "port will change: %s reset in progress\n", ev.Reason)
		}
	}
}

func runPorts() {
	serial, err := transport.DiscoverSerialPorts()
	if err != nil {
		fail(err)
	}
	for _, c := range serial {
		fmt.Printf("serial\t%s\n", c.Path)
	}
	usb, err := transport.DiscoverUSBDevices()
	if err != nil {
		fail(err)
	}
	for _, c := range usb {
		fmt.Printf("usb\t%04x:%04x\t%s\n", c.VID, c.PID, c.Name)
	}
}

func runChipID(ctx context.Context, sess *session.Session) {
	d, err := sess.DetectChip(ctx)
	if err != nil {
		fail(err)
	}
	fmt.Printf("family: %s\n", d.Family)
}

// attach detects the chip, resets into download mode, attempts a stub
// upload (falling back to the ROM command set on ErrNotAvailable or a
// failed handshake, per spec.md §4.4), and attaches/configures SPI flash.
// Operations that need the stub's READ_FLASH (partitions, fs, nvs) must
// check stubActive themselves.
func attach(ctx context.Context, sess *session.Session, flashSize uint32) (*flasher.Flasher, chip.Descriptor, bool) {
	d, err := sess.DetectChip(ctx)
	if err != nil {
		fail(err)
	}
	if _, err := sess.Reset(ctx, true); err != nil {
		fail(fmt.Errorf("reset into download mode: %w", err))
	}

	stubActive := false
	if img, err := stub.Load(d); err == nil {
		if err := stub.Upload(ctx, sess.Engine(), img); err == nil {
			stubActive = true
		}
	}

	f := flasher.New(sess.Engine(), nil)
	if err := f.Attach(ctx); err != nil {
		fail(fmt.Errorf("SPI attach: %w", err))
	}
	params := flasher.FlashParams{
		TotalSize:  flashSize,
		BlockSize:  64 * 1024,
		SectorSize: 4096,
		PageSize:   256,
		StatusMask: 0xFFFF,
	}
	if err := f.SetParams(ctx, params); err != nil {
		fail(fmt.Errorf("SPI set params: %w", err))
	}
	return f, d, stubActive
}

func runWriteFlash(ctx context.Context, sess *session.Session, rest []string, flashSize uint32) {
	if len(rest) != 2 {
		fail(fmt.Errorf("write-flash needs <offset> <file>"))
	}
	offset := parseAddr(rest[0])
	data, err := os.ReadFile(rest[1])
	if err != nil {
		fail(err)
	}

	f, _, stubActive := attach(ctx, sess, flashSize)
	report := ui.NewReporter("write-flash", os.Stdout)

	err = f.Write(ctx, flasher.WriteOptions{
		Offset:   offset,
		Data:     data,
		Compress: stubActive,
		Progress: report.Report,
	})
	if err == nil {
		err = f.VerifyMD5(ctx, offset, uint32(len(data)), md5.Sum(data))
	}
	report.Finish(err)
	if err != nil {
		os.Exit(1)
	}
}

func runReadFlash(ctx context.Context, sess *session.Session, rest []string, flashSize uint32) {
	if len(rest) != 3 {
		fail(fmt.Errorf("read-flash needs <offset> <size> <out>"))
	}
	offset := parseAddr(rest[0])
	size := parseAddr(rest[1])

	f, _, stubActive := attach(ctx, sess, flashSize)
	if !stubActive {
		fail(fmt.Errorf("read-flash requires the RAM stub, which this chip did not accept"))
	}

	report := ui.NewReporter("read-flash", os.Stdout)
	data, err := f.Read(ctx, offset, size, flasher.ParamsDesktopNative, report.Report)
	report.Finish(err)
	if err != nil {
		os.Exit(1)
	}
	if err := os.WriteFile(rest[2], data, 0o644); err != nil {
		fail(err)
	}
}

func runEraseFlash(ctx context.Context, sess *session.Session, flashSize uint32) {
	f, _, _ := attach(ctx, sess, flashSize)
	report := ui.NewReporter("erase-flash", os.Stdout)
	err := f.EraseFull(ctx)
	report.Finish(err)
	if err != nil {
		os.Exit(1)
	}
}

func runEraseRegion(ctx context.Context, sess *session.Session, rest []string, flashSize uint32) {
	if len(rest) != 2 {
		fail(fmt.Errorf("erase-region needs <offset> <size>"))
	}
	offset, size := parseAddr(rest[0]), parseAddr(rest[1])

	f, _, _ := attach(ctx, sess, flashSize)
	report := ui.NewReporter("erase-region", os.Stdout)
	err := f.EraseRegion(ctx, offset, size)
	report.Finish(err)
	if err != nil {
		os.Exit(1)
	}
}

func runPartitions(ctx context.Context, sess *session.Session, flashSize uint32) {
	f, _, stubActive := attach(ctx, sess, flashSize)
	if !stubActive {
		fail(fmt.Errorf("partitions requires the RAM stub, which this chip did not accept"))
	}
	data, err := f.Read(ctx, partition.TableOffset, partition.TableSize, flasher.ParamsDesktopNative, nil)
	if err != nil {
		fail(err)
	}
	entries, err := partition.Parse(data)
	if err != nil {
		fail(err)
	}
	for _, e := range entries {
		fmt.Printf("%-16s type=%02x subtype=%02x offset=0x%06x size=0x%06x\n", e.Name, e.Type, e.Subtype, e.Offset, e.Size)
	}
}

func mountFS(data []byte, family chip.Family) (espfs.Filesystem, error) {
	blockSizes := espfs.DesktopBlockSizes
	if family == chip.ESP8266 {
		blockSizes = espfs.ESP8266BlockSizes
	}
	headLen := len(data)
	if headLen > 8192 {
		headLen = 8192
	}
	kind, blockSize := espfs.Detect(data[:headLen], blockSizes)
	switch kind {
	case espfs.KindLittleFS:
		opts := littlefs.MountOptions{}
		if family == chip.ESP8266 {
			opts = littlefs.ESP8266Options
		}
		return littlefs.Mount(data, blockSize, opts)
	case espfs.KindFAT:
		return fatfs.Mount(data)
	case espfs.KindSPIFFS:
		return spiffs.Mount(data)
	default:
		return nil, &espfs.ErrUnknownFilesystem{}
	}
}

func runFS(ctx context.Context, sess *session.Session, rest []string, flashSize uint32) {
	if len(rest) < 3 {
		fail(fmt.Errorf("fs needs a subcommand: ls <offset> <size> [path] | get <offset> <size> <path> <out>"))
	}
	sub := rest[0]
	offset, size := parseAddr(rest[1]), parseAddr(rest[2])

	f, d, stubActive := attach(ctx, sess, flashSize)
	if !stubActive {
		fail(fmt.Errorf("fs inspection requires the RAM stub, which this chip did not accept"))
	}
	data, err := f.Read(ctx, offset, size, flasher.ParamsDesktopNative, nil)
	if err != nil {
		fail(err)
	}
	image, err := mountFS(data, d.Family)
	if err != nil {
		fail(err)
	}

	switch sub {
	case "ls":
		path := ""
		if len(rest) > 3 {
			path = rest[3]
		}
		entries, err := image.List(path)
		if err != nil {
			fail(err)
		}
		for _, fi := range entries {
			tag := "f"
			if fi.IsDir {
				tag = "d"
			}
			fmt.Printf("%s\t%8d\t%s\n", tag, fi.Size, fi.Path)
		}
	case "get":
		if len(rest) != 5 {
			fail(fmt.Errorf("fs get needs <offset> <size> <path> <out>"))
		}
		content, err := image.Read(rest[3])
		if err != nil {
			fail(err)
		}
		if err := os.WriteFile(rest[4], content, 0o644); err != nil {
			fail(err)
		}
	default:
		fail(fmt.Errorf("fs: unknown subcommand %q", sub))
	}
}

func runNVS(ctx context.Context, sess *session.Session, rest []string, flashSize uint32) {
	if len(rest) < 3 || rest[0] != "dump" {
		fail(fmt.Errorf("nvs needs: dump <offset> <size>"))
	}
	offset, size := parseAddr(rest[1]), parseAddr(rest[2])

	f, _, stubActive := attach(ctx, sess, flashSize)
	if !stubActive {
		fail(fmt.Errorf("nvs dump requires the RAM stub, which this chip did not accept"))
	}
	data, err := f.Read(ctx, offset, size, flasher.ParamsDesktopNative, nil)
	if err != nil {
		fail(err)
	}
	store, err := nvs.Parse(data)
	if err != nil {
		fail(err)
	}
	for _, e := range store.Entries() {
		ns, _ := store.Namespace(e.Namespace)
		fmt.Printf("%-16s %-16s %-10s %s\n", ns, e.Key, nvsTypeName(e.Type), nvsValue(e))
	}
}

func nvsTypeName(t nvs.Type) string {
	switch t {
	case nvs.TypeU8, nvs.TypeU16, nvs.TypeU32, nvs.TypeU64:
		return "uint"
	case nvs.TypeI8, nvs.TypeI16, nvs.TypeI32, nvs.TypeI64:
		return "int"
	case nvs.TypeString:
		return "string"
	case nvs.TypeBlobData, nvs.TypeBlob:
		return "blob"
	case nvs.TypeBlobIdx:
		return "blob_idx"
	default:
		return "unknown"
	}
}

func nvsValue(e nvs.Entry) string {
	switch e.Type {
	case nvs.TypeString:
		return e.String
	case nvs.TypeBlobData, nvs.TypeBlob:
		return fmt.Sprintf("%d bytes", len(e.Blob))
	case nvs.TypeBlobIdx:
		return fmt.Sprintf("total=%d chunks=%d start=%d", e.Index.TotalSize, e.Index.ChunkCount, e.Index.ChunkStart)
	default:
		return strconv.FormatUint(e.Primitive, 10)
	}
}
