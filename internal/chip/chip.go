// Package chip holds the compile-time registry of per-family constants
// needed to talk to an ESP ROM bootloader: register bases, SPI offsets,
// watchdog keys, and the ROM .bss probes used to tell a USB-OTG chip from
// a USB-JTAG/Serial one.
package chip

// Family tags an ESP chip family. Values are stable and used as keys
// into the registry map, never serialized on the wire.
type Family int

const (
	Unknown Family = iota
	ESP8266
	ESP32
	ESP32S2
	ESP32S3
	ESP32C2
	ESP32C3
	ESP32C5
	ESP32C6
	ESP32C61
	ESP32H2
	ESP32H4
	ESP32H21
	ESP32P4
	ESP32S31
)

func (f Family) String() string {
	if n, ok := familyNames[f]; ok {
		return n
	}
	return "unknown"
}

var familyNames = map[Family]string{
	ESP8266:  "ESP8266",
	ESP32:    "ESP32",
	ESP32S2:  "ESP32-S2",
	ESP32S3:  "ESP32-S3",
	ESP32C2:  "ESP32-C2",
	ESP32C3:  "ESP32-C3",
	ESP32C5:  "ESP32-C5",
	ESP32C6:  "ESP32-C6",
	ESP32C61: "ESP32-C61",
	ESP32H2:  "ESP32-H2",
	ESP32H4:  "ESP32-H4",
	ESP32H21: "ESP32-H21",
	ESP32P4:  "ESP32-P4",
	ESP32S31: "ESP32-S31",
}

// SPIRegs is the offset of the USR/USR1/USR2/MOSI_DLEN/MISO_DLEN/W0
// sub-registers relative to the family's SPI base.
type SPIRegs struct {
	Base     uint32
	Usr      uint32
	Usr1     uint32
	Usr2     uint32
	MosiDlen uint32
	MisoDlen uint32
	W0       uint32
}

// WDTRegs is the RTC watchdog protect/config register triple and the
// family's write-key, used by the reset sequencer's WDT strategy.
type WDTRegs struct {
	WriteProtect uint32
	Config0      uint32
	Config1      uint32
	WriteKey     uint32
}

// EfuseRegs locates the EFUSE base and the MAC address words within it.
type EfuseRegs struct {
	Base    uint32
	MACWord uint32 // address of the first of the two MAC words
}

// UARTDevBufNoResolver resolves the address of the UARTDEV_BUF_NO ROM .bss
// cell for a given chip revision. Most families have a single fixed
// address; ESP32-S3 and ESP32-P4 resolve a different address by revision
// (§3). The ESP32-C3 resolver returns 0x3FCDF07C for every revision.
type UARTDevBufNoResolver func(revision int) uint32

// Descriptor is the immutable per-family record described in spec.md §3.
type Descriptor struct {
	Family   Family
	ChipID   uint32 // value read from the chip-id register (0x40001000), 0 if not applicable
	Magic    uint32 // legacy UART-date-register magic value, 0 if not applicable

	BootloaderOffset uint32
	SPI              SPIRegs
	Efuse            EfuseRegs
	UARTDateReg      uint32

	WDT WDTRegs

	// UARTDevBufNo resolves the ROM .bss address holding the active UART
	// device number for the given chip revision.
	UARTDevBufNo UARTDevBufNoResolver
	// USBJTAGSentinel / USBOTGSentinel are the byte values read at
	// UARTDevBufNo that indicate the corresponding USB personality is
	// active. A zero sentinel means the family never exposes that path.
	USBJTAGSentinel byte
	USBOTGSentinel  byte

	// Option1Reg is RTC_CNTL_OPTION1, whose FORCE_DOWNLOAD_BOOT bit must be
	// cleared before a firmware-mode reset on USB-OTG-native chips (0 if
	// the family has no such register).
	Option1Reg        uint32
	ForceDLBootMask   uint32

	// StubEntry is the RAM address the stub image is loaded at and the
	// entry point the stub loader jumps to after MEM_END.
	StubEntry uint32

	// SupportsChangeBaudrate is false only for ESP8266 (§4.3).
	SupportsChangeBaudrate bool

	// StrapGPIO and ForceDownloadBootBit are optional GPIO strap and
	// "force-download-boot" bits; zero value means "not applicable".
	StrapGPIO             int
	ForceDownloadBootBit  int
}

// defaultWriteKey is the WDT unlock key shared by every family that has
// not been observed to use a different one (spec.md §4.6, §8 invariant 3).
const defaultWriteKey = 0x50D83AA1

// registry is the compile-time descriptor table, indexed by Family. Built
// once at init and never mutated (spec.md §9 "prefer a compile-time table").
var registry = map[Family]Descriptor{
	ESP8266: {
		Family:                 ESP8266,
		Magic:                  0xFFF0C101,
		BootloaderOffset:       0x0,
		UARTDateReg:            0x3FF20000,
		SPI:                    SPIRegs{Base: 0x60000200, Usr: 0x1C, Usr1: 0x20, Usr2: 0x24, MosiDlen: 0x0, MisoDlen: 0x0, W0: 0x40},
		Efuse:                  EfuseRegs{Base: 0x3FF00050, MACWord: 0x3FF00050},
		WDT:                    WDTRegs{},
		SupportsChangeBaudrate: false,
		StubEntry:              0x4010E000,
	},
	ESP32: {
		Family:                 ESP32,
		Magic:                  0x00F01D83,
		BootloaderOffset:       0x1000,
		UARTDateReg:            0x3FF5F000,
		SPI:                    SPIRegs{Base: 0x3FF42000, Usr: 0x1C, Usr1: 0x20, Usr2: 0x24, MosiDlen: 0x28, MisoDlen: 0x2C, W0: 0x80},
		Efuse:                  EfuseRegs{Base: 0x3FF5A000, MACWord: 0x3FF5A000 + 0x04},
		WDT:                    WDTRegs{WriteProtect: 0x3FF48064, Config0: 0x3FF48048, Config1: 0x3FF4804C, WriteKey: defaultWriteKey},
		SupportsChangeBaudrate: true,
		StubEntry:              0x400A2190,
	},
	ESP32S2: {
		Family:                 ESP32S2,
		Magic:                  0x000007C6,
		BootloaderOffset:       0x1000,
		UARTDateReg:            0x3F400000,
		SPI:                    SPIRegs{Base: 0x3F402000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegs{Base: 0x3F41A000, MACWord: 0x3F41A044},
		WDT:                    WDTRegs{WriteProtect: 0x3F408064, Config0: 0x3F408048, Config1: 0x3F40804C, WriteKey: defaultWriteKey},
		UARTDevBufNo:           fixedUARTDevBufNo(0x3FFFFD14),
		USBOTGSentinel:         2,
		Option1Reg:             0x3F408128,
		ForceDLBootMask:        0x1,
		SupportsChangeBaudrate: true,
		StubEntry:              0x4000802C,
	},
	ESP32S3: {
		Family:                 ESP32S3,
		ChipID:                 0x9,
		BootloaderOffset:       0x0,
		SPI:                    SPIRegs{Base: 0x60002000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegs{Base: 0x60007000, MACWord: 0x60007044},
		WDT:                    WDTRegs{WriteProtect: 0x60008064, Config0: 0x60008048, Config1: 0x6000804C, WriteKey: defaultWriteKey},
		UARTDevBufNo: func(rev int) uint32 {
			if rev >= 3 {
				return 0x3FCEF020
			}
			return 0x3FCEB864
		},
		USBJTAGSentinel:        3,
		SupportsChangeBaudrate: true,
		StubEntry:              0x403CB700,
	},
	ESP32C2: {
		Family:                 ESP32C2,
		ChipID:                 0xC,
		BootloaderOffset:       0x0,
		SPI:                    SPIRegs{Base: 0x60002000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegs{Base: 0x60008800, MACWord: 0x60008844},
		WDT:                    WDTRegs{WriteProtect: 0x60008090, Config0: 0x60008074, Config1: 0x60008078, WriteKey: defaultWriteKey},
		SupportsChangeBaudrate: true,
		StubEntry:              0x403C88D4,
	},
	ESP32C3: {
		Family:                 ESP32C3,
		ChipID:                 0x5,
		BootloaderOffset:       0x0,
		SPI:                    SPIRegs{Base: 0x60002000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegs{Base: 0x60008800, MACWord: 0x60008844},
		WDT:                    WDTRegs{WriteProtect: 0x60008090, Config0: 0x60008074, Config1: 0x60008078, WriteKey: defaultWriteKey},
		UARTDevBufNo: func(rev int) uint32 {
			if rev >= 3 {
				return 0x3FCDF07C
			}
			return 0x3FCDF07C
		},
		USBJTAGSentinel:        3,
		SupportsChangeBaudrate: true,
		StubEntry:              0x403CB710,
	},
	ESP32C6: {
		Family:                 ESP32C6,
		ChipID:                 0xD,
		BootloaderOffset:       0x0,
		SPI:                    SPIRegs{Base: 0x60003000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegs{Base: 0x600B0800, MACWord: 0x600B0844},
		WDT:                    WDTRegs{WriteProtect: 0x600B1094, Config0: 0x600B1078, Config1: 0x600B107C, WriteKey: defaultWriteKey},
		UARTDevBufNo:           fixedUARTDevBufNo(0x4084FED4),
		USBJTAGSentinel:        3,
		SupportsChangeBaudrate: true,
		StubEntry:              0x40800000,
	},
	ESP32C61: {
		Family:                 ESP32C61,
		ChipID:                 0x11,
		BootloaderOffset:       0x0,
		SPI:                    SPIRegs{Base: 0x60003000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegs{Base: 0x600B0800, MACWord: 0x600B0844},
		WDT:                    WDTRegs{WriteProtect: 0x600B1094, Config0: 0x600B1078, Config1: 0x600B107C, WriteKey: defaultWriteKey},
		UARTDevBufNo:           fixedUARTDevBufNo(0x4084FED4),
		USBJTAGSentinel:        3,
		SupportsChangeBaudrate: true,
	},
	ESP32C5: {
		Family:                 ESP32C5,
		ChipID:                 0x12,
		BootloaderOffset:       0x2000,
		SPI:                    SPIRegs{Base: 0x60003000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegs{Base: 0x600B0800, MACWord: 0x600B0844},
		WDT:                    WDTRegs{WriteProtect: 0x600B1094, Config0: 0x600B1078, Config1: 0x600B107C, WriteKey: defaultWriteKey},
		UARTDevBufNo:           fixedUARTDevBufNo(0x4084FED4),
		USBJTAGSentinel:        3,
		SupportsChangeBaudrate: true,
	},
	ESP32H2: {
		Family:                 ESP32H2,
		ChipID:                 0x10,
		BootloaderOffset:       0x0,
		SPI:                    SPIRegs{Base: 0x60003000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegs{Base: 0x600B0800, MACWord: 0x600B0844},
		WDT:                    WDTRegs{WriteProtect: 0x600B1094, Config0: 0x600B1078, Config1: 0x600B107C, WriteKey: defaultWriteKey},
		UARTDevBufNo:           fixedUARTDevBufNo(0x4084FED4),
		USBJTAGSentinel:        3,
		SupportsChangeBaudrate: true,
	},
	ESP32H4: {
		Family:                 ESP32H4,
		ChipID:                 0x13,
		BootloaderOffset:       0x0,
		SPI:                    SPIRegs{Base: 0x60003000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegs{Base: 0x600B0800, MACWord: 0x600B0844},
		WDT:                    WDTRegs{WriteProtect: 0x600B1094, Config0: 0x600B1078, Config1: 0x600B107C, WriteKey: defaultWriteKey},
		UARTDevBufNo:           fixedUARTDevBufNo(0x4084FED4),
		USBJTAGSentinel:        3,
		SupportsChangeBaudrate: true,
	},
	ESP32H21: {
		Family:                 ESP32H21,
		ChipID:                 0x14,
		BootloaderOffset:       0x0,
		SPI:                    SPIRegs{Base: 0x60003000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegs{Base: 0x600B0800, MACWord: 0x600B0844},
		WDT:                    WDTRegs{WriteProtect: 0x600B1094, Config0: 0x600B1078, Config1: 0x600B107C, WriteKey: defaultWriteKey},
		UARTDevBufNo:           fixedUARTDevBufNo(0x4084FED4),
		USBJTAGSentinel:        3,
		SupportsChangeBaudrate: true,
	},
	ESP32P4: {
		Family:           ESP32P4,
		ChipID:           0x12,
		BootloaderOffset: 0x2000,
		SPI:              SPIRegs{Base: 0x50002000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:            EfuseRegs{Base: 0x5012D000, MACWord: 0x5012D044},
		WDT:              WDTRegs{WriteProtect: 0x50116094, Config0: 0x50116078, Config1: 0x5011607C, WriteKey: defaultWriteKey},
		UARTDevBufNo: func(rev int) uint32 {
			if rev >= 1 {
				return 0x4FF3FEC8
			}
			return 0x4FF3FEC0
		},
		USBOTGSentinel:         2,
		USBJTAGSentinel:        3,
		Option1Reg:             0x50116128,
		ForceDLBootMask:        0x1,
		SupportsChangeBaudrate: true,
	},
	ESP32S31: {
		Family:                 ESP32S31,
		ChipID:                 0x15,
		BootloaderOffset:       0x0,
		SPI:                    SPIRegs{Base: 0x60002000, Usr: 0x18, Usr1: 0x1C, Usr2: 0x20, MosiDlen: 0x24, MisoDlen: 0x28, W0: 0x58},
		Efuse:                  EfuseRegs{Base: 0x60007000, MACWord: 0x60007044},
		WDT:                    WDTRegs{WriteProtect: 0x60008064, Config0: 0x60008048, Config1: 0x6000804C, WriteKey: defaultWriteKey},
		UARTDevBufNo:           fixedUARTDevBufNo(0x3FCEF020),
		USBJTAGSentinel:        3,
		SupportsChangeBaudrate: true,
	},
}

func fixedUARTDevBufNo(addr uint32) UARTDevBufNoResolver {
	return func(int) uint32 { return addr }
}

// ChipIDTable maps the chip-id register value (read at 0x40001000) to a
// family, used as chip-detection method (b) in spec.md §4.3.
var ChipIDTable = map[uint32]Family{
	0x5:  ESP32C3,
	0x9:  ESP32S3,
	0xC:  ESP32C2,
	0xD:  ESP32C6,
	0x10: ESP32H2,
	0x11: ESP32C61,
	0x12: ESP32C5,
	0x13: ESP32H4,
	0x14: ESP32H21,
	0x15: ESP32S31,
}

// MagicTable maps the legacy UART-date-register magic value to a family,
// used as chip-detection method (a).
var MagicTable = map[uint32]Family{
	0xFFF0C101: ESP8266,
	0x00F01D83: ESP32,
	0x000007C6: ESP32S2,
}

// ChipIDRegister is the address read by detection method (b), common to
// every family that implements it (spec.md §4.3).
const ChipIDRegister = 0x40001000

// Lookup returns the descriptor for a family. ok is false for Unknown or
// any family not present in the table — spec.md §8 invariant 3 requires
// that every registered family have exactly one descriptor, which this
// map guarantees by construction.
func Lookup(f Family) (Descriptor, bool) {
	d, ok := registry[f]
	return d, ok
}

// All returns every registered descriptor, stable-ordered by Family value.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(registry))
	for f := ESP8266; f <= ESP32S31; f++ {
		if d, ok := registry[f]; ok {
			out = append(out, d)
		}
	}
	return out
}

// ResolveUARTDevBufNo resolves the ROM .bss address for a descriptor at a
// given chip revision. Families without USB-JTAG/OTG (ESP8266, plain
// ESP32) return (0, false): the reset sequencer must not attempt a WDT
// strategy for them (spec.md §4.6, §8 boundary behavior).
func (d Descriptor) ResolveUARTDevBufNo(revision int) (uint32, bool) {
	if d.UARTDevBufNo == nil {
		return 0, false
	}
	return d.UARTDevBufNo(revision), true
}

// HasUSBOTG reports whether this family ever presents the USB-OTG-native
// personality (ESP32-S2, ESP32-P4).
func (d Descriptor) HasUSBOTG() bool { return d.USBOTGSentinel != 0 }

// HasUSBJTAG reports whether this family ever presents the USB-JTAG/Serial
// personality.
func (d Descriptor) HasUSBJTAG() bool { return d.USBJTAGSentinel != 0 }
