// Package reset drives a target ESP chip into download or firmware mode
// using the strategy appropriate to its USB path (spec.md §4.6): classic
// DTR/RTS for external-UART boards, or a watchdog-timer reset for chips
// whose USB-JTAG/Serial or USB-OTG personality leaves no DTR/RTS line
// wired to EN/IO0.
package reset

import (
	"context"
	"time"

	"github.com/Jason2866/esp32tool/internal/chip"
	"github.com/Jason2866/esp32tool/internal/protocol"
	"github.com/Jason2866/esp32tool/internal/transport"
)

// Strategy identifies which of the three reset sequences applies.
type Strategy int

const (
	StrategyClassic Strategy = iota
	StrategyUSBJTAG
	StrategyUSBOTG
)

func (s Strategy) String() string {
	switch s {
	case StrategyUSBJTAG:
		return "usb-jtag"
	case StrategyUSBOTG:
		return "usb-otg"
	default:
		return "classic"
	}
}

// Select consults the chip descriptor's UARTDEV_BUF_NO ROM .bss cell
// (spec.md §4.6): the engine reads one byte there and compares it against
// the family's USB-OTG and USB-JTAG sentinels. Families without either
// sentinel (ESP8266, plain ESP32) always use the classic strategy.
func Select(ctx context.Context, e *protocol.Engine, d chip.Descriptor, revision int) (Strategy, error) {
	if !d.HasUSBOTG() && !d.HasUSBJTAG() {
		return StrategyClassic, nil
	}
	addr, ok := d.ResolveUARTDevBufNo(revision)
	if !ok {
		return StrategyClassic, nil
	}
	word, err := e.ReadReg(ctx, addr&^0x3)
	if err != nil {
		return StrategyClassic, err
	}
	shift := uint((addr & 0x3) * 8)
	b := byte(word >> shift)

	switch {
	case d.HasUSBOTG() && b == d.USBOTGSentinel:
		return StrategyUSBOTG, nil
	case d.HasUSBJTAG() && b == d.USBJTAGSentinel:
		return StrategyUSBJTAG, nil
	default:
		return StrategyClassic, nil
	}
}

// Classic drives RTS high to assert EN-low, then — if entering download
// mode — holds DTR high (IO0 low) during the RTS pulse, releasing DTR 50ms
// after RTS (spec.md §4.6).
func Classic(t transport.Transport, downloadMode bool) error {
	no, yes := false, true

	if downloadMode {
		if err := t.SetSignals(transport.Signals{DTR: &yes}); err != nil {
			return err
		}
	}
	if err := t.SetSignals(transport.Signals{RTS: &yes}); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := t.SetSignals(transport.Signals{RTS: &no}); err != nil {
		return err
	}
	if downloadMode {
		time.Sleep(50 * time.Millisecond)
		if err := t.SetSignals(transport.Signals{DTR: &no}); err != nil {
			return err
		}
	}
	return nil
}

// wdtStage1Ticks and config0EnableStage0SystemReset mirror the timings spec.md §4.6 calls out for the WDT
// sequence: a ~2 second CONFIG1 stage, then CONFIG0 enabling stage0 as a
// full system reset.
const wdtStage1Ticks = 2000 // milliseconds, loaded into RTC_CNTL_WDT_CONFIG1

// wdtReset arms and fires the RTC watchdog: unlock with the family's
// write key, program CONFIG1 with the reset stage, enable CONFIG0 with
// stage0=system-reset, then relock (spec.md §4.6).
func wdtReset(ctx context.Context, e *protocol.Engine, d chip.Descriptor) error {
	if d.WDT.WriteKey == 0 {
		return &protocol.ErrNotSupported{Reason: "chip family has no RTC watchdog descriptor"}
	}
	key := d.WDT.WriteKey
	if err := e.WriteReg(ctx, d.WDT.WriteProtect, key, 0xFFFFFFFF, 0); err != nil {
		return err
	}
	if err := e.WriteReg(ctx, d.WDT.Config1, wdtStage1Ticks, 0xFFFFFFFF, 0); err != nil {
		return err
	}
	const config0EnableStage0SystemReset = 0x8000_0000 | (0x3 << 28) // enable | stage0=SYS_RESET
	if err := e.WriteReg(ctx, d.WDT.Config0, config0EnableStage0SystemReset, 0xFFFFFFFF, 0); err != nil {
		return err
	}
	return e.WriteReg(ctx, d.WDT.WriteProtect, 0, 0xFFFFFFFF, 0)
}

// USBJTAG performs the watchdog-timer reset for chips whose USB-JTAG/
// Serial personality leaves DTR/RTS electrically disconnected from
// EN/IO0 (spec.md §4.6, Glossary "WDT reset").
func USBJTAG(ctx context.Context, e *protocol.Engine, d chip.Descriptor) error {
	return wdtReset(ctx, e, d)
}

// USBOTG is like USBJTAG but first clears FORCE_DOWNLOAD_BOOT in
// RTC_CNTL_OPTION1 so the next boot is firmware, not ROM download
// (spec.md §4.6, Glossary "Force-download-boot flag").
func USBOTG(ctx context.Context, e *protocol.Engine, d chip.Descriptor) error {
	if d.Option1Reg != 0 {
		if err := e.WriteReg(ctx, d.Option1Reg, 0, d.ForceDLBootMask, 0); err != nil {
			return err
		}
	}
	return wdtReset(ctx, e, d)
}

// Run performs whichever strategy Select chose, for the requested target
// mode. Failures on the cancel/disconnect path are the caller's concern
// to log and swallow (spec.md §7 "Reset failures during a cancel path are
// logged and swallowed").
func Run(ctx context.Context, e *protocol.Engine, t transport.Transport, d chip.Descriptor, revision int, downloadMode bool) (Strategy, error) {
	strategy, err := Select(ctx, e, d, revision)
	if err != nil {
		return strategy, err
	}
	switch strategy {
	case StrategyUSBOTG:
		return strategy, USBOTG(ctx, e, d)
	case StrategyUSBJTAG:
		return strategy, USBJTAG(ctx, e, d)
	default:
		return strategy, Classic(t, downloadMode)
	}
}
