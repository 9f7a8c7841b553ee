package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// Kind identifies which USB-serial bridge chip (or native CDC/USB-JTAG)
// sits behind a USB transport, since each needs different baud-rate and
// line-coding programming (spec.md §4.1).
type Kind int

const (
	KindUnknown Kind = iota
	KindFTDI
	KindCH34x
	KindCP210x
	KindCDCACM
)

// KnownDevice pairs a VID/PID with the bridge Kind it identifies.
type KnownDevice struct {
	VID, PID uint16
	Kind     Kind
	Name     string
}

// KnownDevices is the set of USB-serial bridges and native USB-JTAG/OTG
// endpoints this toolkit knows how to initialize. It also doubles as the
// candidate list for transport discovery (internal/transport/discover.go).
var KnownDevices = []KnownDevice{
	{0x0403, 0x6001, KindFTDI, "FTDI FT232R"},
	{0x0403, 0x6010, KindFTDI, "FTDI FT2232"},
	{0x0403, 0x6011, KindFTDI, "FTDI FT4232"},
	{0x0403, 0x6014, KindFTDI, "FTDI FT232H"},
	{0x1A86, 0x7523, KindCH34x, "CH340 serial"},
	{0x1A86, 0x55D4, KindCH34x, "CH9102 serial"},
	{0x10C4, 0xEA60, KindCP210x, "CP2102/CP2109 serial"},
	{0x303A, 0x1001, KindCDCACM, "Espressif USB-JTAG/Serial"},
	{0x303A, 0x0002, KindCDCACM, "Espressif USB-OTG CDC-ACM"},
}

// USB is the raw USB-bulk Transport backing for platforms where serial
// enumeration is unavailable (spec.md §4.1 "Android-class"), and for
// desktop use against Espressif's native USB-JTAG/Serial or USB-OTG CDC
// ports: a gousb context, device, config and claimed interface, with
// bulk IN/OUT endpoints opened once and reused.
type USB struct {
	vid, pid uint16
	kind     Kind

	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	readTimeout time.Duration
}

// OpenUSB opens the first device matching vid/pid and claims interface 0,
// setting 0. Endpoint numbers follow the USB-CDC convention used by every
// bridge in KnownDevices: bulk OUT at 0x02/0x01, bulk IN at 0x82/0x81,
// with CDC/ACM exposing the data interface as interface 1 underneath a
// control interface 0.
func OpenUSB(vid, pid uint16, kind Kind) (*USB, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("transport: open usb device %04x:%04x: %w", vid, pid, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("transport: usb device %04x:%04x not found", vid, pid)
	}

	ifaceNum := 0
	if kind == KindCDCACM {
		ifaceNum = 1 // data interface sits after the CDC control interface
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: set usb config: %w", err)
	}
	intf, err := cfg.Interface(ifaceNum, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: claim usb interface %d: %w", ifaceNum, err)
	}

	epOut, err := firstOutEndpoint(intf)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, err
	}
	epIn, err := firstInEndpoint(intf)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, err
	}

	return &USB{
		vid: vid, pid: pid, kind: kind,
		ctx: ctx, dev: dev, cfg: cfg, intf: intf,
		epOut: epOut, epIn: epIn,
		readTimeout: 100 * time.Millisecond,
	}, nil
}

func firstOutEndpoint(intf *gousb.Interface) (*gousb.OutEndpoint, error) {
	for _, ep := range intf.Setting.Endpoints {
		if ep.Direction == gousb.EndpointDirectionOut {
			out, err := intf.OutEndpoint(ep.Number)
			if err == nil {
				return out, nil
			}
		}
	}
	return nil, fmt.Errorf("transport: no OUT endpoint on claimed interface")
}

func firstInEndpoint(intf *gousb.Interface) (*gousb.InEndpoint, error) {
	for _, ep := range intf.Setting.Endpoints {
		if ep.Direction == gousb.EndpointDirectionIn {
			in, err := intf.InEndpoint(ep.Number)
			if err == nil {
				return in, nil
			}
		}
	}
	return nil, fmt.Errorf("transport: no IN endpoint on claimed interface")
}

// Open performs the per-chip initialization sequence (line coding,
// baud-rate divisor programming) described in spec.md §4.1 by calling
// SetBaud(baud); the baud is not stored.
func (u *USB) Open(baud int) error {
	return u.SetBaud(baud)
}

func (u *USB) Close() error {
	if u.intf != nil {
		u.intf.Close()
	}
	if u.cfg != nil {
		u.cfg.Close()
	}
	if u.dev != nil {
		u.dev.Close()
	}
	if u.ctx != nil {
		u.ctx.Close()
	}
	return nil
}

func (u *USB) ReadExactUntil(ctx context.Context, n int, timeout time.Duration, pred func([]byte) bool) ([]byte, error) {
	var buf []byte
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 4096)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return buf, ErrTimeout
		}
		rctx, cancel := context.WithTimeout(ctx, minDuration(remaining, u.readTimeout))
		read, err := u.epIn.ReadContext(rctx, chunk)
		cancel()
		if read > 0 {
			buf = append(buf, chunk[:read]...)
		}
		if pred != nil && pred(buf) {
			return buf, nil
		}
		if n > 0 && len(buf) >= n {
			return buf[:n], nil
		}
		if err != nil && err != context.DeadlineExceeded {
			return buf, &transportError{err}
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func (u *USB) WriteAll(data []byte) error {
	_, err := u.epOut.Write(data)
	if err != nil {
		return &transportError{err}
	}
	return nil
}

// SetSignals is a no-op on bulk-only backings: USB-JTAG/Serial and
// USB-OTG chips have no DTR/RTS line to drive (spec.md §4.6 — the reset
// sequencer uses the WDT strategy for these instead).
func (u *USB) SetSignals(Signals) error { return nil }

// SetBaud runs the per-bridge-chip programming sequence from spec.md
// §4.1. CDC/ACM (native USB-JTAG/Serial, USB-OTG) devices have no real
// UART divisor to program; they get a SET_LINE_CODING request carrying
// the rate (see cdcSetLineCoding).
func (u *USB) SetBaud(baud int) error {
	switch u.kind {
	case KindFTDI:
		return ftdiSetBaud(u.dev, baud)
	case KindCH34x:
		return ch34xSetBaud(u.dev, baud)
	case KindCP210x:
		return cp210xInit(u.dev, baud)
	case KindCDCACM:
		return cdcSetLineCoding(u.dev, baud)
	default:
		return nil
	}
}

func (u *USB) Info() Info { return Info{VID: u.vid, PID: u.pid} }

type transportError struct{ cause error }

func (e *transportError) Error() string { return fmt.Sprintf("transport: usb: %v", e.cause) }
func (e *transportError) Unwrap() error { return e.cause }
