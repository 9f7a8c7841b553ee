package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gousb"
)

// FTDI baud-rate divisor computation (spec.md §4.1): base clock 3 MHz,
// 14-bit integer part, 3-bit fractional sub-integer bucketed against the
// edges {0.0625, 0.1875, 0.3125, 0.4375, 0.5625, 0.6875, 0.8125}.
var ftdiFracBuckets = [7]float64{0.0625, 0.1875, 0.3125, 0.4375, 0.5625, 0.6875, 0.8125}

// FTDIBaudDivisor computes the (value, index) pair FTDI's vendor request
// 0x03 (SIO_SET_BAUDRATE) expects for the given baud rate.
func FTDIBaudDivisor(baud int) (value uint16, index uint16) {
	d := 3_000_000.0 / float64(baud)
	intPart := uint32(d)
	frac := d - float64(intPart)

	sub := uint32(0)
	for _, edge := range ftdiFracBuckets {
		if frac >= edge {
			sub++
		}
	}

	value = uint16((intPart & 0xFF) | (sub << 14) | (((intPart >> 8) & 0x3F) << 8))
	index = uint16((intPart >> 14) & 0x03)
	return value, index
}

const (
	ftdiReqSetBaudrate = 0x03
	ftdiReqReset       = 0x00
)

func ftdiSetBaud(dev *gousb.Device, baud int) error {
	value, index := FTDIBaudDivisor(baud)
	_, err := dev.Control(0x40, ftdiReqSetBaudrate, value, index, nil)
	if err != nil {
		return fmt.Errorf("transport: ftdi set baud: %w", err)
	}
	return nil
}

// CH34x programs its divisor as a split 0x9A vendor request with two
// registers, 0x1312 (baud) and 0x0F2C (fixed), per spec.md §4.1.
const (
	ch34xReqWriteReg = 0x9A
	ch34xRegBaud     = 0x1312
	ch34xRegFixed    = 0x0F2C
)

func ch34xSetBaud(dev *gousb.Device, baud int) error {
	divisor, prescaler := ch34xDivisor(baud)
	value := uint16(ch34xRegBaud)
	index := uint16(prescaler)<<8 | uint16(divisor)
	if _, err := dev.Control(0x40, ch34xReqWriteReg, value, index, nil); err != nil {
		return fmt.Errorf("transport: ch34x set baud (divisor): %w", err)
	}
	if _, err := dev.Control(0x40, ch34xReqWriteReg, uint16(ch34xRegFixed), 0x0000, nil); err != nil {
		return fmt.Errorf("transport: ch34x set baud (fixed): %w", err)
	}
	return nil
}

// ch34xDivisor mirrors the CH340/CH341 vendor driver's baud table: a
// 1/16/64/256-step prescaler selected to keep the 8-bit divisor in range.
func ch34xDivisor(baud int) (divisor, prescaler byte) {
	const base = 1_532_620 // CH34x reference clock / 16, rounded
	steps := []struct {
		scale int
		code  byte
	}{
		{1, 3}, {16, 2}, {64, 1}, {256, 0},
	}
	for _, s := range steps {
		d := base / (baud * s.scale)
		if d > 0 && d < 256 {
			return byte(256 - d), s.code
		}
	}
	return 0, 0
}

// CP210x's documented init sequence (spec.md §4.1): IFC_ENABLE, then
// SET_LINE_CTL (8N1 framing), SET_MHS (assert DTR/RTS), then
// IFC_SET_BAUDRATE with the raw rate as a little-endian u32.
const (
	cp210xReqIfcEnable    = 0x00
	cp210xReqSetLineCtl   = 0x03
	cp210xReqSetMHS       = 0x07
	cp210xReqSetBaudrate  = 0x1E
	cp210xLineCtl8N1      = 0x0800
	cp210xMHSDTRRTSOn     = 0x0303 // bits | masks: assert DTR+RTS, mask both
)

func cp210xInit(dev *gousb.Device, baud int) error {
	if _, err := dev.Control(0x41, cp210xReqIfcEnable, 1, 0, nil); err != nil {
		return fmt.Errorf("transport: cp210x ifc_enable: %w", err)
	}
	if _, err := dev.Control(0x41, cp210xReqSetLineCtl, cp210xLineCtl8N1, 0, nil); err != nil {
		return fmt.Errorf("transport: cp210x set_line_ctl: %w", err)
	}
	if _, err := dev.Control(0x41, cp210xReqSetMHS, cp210xMHSDTRRTSOn, 0, nil); err != nil {
		return fmt.Errorf("transport: cp210x set_mhs: %w", err)
	}
	rate := make([]byte, 4)
	binary.LittleEndian.PutUint32(rate, uint32(baud))
	if _, err := dev.Control(0x41, cp210xReqSetBaudrate, 0, 0, rate); err != nil {
		return fmt.Errorf("transport: cp210x ifc_set_baudrate: %w", err)
	}
	return nil
}

// CDC/ACM line coding (SET_LINE_CODING = 0x20, SET_CONTROL_LINE_STATE =
// 0x22) used on Espressif's native USB-JTAG/Serial and USB-OTG endpoints.
const (
	cdcReqSetLineCoding  = 0x20
	cdcReqSetControlLine = 0x22
)

func cdcSetLineCoding(dev *gousb.Device, baud int) error {
	coding := make([]byte, 7)
	binary.LittleEndian.PutUint32(coding[0:4], uint32(baud))
	coding[4] = 0 // 1 stop bit
	coding[5] = 0 // no parity
	coding[6] = 8 // 8 data bits

	if _, err := dev.Control(0x21, cdcReqSetLineCoding, 0, 0, coding); err != nil {
		return fmt.Errorf("transport: cdc set_line_coding: %w", err)
	}
	// Assert DTR (bit 0); RTS (bit 1) is left deasserted since the
	// USB-JTAG/Serial and USB-OTG paths reset via WDT registers, not RTS.
	if _, err := dev.Control(0x21, cdcReqSetControlLine, 0x0001, 0, nil); err != nil {
		return fmt.Errorf("transport: cdc set_control_line_state: %w", err)
	}
	return nil
}
