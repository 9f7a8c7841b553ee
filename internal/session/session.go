// Package session ties a Transport, a protocol Engine and a live chip
// descriptor into the single lifecycle object spec.md §3/§5 describes:
// one session owns one transport at a time, detects the attached chip,
// drives reset strategies, and hands the transport to the stub loader or
// flasher for the duration of a command — never the other way around.
package session

import (
	"context"

	"github.com/Jason2866/esp32tool/internal/chip"
	"github.com/Jason2866/esp32tool/internal/logging"
	"github.com/Jason2866/esp32tool/internal/protocol"
	"github.com/Jason2866/esp32tool/internal/reset"
	"github.com/Jason2866/esp32tool/internal/transport"
)

// EventKind tags the Event union (spec.md §6 "event sink for
// USB-port-will-change and chip-detected"; §4.6 "the core exposes this
// need as a typed event, never by polling").
type EventKind int

const (
	EventChipDetected EventKind = iota
	EventPortWillChange
	EventProgress
)

// Event is delivered on the channel passed to New. Only the field(s)
// matching Kind are meaningful.
type Event struct {
	Kind EventKind

	// EventChipDetected
	Chip     chip.Descriptor
	Revision int

	// EventPortWillChange
	Reason string

	// EventProgress
	Done, Total int
}

// ErrNoChipDetected is returned by DetectChip when neither detection
// method (magic value, chip-id table) matches a registered family.
type ErrNoChipDetected struct{}

func (e *ErrNoChipDetected) Error() string { return "session: no chip family matched" }

// Session owns the transport and the live chip descriptor for the
// duration of a provisioning operation (spec.md §5 "the transport and
// the chip descriptor are owned by the session; no component outside the
// session may hold a long-lived handle").
type Session struct {
	t      transport.Transport
	e      *protocol.Engine
	log    *logging.Logger
	events chan<- Event

	chip     chip.Descriptor
	revision int
	detected bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New binds a Session to t. events, if non-nil, receives ChipDetected,
// PortWillChange and Progress notifications; a nil channel means the caller does not
// want them and sends are skipped rather than blocking.
func New(t transport.Transport, log *logging.Logger, events chan<- Event) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		t:      t,
		e:      protocol.New(t, log),
		log:    log,
		events: events,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Engine returns the session's protocol engine, for the flasher, stub
// loader and FS/NVS callers that need to issue commands.
func (s *Session) Engine() *protocol.Engine { return s.e }

// Transport returns the session's transport, for operations (e.g. the
// reset sequencer's classic DTR/RTS pulse) that must drive signal lines
// directly rather than through the protocol engine.
func (s *Session) Transport() transport.Transport { return s.t }

// Chip returns the detected chip descriptor and whether DetectChip has
// run successfully yet.
func (s *Session) Chip() (chip.Descriptor, bool) { return s.chip, s.detected }

// Context returns the session's cancellation context; every blocking call
// a caller makes through the session's Engine/Transport should be passed
// this context (or a child of it) so Cancel takes effect at the next
// suspension point (spec.md §5).
func (s *Session) Context() context.Context { return s.ctx }

// Cancel aborts the current command at its next suspension point. The
// transport is left open; the device is left in an indeterminate state
// and the caller is expected to hard-reset (spec.md §5).
func (s *Session) Cancel() { s.cancel() }

// Open opens the transport at baud and runs Synchronize.
func (s *Session) Open(ctx context.Context, baud int) error {
	if err := s.t.Open(baud); err != nil {
		return err
	}
	return s.e.Synchronize(ctx)
}

// Close closes the underlying transport.
func (s *Session) Close() error { return s.t.Close() }

func (s *Session) emit(ev Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// Progress reports a Done/Total tick on the events channel; the flasher
// and FS write paths call this from their Progress callback.
func (s *Session) Progress(done, total int) {
	s.emit(Event{Kind: EventProgress, Done: done, Total: total})
}

// DetectChip runs the two detection methods spec.md §4.3 specifies, in
// order: (a) the legacy UART-date-register magic value, tried against
// every family that declares one; (b) the chip-id register at the common
// address chip.ChipIDRegister, tried against every family that declares a
// ChipID. It does not assume the family ahead of time — both methods read
// before any family-specific address is trusted.
func (s *Session) DetectChip(ctx context.Context) (chip.Descriptor, error) {
	if d, ok := s.detectByMagic(ctx); ok {
		s.chip, s.detected = d, true
		s.emit(Event{Kind: EventChipDetected, Chip: d})
		return d, nil
	}
	if d, ok := s.detectByChipID(ctx); ok {
		s.chip, s.detected = d, true
		s.emit(Event{Kind: EventChipDetected, Chip: d})
		return d, nil
	}
	return chip.Descriptor{}, &ErrNoChipDetected{}
}

func (s *Session) detectByMagic(ctx context.Context) (chip.Descriptor, bool) {
	for _, d := range chip.All() {
		if d.Magic == 0 || d.UARTDateReg == 0 {
			continue
		}
		value, err := s.e.ReadReg(ctx, d.UARTDateReg)
		if err != nil {
			continue
		}
		if value == d.Magic {
			return d, true
		}
	}
	return chip.Descriptor{}, false
}

func (s *Session) detectByChipID(ctx context.Context) (chip.Descriptor, bool) {
	value, err := s.e.ReadReg(ctx, chip.ChipIDRegister)
	if err != nil {
		return chip.Descriptor{}, false
	}
	for _, d := range chip.All() {
		if d.ChipID != 0 && d.ChipID == value {
			return d, true
		}
	}
	return chip.Descriptor{}, false
}

// SetRevision records the chip revision read from EFUSE BLOCK1, used to
// resolve revision-dependent descriptor fields (UARTDEV_BUF_NO on
// ESP32-C3/S3/P4, per spec.md §3).
func (s *Session) SetRevision(revision int) { s.revision = revision }

// Reset runs whichever reset strategy applies to the detected chip,
// emitting PortWillChange first when the strategy crosses a USB
// re-enumeration boundary (spec.md §4.6: "transitions that cross USB
// re-enumeration MUST release the transport"). DetectChip must have
// already run.
func (s *Session) Reset(ctx context.Context, downloadMode bool) (reset.Strategy, error) {
	if !s.detected {
		return reset.StrategyClassic, &ErrNoChipDetected{}
	}
	strategy, err := reset.Select(ctx, s.e, s.chip, s.revision)
	if err != nil {
		return strategy, err
	}
	if strategy != reset.StrategyClassic {
		s.emit(Event{Kind: EventPortWillChange, Reason: strategy.String()})
	}
	switch strategy {
	case reset.StrategyUSBOTG:
		return strategy, reset.USBOTG(ctx, s.e, s.chip)
	case reset.StrategyUSBJTAG:
		return strategy, reset.USBJTAG(ctx, s.e, s.chip)
	default:
		return strategy, reset.Classic(s.t, downloadMode)
	}
}

// ChangeBaudrate renegotiates the transport's baud through the session's
// engine, skipping the opcode entirely on ESP8266 (spec.md §4.3).
func (s *Session) ChangeBaudrate(ctx context.Context, newBaud, currentBaud int) error {
	if !s.detected {
		return &ErrNoChipDetected{}
	}
	if err := s.e.ChangeBaudrate(ctx, newBaud, currentBaud, s.chip.SupportsChangeBaudrate); err != nil {
		return err
	}
	return s.t.SetBaud(newBaud)
}
