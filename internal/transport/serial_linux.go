//go:build linux

package transport

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Serial is the native serial-port Transport backing for desktop Linux,
// built directly on termios ioctls: TCGETS2/TCSETS2 (for BOTHER custom
// baud) and TIOCMBIS/TIOCMBIC for DTR/RTS.
type Serial struct {
	path string
	file *os.File
	fd   int

	dtr, rts bool
}

// OpenSerial opens a tty device node (e.g. /dev/ttyUSB0) without yet
// configuring it; call Open to set the baud rate and framing.
func OpenSerial(path string) (*Serial, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}
	return &Serial{path: path, file: f, fd: int(f.Fd())}, nil
}

func (s *Serial) Open(baud int) error {
	return s.configure(baud)
}

// configure sets raw mode (no echo, no signals, no line editing) and the
// requested baud rate via termios2/BOTHER, which accepts an arbitrary
// integer rate rather than being limited to the Bxxx constant set.
func (s *Serial) configure(baud int) error {
	var t unix.Termios2
	if err := ioctlGetTermios2(s.fd, &t); err != nil {
		return fmt.Errorf("transport: tcgets2 %s: %w", s.path, err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | unix.BOTHER
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := ioctlSetTermios2(s.fd, &t); err != nil {
		return fmt.Errorf("transport: tcsets2 %s: %w", s.path, err)
	}
	return nil
}

func (s *Serial) Close() error { return s.file.Close() }

func (s *Serial) ReadExactUntil(ctx context.Context, n int, timeout time.Duration, pred func([]byte) bool) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		if err := s.file.SetReadDeadline(time.Now().Add(20 * time.Millisecond)); err == nil {
			// best effort; plain files/ttys may not support deadlines on
			// every platform, in which case the poll loop below still
			// bounds total wait time via the outer deadline check.
		}
		read, err := s.file.Read(chunk)
		if read > 0 {
			buf = append(buf, chunk[:read]...)
		}
		if pred != nil && pred(buf) {
			return buf, nil
		}
		if n > 0 && len(buf) >= n {
			return buf[:n], nil
		}
		if err != nil && !os.IsTimeout(err) {
			return buf, &transportError{err}
		}
		if time.Now().After(deadline) {
			return buf, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return buf, ctx.Err()
		default:
		}
	}
}

func (s *Serial) WriteAll(data []byte) error {
	for len(data) > 0 {
		n, err := s.file.Write(data)
		if err != nil {
			return &transportError{err}
		}
		data = data[n:]
	}
	return nil
}

// SetSignals preserves whatever line is not mentioned, per spec.md §4.1:
// only the bits named in s are touched via TIOCMBIS (set) / TIOCMBIC
// (clear).
func (s *Serial) SetSignals(sig Signals) error {
	var setBits, clearBits int
	if sig.DTR != nil {
		s.dtr = *sig.DTR
		if *sig.DTR {
			setBits |= unix.TIOCM_DTR
		} else {
			clearBits |= unix.TIOCM_DTR
		}
	}
	if sig.RTS != nil {
		s.rts = *sig.RTS
		if *sig.RTS {
			setBits |= unix.TIOCM_RTS
		} else {
			clearBits |= unix.TIOCM_RTS
		}
	}
	if setBits != 0 {
		if err := ioctlIntArg(s.fd, unix.TIOCMBIS, setBits); err != nil {
			return fmt.Errorf("transport: tiocmbis: %w", err)
		}
	}
	if clearBits != 0 {
		if err := ioctlIntArg(s.fd, unix.TIOCMBIC, clearBits); err != nil {
			return fmt.Errorf("transport: tiocmbic: %w", err)
		}
	}
	if sig.Break != nil {
		if *sig.Break {
			return unix.IoctlSetInt(s.fd, unix.TIOCSBRK, 0)
		}
		return unix.IoctlSetInt(s.fd, unix.TIOCCBRK, 0)
	}
	return nil
}

func (s *Serial) SetBaud(baud int) error { return s.configure(baud) }

func (s *Serial) Info() Info { return Info{} }

func ioctlGetTermios2(fd int, t *unix.Termios2) error {
	r, err := unix.IoctlGetTermios2(fd, unix.TCGETS2)
	if err != nil {
		return err
	}
	*t = *r
	return nil
}

func ioctlSetTermios2(fd int, t *unix.Termios2) error {
	return unix.IoctlSetTermios2(fd, unix.TCSETS2, t)
}

func ioctlIntArg(fd int, req uint, arg int) error {
	return unix.IoctlSetPointerInt(fd, req, arg)
}
