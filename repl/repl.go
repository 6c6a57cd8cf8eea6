// Package repl drives a MicroPython board over its raw REPL.
package repl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"FirmwareUploader/logger"

	"go.bug.st/serial"
)

const (
	interrupt    = "\r\x03\x03"
	enterRaw     = "\r\x01"
	exitRaw      = "\r\x02"
	endOfCommand = "\x04"
	rawPrompt    = "raw REPL; CTRL-B to exit\r\n>"

	// BaudRate used for MicroPython USB CDC and UART REPLs.
	BaudRate = 115200

	readSlice = 50 * time.Millisecond
)

const (
	ValidateCode   = "import sys; print(sys.implementation.name)"
	BootloaderCode = "import time, machine; time.sleep_ms(100); machine.bootloader()"
	BoardNameCode  = "import os; print(os.uname().machine)"
)

var (
	ErrNoSession      = errors.New("no MicroPython session available")
	ErrNotMicroPython = errors.New("device is not running MicroPython")
	ErrTimeout        = errors.New("timed out waiting for device")
	ErrSessionClosed  = errors.New("session closed")
)

// ExecError carries the traceback printed by the device.
type ExecError struct {
	Code      string
	Traceback string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("device raised an exception running %q: %s", e.Code, strings.TrimSpace(e.Traceback))
}

// Port is the subset of serial.Port the session needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Dialer opens the serial port with the given system path.
type Dialer func(name string) (Port, error)

// SerialDialer opens a real serial port.
func SerialDialer(name string) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: BaudRate})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Session is an open raw REPL.
type Session struct {
	port    Port
	timeout time.Duration
	closed  bool
}

// Connect dials name and enters the raw REPL. Any failure is reported as
// ErrNoSession wrapping the cause.
func Connect(dial Dialer, name string, timeout time.Duration) (*Session, error) {
	p, err := dial(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	s, err := Open(p, timeout)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	return s, nil
}

// Open interrupts whatever is running on p and switches it to the raw REPL.
func Open(p Port, timeout time.Duration) (*Session, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if err := p.SetReadTimeout(readSlice); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	s := &Session{port: p, timeout: timeout}

	if _, err := io.WriteString(p, interrupt); err != nil {
		return nil, fmt.Errorf("failed to interrupt device: %w", err)
	}
	s.drain(2 * readSlice)
	_ = p.ResetInputBuffer()

	if _, err := io.WriteString(p, enterRaw); err != nil {
		return nil, fmt.Errorf("failed to enter raw REPL: %w", err)
	}
	if _, err := s.readUntil(rawPrompt); err != nil {
		return nil, fmt.Errorf("raw REPL prompt not seen: %w", err)
	}
	return s, nil
}

func (s *Session) drain(d time.Duration) {
	buf := make([]byte, 256)
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if _, err := s.port.Read(buf); err != nil {
			return
		}
	}
}

// readUntil reads until the accumulated input ends with suffix.
func (s *Session) readUntil(suffix string) ([]byte, error) {
	var acc []byte
	buf := make([]byte, 256)
	deadline := time.Now().Add(s.timeout)
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			if bytes.HasSuffix(acc, []byte(suffix)) {
				return acc, nil
			}
			deadline = time.Now().Add(s.timeout)
		}
		if err != nil {
			return acc, err
		}
		if n == 0 && time.Now().After(deadline) {
			return acc, ErrTimeout
		}
	}
}

// Exec runs code and returns what it printed.
func (s *Session) Exec(code string) (string, error) {
	if s.closed {
		return "", ErrSessionClosed
	}
	if _, err := io.WriteString(s.port, code+endOfCommand); err != nil {
		return "", fmt.Errorf("failed to send code: %w", err)
	}

	reply, err := s.readUntil(endOfCommand + ">")
	if err != nil {
		return "", fmt.Errorf("no reply from device: %w", err)
	}
	if !bytes.HasPrefix(reply, []byte("OK")) {
		return "", fmt.Errorf("device rejected code: %q", reply)
	}
	parts := strings.SplitN(string(reply[2:len(reply)-1]), endOfCommand, 3)
	if len(parts) < 2 {
		return "", fmt.Errorf("malformed reply: %q", reply)
	}
	if parts[1] != "" {
		return parts[0], &ExecError{Code: code, Traceback: parts[1]}
	}
	return parts[0], nil
}

// Validate checks that the device is running MicroPython.
func (s *Session) Validate() error {
	out, err := s.Exec(ValidateCode)
	if err != nil {
		return err
	}
	if strings.TrimSpace(out) != "micropython" {
		return fmt.Errorf("%w: implementation is %q", ErrNotMicroPython, strings.TrimSpace(out))
	}
	return nil
}

// EnterBootloader asks the device to reboot into its bootloader. The board
// usually drops off the bus before replying, so transport errors after the
// command is sent count as success.
func (s *Session) EnterBootloader() error {
	if s.closed {
		return ErrSessionClosed
	}
	if _, err := io.WriteString(s.port, BootloaderCode+endOfCommand); err != nil {
		logger.Debug("Bootloader command write ended with %v", err)
		s.closed = true
		return nil
	}
	if _, err := s.readUntil("OK"); err != nil {
		logger.Debug("Device disconnected entering bootloader: %v", err)
	}
	s.closed = true
	_ = s.port.Close()
	return nil
}

// BoardName returns os.uname().machine.
func (s *Session) BoardName() (string, error) {
	out, err := s.Exec(BoardNameCode)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ShortBoardName drops the chip suffix from a machine string, e.g.
// "Raspberry Pi Pico W with RP2040" becomes "Raspberry Pi Pico W".
func ShortBoardName(machine string) string {
	name, _, _ := strings.Cut(machine, " with ")
	return strings.TrimSpace(name)
}

// Close leaves the raw REPL and releases the port.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = io.WriteString(s.port, exitRaw)
	return s.port.Close()
}
