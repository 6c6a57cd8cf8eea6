package repl

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type reply struct {
	out        string
	traceback  string
	disconnect bool
}

// fakeBoard answers raw REPL traffic like a MicroPython device.
type fakeBoard struct {
	mu      sync.Mutex
	pending []byte
	replies map[string]reply
	rawOK   bool
	broken  bool
	closed  bool
	written []string
}

func newFakeBoard(replies map[string]reply) *fakeBoard {
	return &fakeBoard{replies: replies, rawOK: true}
}

func (f *fakeBoard) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return 0, io.ErrClosedPipe
	}
	s := string(p)
	f.written = append(f.written, s)
	switch {
	case strings.Contains(s, "\x03"):
		f.pending = append(f.pending, "\r\n>>> "...)
	case s == enterRaw:
		if f.rawOK {
			f.pending = append(f.pending, "\r\n"+rawPrompt...)
		}
	case strings.HasSuffix(s, endOfCommand):
		r := f.replies[strings.TrimSuffix(s, endOfCommand)]
		if r.disconnect {
			f.broken = true
			return len(p), nil
		}
		f.pending = append(f.pending, "OK"+r.out+endOfCommand+r.traceback+endOfCommand+">"...)
	}
	return len(p), nil
}

func (f *fakeBoard) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		if f.broken {
			return 0, io.EOF
		}
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeBoard) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBoard) SetReadTimeout(time.Duration) error { return nil }

func (f *fakeBoard) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
	return nil
}

func dialer(b *fakeBoard) Dialer {
	return func(string) (Port, error) { return b, nil }
}

func TestValidateAndBoardName(t *testing.T) {
	b := newFakeBoard(map[string]reply{
		ValidateCode:  {out: "micropython\r\n"},
		BoardNameCode: {out: "Raspberry Pi Pico W with RP2040\r\n"},
	})
	s, err := Connect(dialer(b), "/dev/ttyACM0", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()

	if err := s.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	name, err := s.BoardName()
	if err != nil {
		t.Fatal(err)
	}
	if name != "Raspberry Pi Pico W with RP2040" {
		t.Errorf("BoardName() = %q", name)
	}
	if got := ShortBoardName(name); got != "Raspberry Pi Pico W" {
		t.Errorf("ShortBoardName() = %q", got)
	}
}

func TestValidateRejectsOtherImplementations(t *testing.T) {
	b := newFakeBoard(map[string]reply{ValidateCode: {out: "circuitpython\r\n"}})
	s, err := Connect(dialer(b), "COM5", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(); !errors.Is(err, ErrNotMicroPython) {
		t.Errorf("Validate() = %v, want ErrNotMicroPython", err)
	}
}

func TestExecTraceback(t *testing.T) {
	b := newFakeBoard(map[string]reply{"1/0": {traceback: "ZeroDivisionError: divide by zero\r\n"}})
	s, err := Connect(dialer(b), "COM5", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Exec("1/0")
	var execErr *ExecError
	if !errors.As(err, &execErr) || !strings.Contains(execErr.Traceback, "ZeroDivisionError") {
		t.Errorf("Exec() error = %v, want ExecError with traceback", err)
	}
}

func TestConnectWithoutRawREPL(t *testing.T) {
	b := newFakeBoard(nil)
	b.rawOK = false
	_, err := Connect(dialer(b), "COM5", 50*time.Millisecond)
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("Connect() error = %v, want ErrNoSession", err)
	}
	if !b.closed {
		t.Error("port left open after failed connect")
	}

	failing := func(string) (Port, error) { return nil, errors.New("Serial port busy") }
	if _, err := Connect(failing, "COM5", 50*time.Millisecond); !errors.Is(err, ErrNoSession) {
		t.Errorf("Connect() with dial error = %v, want ErrNoSession", err)
	}
}

func TestEnterBootloaderDisconnectIsSuccess(t *testing.T) {
	b := newFakeBoard(map[string]reply{BootloaderCode: {disconnect: true}})
	s, err := Connect(dialer(b), "/dev/ttyACM0", 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnterBootloader(); err != nil {
		t.Errorf("EnterBootloader() = %v, want nil after disconnect", err)
	}
	if _, err := s.Exec(ValidateCode); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Exec after bootloader = %v, want ErrSessionClosed", err)
	}
}

func TestShortBoardName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Raspberry Pi Pico with RP2040", "Raspberry Pi Pico"},
		{"Generic ESP32 module with ESP32", "Generic ESP32 module"},
		{"Teensy 4.1", "Teensy 4.1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ShortBoardName(tt.in); got != tt.want {
			t.Errorf("ShortBoardName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
