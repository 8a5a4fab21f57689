package repl

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"

	"github.com/user/puppy/internal/loop"
	"github.com/user/puppy/internal/sink"
)

// fakePort is an in-memory Port fed through a channel.
type fakePort struct {
	reads chan []byte

	mu      sync.Mutex
	written bytes.Buffer

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakePort() *fakePort {
	return &fakePort{reads: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case data, ok := <-p.reads:
		if !ok {
			return 0, io.EOF
		}
		return copy(b, data), nil
	case <-p.closed:
		return 0, errors.New("port closed")
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

func openerFor(port Port) Opener {
	return func(name string, baud int) (Port, error) {
		if baud != BaudRate {
			return nil, errors.New("unexpected baud rate")
		}
		return port, nil
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenForwardsInboundBytesUnbuffered(t *testing.T) {
	port := newFakePort()
	rec := &sink.Recorder{}
	s, err := NewSession("repl", rec, loop.Inline{}, Options{Open: openerFor(port)})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	if err := s.Open("/dev/ttyACM0"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if rec.Clears() != 1 {
		t.Fatalf("clears = %d, want 1", rec.Clears())
	}
	if !s.IsOpen() || s.PortName() != "/dev/ttyACM0" {
		t.Fatalf("IsOpen = %v, PortName = %q", s.IsOpen(), s.PortName())
	}

	port.reads <- []byte(">>> ")
	port.reads <- []byte("pri")
	eventually(t, "prompt and partial echo", func() bool { return rec.Text() == ">>> pri" })

	if got := rec.Appends(); len(got) != 2 {
		t.Fatalf("appends = %q, want two chunks", got)
	}
}

func TestOpenTwiceFails(t *testing.T) {
	port := newFakePort()
	s, _ := NewSession("repl", &sink.Recorder{}, loop.Inline{}, Options{Open: openerFor(port)})
	defer s.Close()

	if err := s.Open("a"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Open("a"); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("second Open error = %v, want ErrAlreadyOpen", err)
	}
}

func TestOpenFailureIsDeviceOpenError(t *testing.T) {
	rec := &sink.Recorder{}
	busy := errors.New("device or resource busy")
	s, _ := NewSession("repl", rec, loop.Inline{}, Options{
		Open: func(string, int) (Port, error) { return nil, busy },
	})

	err := s.Open("/dev/ttyACM0")
	var openErr *DeviceOpenError
	if !errors.As(err, &openErr) || !errors.Is(err, busy) {
		t.Fatalf("error = %v, want DeviceOpenError wrapping busy", err)
	}
	if s.IsOpen() {
		t.Fatal("session open after failed Open")
	}
	if len(rec.Errors()) != 1 {
		t.Fatalf("sink errors = %v, want the open failure", rec.Errors())
	}
}

func TestSendKeyWritesEscapeSequences(t *testing.T) {
	port := newFakePort()
	s, _ := NewSession("repl", &sink.Recorder{}, loop.Inline{}, Options{Open: openerFor(port)})
	defer s.Close()

	if err := s.SendKey(Key{Code: KeyUp}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("SendKey before Open = %v, want ErrNotOpen", err)
	}
	if err := s.Open("p"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, k := range []Key{Rune("a"), {Code: KeyBackspace}, {Code: KeyUp}, {Code: KeyDown}} {
		if err := s.SendKey(k); err != nil {
			t.Fatalf("SendKey(%+v): %v", k, err)
		}
	}

	want := []byte{0x61, 0x08, 0x1b, 0x5b, 0x41, 0x1b, 0x5b, 0x42}
	if got := port.Written(); !bytes.Equal(got, want) {
		t.Fatalf("written = % x, want % x", got, want)
	}
}

func TestSendTextMatchesUTF8(t *testing.T) {
	port := newFakePort()
	s, _ := NewSession("repl", &sink.Recorder{}, loop.Inline{}, Options{Open: openerFor(port)})
	defer s.Close()
	if err := s.Open("p"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	text := "print('hi')"
	for _, r := range text {
		if err := s.SendKey(Rune(string(r))); err != nil {
			t.Fatalf("SendKey: %v", err)
		}
	}
	if err := s.SendText(text); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	want := []byte(text + text)
	if got := port.Written(); !bytes.Equal(got, want) {
		t.Fatalf("written = %q, want %q", got, want)
	}
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	port := newFakePort()
	rec := &sink.Recorder{}
	s, _ := NewSession("repl", rec, loop.Inline{}, Options{Open: openerFor(port)})

	if err := s.Open("p"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.IsOpen() {
		t.Fatal("session still open after Close")
	}

	// a chunk that raced with Close must not reach the sink
	c := &conn{port: port, name: "p"}
	s.deliver(c, []byte("late"))
	if rec.Text() != "" || len(rec.Errors()) != 0 {
		t.Fatalf("sink received %q / %v after Close", rec.Text(), rec.Errors())
	}

	if err := s.SendKey(Rune("a")); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("SendKey after Close = %v, want ErrNotOpen", err)
	}
}

func TestDeviceLostIsTerminal(t *testing.T) {
	port := newFakePort()
	rec := &sink.Recorder{}
	lost := make(chan *DeviceLostError, 1)
	s, _ := NewSession("repl", rec, loop.Inline{}, Options{
		Open:   openerFor(port),
		OnLost: func(err *DeviceLostError) { lost <- err },
	})

	if err := s.Open("/dev/ttyACM0"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	port.reads <- []byte("MicroPython\r\n")
	close(port.reads)

	select {
	case err := <-lost:
		if err.Port != "/dev/ttyACM0" {
			t.Fatalf("lost port = %q", err.Port)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnLost was not called")
	}

	if s.IsOpen() {
		t.Fatal("session still open after device loss")
	}
	if !strings.Contains(rec.Text(), "MicroPython") {
		t.Fatalf("text = %q", rec.Text())
	}
	errs := rec.Errors()
	var lostErr *DeviceLostError
	if len(errs) != 1 || !errors.As(errs[0], &lostErr) {
		t.Fatalf("sink errors = %v, want one DeviceLostError", errs)
	}

	// reopening is the owner's call and works once the device is back
	s.open = openerFor(newFakePort())
	if err := s.Open("/dev/ttyACM0"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = s.Close()
}

func TestSessionOverPseudoTerminal(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer ptmx.Close()

	rec := &sink.Recorder{}
	s, err := NewSession("repl", rec, loop.Inline{}, Options{
		Open: func(string, int) (Port, error) { return tty, nil },
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	if err := s.Open(tty.Name()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := ptmx.Write([]byte("hello from device\n")); err != nil {
		t.Fatalf("device write: %v", err)
	}
	eventually(t, "device output", func() bool { return strings.Contains(rec.Text(), "hello from device") })

	if err := s.SendKey(Key{Code: KeyUp}); err != nil {
		t.Fatalf("SendKey: %v", err)
	}

	// the line discipline echoes device input back first, so skip ahead
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		var acc []byte
		for {
			n, err := ptmx.Read(buf)
			if err != nil {
				break
			}
			acc = append(acc, buf[:n]...)
			if i := bytes.Index(acc, []byte("\x1b[A")); i >= 0 {
				acc = acc[i:]
				break
			}
		}
		got <- acc
	}()

	select {
	case b := <-got:
		if !bytes.HasPrefix(b, []byte("\x1b[A")) {
			t.Fatalf("device received % x, want 1b 5b 41", b)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("device never received the key")
	}
}
