package repl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"github.com/user/puppy/internal/loop"
	"github.com/user/puppy/internal/sink"
	"github.com/user/puppy/internal/textcodec"
)

const readBufferSize = 1024

// Port is an open full-duplex serial connection.
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// Opener opens a named port at the given baud rate.
type Opener func(name string, baud int) (Port, error)

// OpenSerial opens a real serial device, 8N1.
func OpenSerial(name string, baud int) (Port, error) {
	return serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// Options configure a Session.
type Options struct {
	Encoding string
	// Open defaults to OpenSerial.
	Open Opener
	// OnLost is posted to the dispatcher when an open device disappears.
	OnLost func(*DeviceLostError)
	Logger *slog.Logger
}

// Session is a REPL console attached to one serial device.
//
// Inbound bytes are forwarded as they arrive; the device echoes input and
// draws its own prompt, so nothing is echoed or edited locally.
type Session struct {
	id       string
	out      sink.TextSink
	loop     loop.Dispatcher
	encoding string
	open     Opener
	onLost   func(*DeviceLostError)
	logger   *slog.Logger

	mu  sync.Mutex
	cur *conn

	// held by a delivery from its attached check until the sink returns
	deliverMu sync.Mutex
	writeMu   sync.Mutex
}

type conn struct {
	port Port
	name string
	dec  *textcodec.Decoder
}

// NewSession creates a closed session writing into out through d.
func NewSession(id string, out sink.TextSink, d loop.Dispatcher, opts Options) (*Session, error) {
	if out == nil {
		return nil, errors.New("repl: sink is required")
	}
	if d == nil {
		d = loop.Inline{}
	}
	if _, err := textcodec.New(opts.Encoding); err != nil {
		return nil, err
	}
	open := opts.Open
	if open == nil {
		open = OpenSerial
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:       id,
		out:      out,
		loop:     d,
		encoding: opts.Encoding,
		open:     open,
		onLost:   opts.OnLost,
		logger:   logger.With("session_id", id),
	}, nil
}

func (s *Session) ID() string { return s.id }

// IsOpen reports whether a device is attached.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// PortName returns the attached port, or "".
func (s *Session) PortName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return ""
	}
	return s.cur.name
}

// Open attaches the named device at BaudRate, clears the sink and starts
// forwarding what the device sends.
func (s *Session) Open(portName string) error {
	s.mu.Lock()
	if s.cur != nil {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	dec, err := textcodec.New(s.encoding)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	port, err := s.open(portName, BaudRate)
	if err != nil {
		s.mu.Unlock()
		openErr := &DeviceOpenError{Port: portName, Err: err}
		s.logger.Warn("serial open failed", "port", portName, "error", err)
		s.loop.Post(func() { sink.Fail(s.out, openErr) })
		return openErr
	}
	c := &conn{port: port, name: portName, dec: dec}
	s.cur = c
	s.mu.Unlock()

	s.logger.Info("serial device opened", "port", portName, "baud", BaudRate)
	s.loop.Post(s.out.Clear)
	go s.read(c)
	return nil
}

// Close detaches the device. It is a no-op when nothing is open.
func (s *Session) Close() error {
	s.mu.Lock()
	c := s.cur
	s.cur = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	s.settle()
	s.logger.Info("serial device closed", "port", c.name)
	if err := c.port.Close(); err != nil {
		return fmt.Errorf("repl: close %s: %w", c.name, err)
	}
	return nil
}

// SendKey writes the bytes for k to the device before returning.
func (s *Session) SendKey(k Key) error {
	return s.write(k.Bytes())
}

// SendText types text one character after another.
func (s *Session) SendText(text string) error {
	if text == "" {
		return nil
	}
	return s.write([]byte(text))
}

func (s *Session) write(p []byte) error {
	s.mu.Lock()
	c := s.cur
	s.mu.Unlock()
	if c == nil {
		return ErrNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := c.port.Write(p); err != nil {
		return fmt.Errorf("repl: write %s: %w", c.name, err)
	}
	return nil
}

// settle waits out a delivery that saw the device attached before Close
// detached it, unless Close is running on the dispatcher.
func (s *Session) settle() {
	if s.loop.OnLoop() {
		return
	}
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}

func (s *Session) attached(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur == c
}

func (s *Session) read(c *conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.port.Read(buf)
		if n > 0 {
			data := bytes.Clone(buf[:n])
			s.loop.Post(func() { s.deliver(c, data) })
		}
		if err != nil || n == 0 {
			s.loop.Post(func() { s.lost(c, err) })
			return
		}
	}
}

func (s *Session) deliver(c *conn, data []byte) {
	if !s.attached(c) {
		return
	}
	text, err := c.dec.Decode(data)
	s.publish(c, text, err)
}

func (s *Session) publish(c *conn, text string, err error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if !s.attached(c) {
		return
	}
	if text != "" {
		s.out.Append(text)
	}
	if err != nil {
		s.logger.Warn("undecodable serial input", "port", c.name, "error", err)
		sink.Fail(s.out, err)
	}
}

// lost tears the session down after the device stopped answering.
func (s *Session) lost(c *conn, readErr error) {
	if !s.attached(c) {
		return
	}
	text, decErr := c.dec.Flush()
	s.publish(c, text, decErr)

	s.mu.Lock()
	if s.cur != c {
		s.mu.Unlock()
		return
	}
	s.cur = nil
	s.mu.Unlock()
	_ = c.port.Close()

	if errors.Is(readErr, io.EOF) {
		readErr = nil
	}
	lostErr := &DeviceLostError{Port: c.name, Err: readErr}
	s.logger.Warn("serial device lost", "port", c.name, "error", readErr)
	sink.Fail(s.out, lostErr)
	if s.onLost != nil {
		s.onLost(lostErr)
	}
}
