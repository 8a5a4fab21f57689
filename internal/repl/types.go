package repl

import (
	"errors"
	"fmt"
)

// BaudRate is the fixed line speed of the micro:bit REPL.
const BaudRate = 115200

var (
	// ErrAlreadyOpen is returned by Open while a port is attached.
	ErrAlreadyOpen = errors.New("repl: device already open")
	// ErrNotOpen is returned by SendKey without an open port.
	ErrNotOpen = errors.New("repl: device not open")
)

// DeviceOpenError reports a port that could not be opened.
type DeviceOpenError struct {
	Port string
	Err  error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("repl: cannot open %s: %v", e.Port, e.Err)
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }

// DeviceLostError reports a port that went away while open. The session
// is closed when it is raised and never reopens on its own.
type DeviceLostError struct {
	Port string
	Err  error
}

func (e *DeviceLostError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("repl: device %s disconnected", e.Port)
	}
	return fmt.Sprintf("repl: device %s disconnected: %v", e.Port, e.Err)
}

func (e *DeviceLostError) Unwrap() error { return e.Err }
