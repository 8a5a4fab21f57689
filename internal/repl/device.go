package repl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial/enumerator"
)

// USB identifiers of the BBC micro:bit's serial interface.
const (
	VendorID  uint16 = 3368 // 0x0D28
	ProductID uint16 = 516  // 0x0204
)

// ErrDeviceNotFound is returned by Discover when no attached port matches.
var ErrDeviceNotFound = errors.New("repl: no micro:bit found")

// DeviceDescriptor identifies one serial port on the host.
type DeviceDescriptor struct {
	VendorID  uint16
	ProductID uint16
	PortName  string
}

// Enumerator lists the serial ports currently attached.
type Enumerator interface {
	Ports() ([]DeviceDescriptor, error)
}

// EnumeratorFunc adapts a function to Enumerator.
type EnumeratorFunc func() ([]DeviceDescriptor, error)

func (f EnumeratorFunc) Ports() ([]DeviceDescriptor, error) { return f() }

// SystemEnumerator reads the host's USB serial ports.
type SystemEnumerator struct{}

func (SystemEnumerator) Ports() ([]DeviceDescriptor, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("repl: enumerate serial ports: %w", err)
	}
	ports := make([]DeviceDescriptor, 0, len(details))
	for _, d := range details {
		desc := DeviceDescriptor{PortName: d.Name}
		if d.IsUSB {
			desc.VendorID = parseUSBID(d.VID)
			desc.ProductID = parseUSBID(d.PID)
		}
		ports = append(ports, desc)
	}
	return ports, nil
}

// parseUSBID turns the enumerator's hex string ("0d28") into a number.
// Unparseable ids become 0, which never matches.
func parseUSBID(raw string) uint16 {
	raw = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "0x")
	v, err := strconv.ParseUint(raw, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

// Discover returns the port name of the first attached micro:bit.
// Repeated calls may disagree if devices are hot-plugged in between.
func Discover(e Enumerator) (string, error) {
	ports, err := e.Ports()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.VendorID == VendorID && p.ProductID == ProductID {
			return p.PortName, nil
		}
	}
	return "", ErrDeviceNotFound
}
