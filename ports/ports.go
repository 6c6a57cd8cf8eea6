// Package ports enumerates serial ports and checks that a selected port is
// still attached before each device access.
package ports

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ErrPortGone is returned when the requested system path is no longer enumerated.
var ErrPortGone = errors.New("port no longer available")

// Port describes one serial port.
type Port struct {
	Name    string `json:"name"`
	Product string `json:"product"`
	VID     string `json:"vid"`
	PID     string `json:"pid"`
	IsUSB   bool   `json:"isUsb"`
}

// Lister enumerates the serial ports currently attached.
type Lister interface {
	Ports() ([]Port, error)
}

// System lists ports through the OS enumerator.
type System struct{}

// Ports prefers the detailed enumerator and falls back to plain names when
// it is unavailable on the platform.
func (System) Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		out := make([]Port, 0, len(details))
		for _, d := range details {
			if d == nil {
				continue
			}
			out = append(out, Port{
				Name:    d.Name,
				Product: d.Product,
				VID:     d.VID,
				PID:     d.PID,
				IsUSB:   d.IsUSB,
			})
		}
		sortPorts(out)
		return out, nil
	}

	names, nerr := serial.GetPortsList()
	if nerr != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", errors.Join(err, nerr))
	}
	out := make([]Port, 0, len(names))
	for _, n := range names {
		out = append(out, Port{Name: n})
	}
	sortPorts(out)
	return out, nil
}

func sortPorts(p []Port) {
	sort.Slice(p, func(i, j int) bool { return p[i].Name < p[j].Name })
}

// Available reports whether name still appears in the enumeration.
func Available(l Lister, name string) (bool, error) {
	list, err := l.Ports()
	if err != nil {
		return false, err
	}
	for _, p := range list {
		if p.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Require returns ErrPortGone unless name is currently attached.
func Require(l Lister, name string) error {
	ok, err := Available(l, name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPortGone, err)
	}
	if !ok {
		return ErrPortGone
	}
	return nil
}

func isKnownRP2040VID(vid string) bool {
	v := strings.ToUpper(strings.TrimSpace(vid))
	if v == "" {
		return false
	}
	// Match substring so we handle both "2E8A" and "VID_2E8A".
	return strings.Contains(v, "2E8A") || // Raspberry Pi
		strings.Contains(v, "239A") || // Adafruit
		strings.Contains(v, "1B4F") || // SparkFun
		strings.Contains(v, "1209") // pid.codes
}

// IsPicoLike reports whether the port looks like an RP2 board running MicroPython.
func IsPicoLike(p Port) bool {
	if !p.IsUSB {
		return false
	}
	if isKnownRP2040VID(p.VID) {
		return true
	}
	// Some environments omit VID/PID; fall back to product string if available.
	product := strings.ToUpper(p.Product)
	return strings.Contains(product, "PICO") || strings.Contains(product, "RP2")
}

// IsLockedError checks if a serial port error indicates the port is held by another application.
func IsLockedError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	// Windows: "Access is denied", "The process cannot access the file"
	// Linux/Mac: "resource busy", "device or resource busy"
	return strings.Contains(errStr, "access") ||
		strings.Contains(errStr, "denied") ||
		strings.Contains(errStr, "busy") ||
		strings.Contains(errStr, "in use") ||
		strings.Contains(errStr, "cannot access")
}

// Locked does a brief open to detect if another application has the port.
func Locked(name string) bool {
	s, err := serial.Open(name, &serial.Mode{BaudRate: 115200})
	if err != nil {
		return IsLockedError(err)
	}
	_ = s.Close()
	return false
}
