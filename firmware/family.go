// Package firmware resolves which device family a firmware file targets and
// prepares ESP32 bundles for esptool.
package firmware

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Family is a microcontroller family with its own upload protocol.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyESP32
	FamilyRP2
	FamilyTeensy
)

func (f Family) String() string {
	switch f {
	case FamilyESP32:
		return "ESP32"
	case FamilyRP2:
		return "RP2"
	case FamilyTeensy:
		return "Teensy"
	default:
		return "Unknown"
	}
}

// ParseFamily maps a processor name from board metadata ("ESP32", "RP2",
// "Teensy") to a Family.
func ParseFamily(processor string) (Family, error) {
	switch strings.ToUpper(strings.TrimSpace(processor)) {
	case "ESP32":
		return FamilyESP32, nil
	case "RP2", "RP2040", "RP2350":
		return FamilyRP2, nil
	case "TEENSY":
		return FamilyTeensy, nil
	default:
		return FamilyUnknown, fmt.Errorf("unsupported processor %q", processor)
	}
}

// FamilyFromFile guesses the family from the firmware file extension.
func FamilyFromFile(path string) Family {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return FamilyESP32
	case ".uf2":
		return FamilyRP2
	case ".hex", ".elf":
		return FamilyTeensy
	default:
		return FamilyUnknown
	}
}

// Resolve prefers the processor named by board metadata and falls back to
// the file extension.
func Resolve(processor, path string) Family {
	if processor != "" {
		if f, err := ParseFamily(processor); err == nil {
			return f
		}
	}
	return FamilyFromFile(path)
}

const (
	// TeensyMCU is passed to the loader as --mcu for Teensy 4.x boards.
	TeensyMCU = "imxrt1062"

	teensy41Name = "Teensy 4.1"
)

// TeensyBoardCode returns the loader's board code for a device name.
func TeensyBoardCode(device string) string {
	if strings.TrimSpace(device) == teensy41Name {
		return "TEENSY41"
	}
	return "TEENSY40"
}
