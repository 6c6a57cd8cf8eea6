// Package progress turns raw flashing-tool output into 0-100 percentages.
package progress

import (
	"strconv"
	"strings"
)

const (
	writingPrefix  = "Writing at"
	flashSizeLabel = "Detected flash size: "
	macLabel       = "MAC: "
)

// Recognized flash sizes in MB. Anything else is reported as unknown (0).
var knownFlashSizes = map[string]int{
	"4MB":  4,
	"8MB":  8,
	"16MB": 16,
}

// WritingPercent extracts the percentage from an esptool line such as
// "Writing at 0x00010000... (42 %)". The "(100 %)" lines that close the
// bootloader and partition table writes are ignored so the bar does not
// appear to finish early; the caller asserts 100 once the whole phase is done.
func WritingPercent(line string) (int, bool) {
	line = strings.TrimLeft(line, "\r")
	if !strings.HasPrefix(line, writingPrefix) {
		return 0, false
	}
	_, rest, ok := strings.Cut(line, "... (")
	if !ok {
		return 0, false
	}
	num, _, ok := strings.Cut(rest, "%")
	if !ok {
		return 0, false
	}
	percent, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return 0, false
	}
	if percent <= 0 || percent >= 100 {
		return 0, false
	}
	return percent, true
}

// FlashSize parses a "Detected flash size: <N>MB" line. found is false
// when the line carries no flash size at all; a line with an unrecognized
// size yields (0, true).
func FlashSize(line string) (sizeMB int, found bool) {
	idx := strings.Index(line, flashSizeLabel)
	if idx < 0 {
		return 0, false
	}
	value := strings.TrimSpace(line[idx+len(flashSizeLabel):])
	if f := strings.Fields(value); len(f) > 0 {
		value = f[0]
	}
	return knownFlashSizes[value], true
}

// MACAddress returns the address from a "MAC: aa:bb:..." line.
func MACAddress(line string) (string, bool) {
	idx := strings.Index(line, macLabel)
	if idx < 0 {
		return "", false
	}
	mac := strings.TrimSpace(line[idx+len(macLabel):])
	return mac, mac != ""
}
