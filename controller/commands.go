package controller

import (
	"strconv"

	"FirmwareUploader/firmware"
)

const (
	DefaultBaud = 460800
	fastBaud    = 921600
)

// DetectFlashCommand queries flash identity without resetting afterwards.
func DetectFlashCommand(chip, port string) []string {
	return []string{"--chip", chip, "--port", port, "--before", "default_reset", "--after", "no_reset", "flash_id"}
}

// UploadCommand writes the three bundle payloads at their fixed offsets.
func UploadCommand(chip, port string, baud, flashSizeMB int, b *firmware.Bundle) []string {
	cmd := []string{
		"--chip", chip,
		"--port", port,
		"--baud", strconv.Itoa(baud),
		"--before", "default_reset", "--after", "hard_reset",
		"write_flash", "--flash_mode", "dio", "--flash_freq", "40m", "--flash_size", strconv.Itoa(flashSizeMB) + "MB",
	}
	for _, p := range b.Payloads() {
		cmd = append(cmd, p.Addr, p.Path)
	}
	return cmd
}

func ResetCommand(chip, port string) []string {
	return []string{"--chip", chip, "--port", port, "--before", "default_reset", "run"}
}

func EraseCommand(chip, port string) []string {
	return []string{"--chip", chip, "--port", port, "--before", "default_reset", "--after", "hard_reset", "erase_flash"}
}

// UploadBaud caps 921600 to 460800 on macOS, where the higher rate is unreliable.
func UploadBaud(requested int, goos string) (baud int, capped bool) {
	if requested <= 0 {
		return DefaultBaud, false
	}
	if requested == fastBaud && goos == "darwin" {
		return DefaultBaud, true
	}
	return requested, false
}
