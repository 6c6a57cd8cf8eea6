package controller

import (
	"strings"
	"testing"

	"FirmwareUploader/firmware"
)

func TestCommands(t *testing.T) {
	bundle := &firmware.Bundle{
		Bootloader:  "/tmp/x/bootloader.bin",
		Partitions:  "/tmp/x/partition-table.bin",
		Application: "/tmp/x/micropython.bin",
	}

	tests := []struct {
		name string
		got  []string
		want string
	}{
		{
			name: "detect",
			got:  DetectFlashCommand("esp32", "/dev/ttyUSB0"),
			want: "--chip esp32 --port /dev/ttyUSB0 --before default_reset --after no_reset flash_id",
		},
		{
			name: "upload",
			got:  UploadCommand("esp32", "COM4", 460800, 8, bundle),
			want: "--chip esp32 --port COM4 --baud 460800 --before default_reset --after hard_reset write_flash " +
				"--flash_mode dio --flash_freq 40m --flash_size 8MB " +
				"0x1000 /tmp/x/bootloader.bin 0x8000 /tmp/x/partition-table.bin 0x10000 /tmp/x/micropython.bin",
		},
		{
			name: "reset",
			got:  ResetCommand("esp32", "COM4"),
			want: "--chip esp32 --port COM4 --before default_reset run",
		},
		{
			name: "erase",
			got:  EraseCommand("esp32", "COM4"),
			want: "--chip esp32 --port COM4 --before default_reset --after hard_reset erase_flash",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Join(tt.got, " "); got != tt.want {
				t.Errorf("command =\n  %s\nwant\n  %s", got, tt.want)
			}
		})
	}
}

func TestUploadBaud(t *testing.T) {
	tests := []struct {
		requested  int
		goos       string
		want       int
		wantCapped bool
	}{
		{921600, "darwin", 460800, true},
		{921600, "windows", 921600, false},
		{115200, "darwin", 115200, false},
		{0, "linux", DefaultBaud, false},
	}
	for _, tt := range tests {
		got, capped := UploadBaud(tt.requested, tt.goos)
		if got != tt.want || capped != tt.wantCapped {
			t.Errorf("UploadBaud(%d, %s) = %d, %v; want %d, %v", tt.requested, tt.goos, got, capped, tt.want, tt.wantCapped)
		}
	}
}
