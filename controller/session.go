package controller

import (
	"time"

	"FirmwareUploader/firmware"

	"github.com/google/uuid"
)

// Flow is the kind of operation a session drives.
type Flow int

const (
	FlowUpload Flow = iota
	FlowErase
	FlowIdentify
)

func (f Flow) String() string {
	switch f {
	case FlowUpload:
		return "upload"
	case FlowErase:
		return "erase"
	case FlowIdentify:
		return "identify"
	default:
		return "unknown"
	}
}

// UploadRequest describes one upload started by the UI.
type UploadRequest struct {
	Port      string `json:"port"`
	Firmware  string `json:"firmware"`
	Processor string `json:"processor"` // "ESP32", "RP2" or "Teensy"; empty means guess from the file
	Device    string `json:"device"`    // board display name, e.g. "Teensy 4.1"
	Baud      int    `json:"baud"`      // 0 uses the configured rate
	// ExpectedSize scales Teensy progress; 0 uses the firmware file size.
	ExpectedSize int64 `json:"expectedSize"`
}

// Session is the state of one flow, from request to terminal event.
type Session struct {
	ID           string
	Flow         Flow
	Family       firmware.Family
	Port         string
	Firmware     string
	Device       string
	Baud         int
	FlashSize    int
	ExpectedSize int64
	MAC          string
	Board        string
	Started      time.Time

	scratch *firmware.Scratch
	drives  []string
	jobID   int64
}

func newSession(flow Flow, port string) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Flow:    flow,
		Port:    port,
		Started: time.Now(),
	}
}
