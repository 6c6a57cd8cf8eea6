// Package actions implements the device upload steps run by the worker:
// esptool phases for ESP32, bootloader entry and drive copy for RP2, and the
// Teensy loader.
package actions

import (
	"os/exec"

	"FirmwareUploader/worker"
)

// Action ids.
const (
	DetectFlashID     = "detect-flash"
	UploadFirmwareID  = "upload-firmware"
	ResetID           = "reset"
	EraseFlashID      = "erase-flash"
	EnterBootloaderID = "enter-bootloader"
	IdentifyBoardID   = "identify-board"
	MassStorageID     = "upload-mass-storage"
	LoaderID          = "upload-loader"
)

// Job parameter keys.
const (
	ParamCommand = "command"
	ParamPort    = "port"
	ParamSource  = "source"
	ParamDest    = "dest"
	ParamDrives  = "drives"
	ParamWait    = "wait"
	ParamPoll    = "poll"
	ParamFollow  = "follow"
	ParamLoader  = "loader"
	ParamMCU     = "mcu"
	ParamBoard   = "board"
	ParamFile    = "file"
	ParamSize    = "size"
	ParamTimeout = "timeout"
)

// execCommand is swapped out in tests.
var execCommand = exec.Command

type base struct {
	id   string
	name string
}

func (b base) ID() string   { return b.id }
func (b base) Name() string { return b.name }

var (
	_ worker.Action = (*Esptool)(nil)
	_ worker.Action = (*EnterBootloader)(nil)
	_ worker.Action = (*IdentifyBoard)(nil)
	_ worker.Action = (*MassStorage)(nil)
	_ worker.Action = (*Loader)(nil)
)
