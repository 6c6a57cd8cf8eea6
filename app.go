package main

import (
	"context"
	"path/filepath"

	"FirmwareUploader/controller"
	"FirmwareUploader/drives"
	"FirmwareUploader/history"
	"FirmwareUploader/logger"
	"FirmwareUploader/ports"
	"FirmwareUploader/uploader"

	"github.com/spf13/afero"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// Frontend event names.
const (
	EventStatus        = "upload:status"
	EventProgress      = "upload:progress"
	EventProgressStart = "upload:progress-start"
	EventBusy          = "upload:busy"
	EventDone          = "upload:done"
)

// App struct
type App struct {
	ctx  context.Context
	env  *uploader.Env
	ctrl *controller.Controller

	fs     afero.Fs
	ports  ports.Lister
	drives drives.Lister
	locked func(name string) bool
}

// NewApp creates a new App application struct
func NewApp(env *uploader.Env) *App {
	a := &App{
		env:    env,
		fs:     afero.NewOsFs(),
		ports:  ports.System{},
		drives: drives.System{},
		locked: ports.Locked,
	}
	a.ctrl = env.NewController(a)
	return a
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	go a.ctrl.Run(ctx)
}

func (a *App) shutdown(ctx context.Context) {
	a.env.Close()
}

func (a *App) emit(name string, data ...interface{}) {
	if a == nil || a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, data...)
}

// ==========================================================
// CONTROLLER OUTPUT
// ==========================================================

func (a *App) Message(text string) {
	if text == "" {
		return
	}
	a.emit(EventStatus, text)
}

func (a *App) Progress(percent int) {
	a.emit(EventProgress, percent)
}

func (a *App) ProgressStart(label string) {
	a.emit(EventProgressStart, label)
}

func (a *App) SetBusy(busy bool) {
	a.emit(EventBusy, busy)
}

func (a *App) Done(ok bool) {
	a.emit(EventDone, ok)
}

// Confirm shows a blocking Ok/Cancel dialog.
func (a *App) Confirm(title, text string) bool {
	if a == nil || a.ctx == nil {
		return false
	}
	result, err := runtime.MessageDialog(a.ctx, runtime.MessageDialogOptions{
		Type:          runtime.QuestionDialog,
		Title:         title,
		Message:       text,
		Buttons:       []string{"Ok", "Cancel"},
		DefaultButton: "Ok",
		CancelButton:  "Cancel",
	})
	if err != nil {
		logger.WarnWithError(err, "Showing %q dialog", title)
		return false
	}
	// macOS and Linux report Yes for a question dialog
	return result == "Ok" || result == "Yes"
}

// ==========================================================
// BOUND METHODS
// ==========================================================

// ListPorts returns the serial ports for the port picker.
func (a *App) ListPorts() []ports.Port {
	list, err := a.ports.Ports()
	if err != nil {
		logger.WithError(err, "Listing serial ports")
		return []ports.Port{}
	}
	return list
}

// ChooseFirmware opens a file dialog and returns the chosen path, or "".
func (a *App) ChooseFirmware() string {
	filename, err := runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Select MicroPython Firmware",
		Filters: []runtime.FileFilter{
			{
				DisplayName: "MicroPython Firmware (*.zip;*.uf2;*.hex;*.elf)",
				Pattern:     "*.zip;*.uf2;*.hex;*.elf",
			},
		},
	})
	if err != nil {
		logger.WithError(err, "Opening firmware dialog")
		return ""
	}
	return filename
}

// Upload starts an upload. The result arrives as events; the returned
// string is non-empty only when the request is rejected up front.
func (a *App) Upload(req controller.UploadRequest) string {
	if req.Port == "" {
		return "Select a serial port first."
	}
	if req.Firmware == "" {
		return "Select a firmware file first."
	}
	logger.Info("Upload requested: %s to %s", req.Firmware, req.Port)
	a.ctrl.Upload(req)
	return ""
}

// EraseFlash starts an ESP32 flash erase.
func (a *App) EraseFlash(port string) string {
	if port == "" {
		return "Select a serial port first."
	}
	a.ctrl.EraseFlash(port)
	return ""
}

// DetectBoard asks the board on port for its name.
func (a *App) DetectBoard(port string) string {
	if port == "" {
		return "Select a serial port first."
	}
	a.ctrl.Identify(port)
	return ""
}

// RecentUploads returns the newest finished upload steps.
func (a *App) RecentUploads(limit int) []history.Entry {
	if a.env == nil || a.env.History == nil {
		return []history.Entry{}
	}
	entries, err := a.env.History.Recent(limit)
	if err != nil {
		logger.WithError(err, "Reading upload history")
		return []history.Entry{}
	}
	return entries
}

type DeviceStatus struct {
	Connected        bool   `json:"connected"`
	Mode             string `json:"mode"` // NONE, BOOTLOADER, SERIAL, BOOTLOADER+SERIAL
	BootloaderDrive  string `json:"bootloaderDrive"`
	SerialPort       string `json:"serialPort"`
	SerialPortLocked bool   `json:"serialPortLocked"`
}

// GetDeviceStatus provides lightweight device presence info for the status bar.
func (a *App) GetDeviceStatus() DeviceStatus {
	status := DeviceStatus{Mode: "NONE"}

	// An RP2 in bootloader mode is exposed as a UF2 volume.
	if volumes, err := a.drives.Volumes(); err == nil {
		for _, v := range volumes {
			marker := filepath.Join(v.Mountpoint, drives.BootloaderMarker)
			if ok, _ := afero.Exists(a.fs, marker); ok {
				status.BootloaderDrive = v.Mountpoint
				status.Mode = "BOOTLOADER"
				status.Connected = true
				break
			}
		}
	}

	if list, err := a.ports.Ports(); err == nil {
		for _, p := range list {
			if !ports.IsPicoLike(p) {
				continue
			}
			status.SerialPort = p.Name
			status.Connected = true
			if status.Mode == "NONE" {
				status.Mode = "SERIAL"
			} else {
				status.Mode = "BOOTLOADER+SERIAL"
			}
			// Another app (Thonny, Arduino IDE) may hold the port.
			if a.locked != nil {
				status.SerialPortLocked = a.locked(p.Name)
			}
			break
		}
	}

	return status
}
