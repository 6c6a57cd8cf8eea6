// Package controller sequences the per-family upload flows. It submits one
// job per protocol step and decides the next step when the previous job's
// Finished event arrives.
package controller

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"FirmwareUploader/actions"
	"FirmwareUploader/config"
	"FirmwareUploader/drives"
	"FirmwareUploader/firmware"
	"FirmwareUploader/history"
	"FirmwareUploader/logger"
	"FirmwareUploader/ports"
	"FirmwareUploader/progress"
	"FirmwareUploader/worker"

	"github.com/spf13/afero"
)

// Operator-facing messages.
const (
	MsgPortGone     = "Port No Longer Available"
	MsgFileNotFound = "File Not Found"
	MsgUnsupported  = "Selected device type is unsupported"
	MsgBusy         = "An upload is already in progress."
	MsgCancelled    = "User cancelled bootloader entry, aborting upload."
	MsgWrongType    = "Provided ESP32 firmware is of wrong type."
	MsgFlashDefault = "Flash size not detected! Defaulting to 16MB"
	MsgMacBaud      = "MacOS detected. Limiting baud to 460800"
	MsgESP32Done    = "DONE: Firmware file copied to ESP32 device."
	MsgRP2Done      = "DONE: Firmware file copied to RP2 device."
	MsgTeensyDone   = "DONE: Firmware file copied to Teensy device."
	MsgEraseDone    = "Flash erase complete..."
	MsgTempCleanup  = "Error cleaning up temp directory"
)

// Bootloader prompts shown before a job is submitted.
const (
	BootloaderTitle  = "Enter Bootloader"
	RP2BootPrompt    = `Press and hold the "BOOT" button on your board, then press and release the "RESET" button. Finally, release the "BOOT" button, and click "Ok" below.` + "\n\nNOTE: You can ignore the drive popup that your OS will show."
	TeensyBootPrompt = `Press the reset button on your Teensy board, then click "Ok" below.`
)

// DefaultFlashSize is used when esptool does not report a recognized size.
const DefaultFlashSize = 16

// Engine is the worker the controller submits jobs to.
type Engine interface {
	Enqueue(job *worker.Job)
	Events() <-chan worker.Event
}

// UI is the operator-facing side: a message log, a progress bar, the
// controls lock and confirmation prompts.
type UI interface {
	Message(text string)
	Progress(percent int)
	ProgressStart(label string)
	SetBusy(busy bool)
	Confirm(title, text string) bool
	Done(ok bool)
}

// Recorder stores finished jobs.
type Recorder interface {
	Record(e history.Entry) error
}

// Deps are the system collaborators, replaceable in tests.
type Deps struct {
	Ports   ports.Lister
	Drives  drives.Lister
	Fs      afero.Fs
	History Recorder
	GOOS    string
}

// Controller owns the current session. All of its state is touched only
// from the goroutine running Run.
type Controller struct {
	engine   Engine
	ui       UI
	deps     Deps
	cfg      config.Config
	requests chan func()

	session   *Session
	lastBoard string
}

func New(engine Engine, ui UI, deps Deps, cfg *config.Config) *Controller {
	if deps.Ports == nil {
		deps.Ports = ports.System{}
	}
	if deps.Drives == nil {
		deps.Drives = drives.System{}
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.GOOS == "" {
		deps.GOOS = runtime.GOOS
	}
	c := config.Default()
	if cfg != nil {
		c = cfg
	}
	c.Normalize()
	return &Controller{
		engine:   engine,
		ui:       ui,
		deps:     deps,
		cfg:      *c,
		requests: make(chan func(), 16),
	}
}

// Run drains worker events and serves requests until ctx is done or the
// worker's event stream closes.
func (c *Controller) Run(ctx context.Context) error {
	events := c.engine.Events()
	for {
		select {
		case <-ctx.Done():
			c.abandon()
			return ctx.Err()
		case fn := <-c.requests:
			fn()
		case ev, ok := <-events:
			if !ok {
				c.abandon()
				return nil
			}
			c.handle(ev)
		}
	}
}

// Upload queues an upload request.
func (c *Controller) Upload(req UploadRequest) {
	c.requests <- func() { c.startUpload(req) }
}

// EraseFlash queues an ESP32 flash erase on port.
func (c *Controller) EraseFlash(port string) {
	c.requests <- func() { c.startErase(port) }
}

// Identify queues a board identification on port.
func (c *Controller) Identify(port string) {
	c.requests <- func() { c.startIdentify(port) }
}

func (c *Controller) abandon() {
	if c.session != nil {
		c.removeScratch()
		c.session = nil
	}
}

func (c *Controller) begin(flow Flow, port string) (*Session, bool) {
	if c.session != nil {
		c.ui.Message(MsgBusy)
		return nil, false
	}
	s := newSession(flow, port)
	s.scratch = firmware.NewScratch(c.deps.Fs, c.cfg.ScratchDir)
	c.session = s
	c.ui.SetBusy(true)
	logger.Info("Session %s: %s on %s", s.ID, flow, port)
	return s, true
}

// end closes the session on any terminal path.
func (c *Controller) end(ok bool, msg string) {
	if msg != "" {
		c.ui.Message(msg)
	}
	c.removeScratch()
	if s := c.session; s != nil {
		logger.Info("Session %s finished (ok=%v) after %v", s.ID, ok, time.Since(s.Started).Round(time.Millisecond))
	}
	c.session = nil
	c.ui.SetBusy(false)
	c.ui.Done(ok)
}

func (c *Controller) removeScratch() {
	if c.session == nil || c.session.scratch == nil {
		return
	}
	if err := c.session.scratch.Remove(); err != nil {
		logger.WithError(err, "Removing scratch directory")
		c.ui.Message(MsgTempCleanup)
	}
}

func (c *Controller) submit(actionID string, params worker.Params) {
	job := worker.NewJob(actionID, params)
	c.session.jobID = job.ID
	logger.Debug("Session %s submits %s", c.session.ID, job)
	c.engine.Enqueue(job)
}

func (c *Controller) portAvailable() bool {
	if err := ports.Require(c.deps.Ports, c.session.Port); err != nil {
		logger.Warn("Port %s check: %v", c.session.Port, err)
		return false
	}
	return true
}

func (c *Controller) startUpload(req UploadRequest) {
	if c.session != nil {
		c.ui.Message(MsgBusy)
		return
	}
	path, err := firmware.ValidatePath(req.Firmware, firmware.Extensions)
	if err != nil {
		c.ui.Message(fmt.Sprintf("Invalid firmware file: %v", err))
		c.ui.Done(false)
		return
	}

	s, _ := c.begin(FlowUpload, req.Port)
	s.Firmware = path
	s.Device = req.Device
	s.Baud = req.Baud
	s.ExpectedSize = req.ExpectedSize
	s.Family = firmware.Resolve(req.Processor, path)

	if !c.portAvailable() {
		c.end(false, MsgPortGone)
		return
	}
	info, err := c.deps.Fs.Stat(path)
	if err != nil || info.IsDir() {
		c.end(false, MsgFileNotFound)
		return
	}
	if s.ExpectedSize <= 0 {
		s.ExpectedSize = info.Size()
	}

	switch s.Family {
	case firmware.FamilyESP32:
		s.FlashSize = 0
		c.ui.Message("Detecting flash size")
		c.submit(actions.DetectFlashID, worker.Params{
			actions.ParamCommand: DetectFlashCommand(c.cfg.Chip, s.Port),
		})
	case firmware.FamilyRP2:
		c.ui.Message("Preparing to upload RP2 firmware")
		c.startRP2()
	case firmware.FamilyTeensy:
		c.ui.Message("Preparing to upload Teensy firmware")
		c.startTeensy()
	default:
		c.end(false, MsgUnsupported)
	}
}

func (c *Controller) uploadESP32() {
	s := c.session
	if !c.portAvailable() {
		c.end(false, MsgPortGone)
		return
	}

	if s.FlashSize == 0 {
		c.ui.Message(MsgFlashDefault)
		s.FlashSize = DefaultFlashSize
	} else {
		c.ui.Message(fmt.Sprintf("Flash size is %dMB", s.FlashSize))
	}
	c.ui.Message("Preparing to upload ESP32 firmware")

	bundle, err := firmware.Prepare(c.deps.Fs, s.scratch, s.Firmware)
	if err != nil {
		logger.WithError(err, "Preparing %s", s.Firmware)
		var missing *firmware.MissingPayloadError
		switch {
		case errors.As(err, &missing):
			c.end(false, missing.Error())
		case errors.Is(err, firmware.ErrBadArchive):
			c.end(false, MsgWrongType)
		default:
			c.end(false, fmt.Sprintf("Failed to extract firmware: %v", err))
		}
		return
	}

	requested := s.Baud
	if requested <= 0 {
		requested = c.cfg.Baud
	}
	baud, capped := UploadBaud(requested, c.deps.GOOS)
	if capped {
		c.ui.Message(MsgMacBaud)
	}

	c.ui.Message("Uploading firmware")
	c.ui.ProgressStart("ESP32 Upload Progress:")
	c.submit(actions.UploadFirmwareID, worker.Params{
		actions.ParamCommand: UploadCommand(c.cfg.Chip, s.Port, baud, s.FlashSize, bundle),
	})
}

func (c *Controller) resetESP32() {
	if !c.portAvailable() {
		c.end(false, MsgPortGone)
		return
	}
	c.ui.Message("Resetting ESP32")
	c.submit(actions.ResetID, worker.Params{
		actions.ParamCommand: ResetCommand(c.cfg.Chip, c.session.Port),
	})
}

func (c *Controller) startRP2() {
	s := c.session
	before, err := drives.Snapshot(c.deps.Drives)
	if err != nil {
		logger.WithError(err, "Listing drives")
		c.end(false, "Could not list mounted drives, aborting upload.")
		return
	}
	s.drives = before
	c.submit(actions.EnterBootloaderID, worker.Params{actions.ParamPort: s.Port})
}

func (c *Controller) copyRP2() {
	s := c.session
	c.ui.ProgressStart("RP2 Upload Progress:")
	c.submit(actions.MassStorageID, worker.Params{
		actions.ParamSource: s.Firmware,
		actions.ParamDrives: s.drives,
		actions.ParamWait:   c.cfg.DriveWait,
		actions.ParamPoll:   c.cfg.DrivePoll,
	})
}

func (c *Controller) startTeensy() {
	s := c.session
	if !c.ui.Confirm(BootloaderTitle, TeensyBootPrompt) {
		c.end(false, MsgCancelled)
		return
	}
	c.ui.Message("User entered bootloader button. Attempting to write firmware...")

	device := s.Device
	if device == "" {
		device = c.lastBoard
	}
	c.ui.ProgressStart("Teensy Upload Progress:")
	c.submit(actions.LoaderID, worker.Params{
		actions.ParamLoader:  c.cfg.Loader,
		actions.ParamMCU:     c.cfg.TeensyMCU,
		actions.ParamBoard:   firmware.TeensyBoardCode(device),
		actions.ParamFile:    s.Firmware,
		actions.ParamSize:    s.ExpectedSize,
		actions.ParamTimeout: c.cfg.MarkerTimeout,
	})
}

func (c *Controller) startErase(port string) {
	if _, ok := c.begin(FlowErase, port); !ok {
		return
	}
	c.session.Family = firmware.FamilyESP32
	if !c.portAvailable() {
		c.end(false, MsgPortGone)
		return
	}
	c.ui.Message("Erasing flash")
	c.submit(actions.EraseFlashID, worker.Params{
		actions.ParamCommand: EraseCommand(c.cfg.Chip, port),
	})
}

func (c *Controller) startIdentify(port string) {
	if _, ok := c.begin(FlowIdentify, port); !ok {
		return
	}
	if !c.portAvailable() {
		c.end(false, MsgPortGone)
		return
	}
	c.ui.Message("Detecting board on " + port)
	c.submit(actions.IdentifyBoardID, worker.Params{actions.ParamPort: port})
}

func (c *Controller) handle(ev worker.Event) {
	switch ev.Kind {
	case worker.EventMessage:
		c.ui.Message(ev.Text)
		c.observe(ev.Text)
	case worker.EventProgress:
		c.ui.Progress(ev.Percent)
	case worker.EventFinished:
		c.finished(ev)
	}
}

// observe picks session facts out of tool output.
func (c *Controller) observe(line string) {
	s := c.session
	if s == nil {
		return
	}
	if size, found := progress.FlashSize(line); found {
		s.FlashSize = size
	}
	if mac, ok := progress.MACAddress(line); ok {
		s.MAC = mac
	}
	if name, ok := actions.ParseIdentified(line); ok {
		s.Board = name
	}
}

func (c *Controller) finished(ev worker.Event) {
	s := c.session
	if s == nil || ev.JobID != s.jobID {
		logger.Warn("Ignoring finished %s job %d outside the current session", ev.ActionID, ev.JobID)
		return
	}
	c.record(ev)

	ok := ev.Status == worker.StatusSuccess
	switch ev.ActionID {
	case actions.DetectFlashID:
		if !ok {
			c.end(false, "Flash detection failed, aborting upload.")
			return
		}
		c.ui.Message("Flash detection complete. Uploading firmware...")
		c.uploadESP32()

	case actions.UploadFirmwareID:
		c.removeScratch()
		if !ok {
			c.end(false, "Firmware upload failed.")
			return
		}
		c.ui.Message("Firmware upload complete. Resetting ESP32...")
		c.resetESP32()

	case actions.ResetID:
		if !ok {
			c.end(false, "Reset failed.")
			return
		}
		c.ui.Message("Reset complete...")
		c.ui.Progress(100)
		if s.MAC != "" {
			c.ui.Message("Device MAC address: " + s.MAC)
		}
		c.end(true, MsgESP32Done)

	case actions.EraseFlashID:
		if !ok {
			c.end(false, "Flash erase failed.")
			return
		}
		c.end(true, MsgEraseDone)

	case actions.EnterBootloaderID:
		if ok {
			c.copyRP2()
			return
		}
		c.ui.Message("Unable to automatically enter boot mode...")
		if !c.ui.Confirm(BootloaderTitle, RP2BootPrompt) {
			c.end(false, MsgCancelled)
			return
		}
		c.ui.Message("User entered bootloader button sequence. Checking for device in boot mode...")
		c.copyRP2()

	case actions.MassStorageID:
		if !ok {
			c.end(false, "RP2 upload failed.")
			return
		}
		c.end(true, MsgRP2Done)

	case actions.LoaderID:
		if !ok {
			c.end(false, "Teensy upload failed.")
			return
		}
		c.ui.Progress(100)
		c.end(true, MsgTeensyDone)

	case actions.IdentifyBoardID:
		if ok && s.Board != "" {
			c.lastBoard = s.Board
		}
		c.end(ok, "")

	default:
		c.end(false, fmt.Sprintf("Unexpected job %s finished.", ev.ActionID))
	}
}

func (c *Controller) record(ev worker.Event) {
	if c.deps.History == nil {
		return
	}
	s := c.session
	err := c.deps.History.Record(history.Entry{
		SessionID:  s.ID,
		JobID:      ev.JobID,
		ActionID:   ev.ActionID,
		Status:     ev.Status,
		Family:     s.Family.String(),
		Port:       s.Port,
		Firmware:   s.Firmware,
		FinishedAt: time.Now(),
	})
	if err != nil {
		logger.WarnWithError(err, "Recording job %d", ev.JobID)
	}
}
