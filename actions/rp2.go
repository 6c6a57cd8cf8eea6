package actions

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"FirmwareUploader/drives"
	"FirmwareUploader/logger"
	"FirmwareUploader/progress"
	"FirmwareUploader/repl"
	"FirmwareUploader/worker"

	"github.com/spf13/afero"
)

// Messages the controller keys on.
const (
	IdentifiedPrefix = "Identified connected board: "
	IdentifyFailed   = "Could not autodetect the board name..."
	DriveNotDetected = "Did not detect new RP2 drive after entering bootloader mode, aborting upload."
)

const sessionReadWindow = 2 * time.Second

// EnterBootloader reboots a board running MicroPython into its UF2
// bootloader over the raw REPL. It fails when no session can be opened,
// which tells the caller to ask the operator for the button sequence.
type EnterBootloader struct {
	base
	dial    repl.Dialer
	timeout time.Duration
}

func NewEnterBootloader(dial repl.Dialer) *EnterBootloader {
	return &EnterBootloader{
		base:    base{id: EnterBootloaderID, name: "RP2 Enter Bootloader"},
		dial:    dial,
		timeout: sessionReadWindow,
	}
}

func (a *EnterBootloader) Run(job *worker.Job, report worker.Reporter) int {
	port, err := job.Params.String(ParamPort)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return worker.StatusFailure
	}

	sess, err := repl.Connect(a.dial, port, a.timeout)
	if err != nil {
		logger.Info("No MicroPython session on %s: %v", port, err)
		report.Message("Could not reach MicroPython on " + port + ".")
		return worker.StatusFailure
	}
	if err := sess.Validate(); err != nil {
		sess.Close()
		logger.Info("Session on %s failed validation: %v", port, err)
		report.Message("Device on " + port + " is not running MicroPython.")
		return worker.StatusFailure
	}

	report.Message("Entering bootloader mode...")
	if err := sess.EnterBootloader(); err != nil {
		report.Message(fmt.Sprintf("Failed to enter bootloader: %v", err))
		return worker.StatusFailure
	}
	return worker.StatusSuccess
}

// IdentifyBoard reads the board name from a running MicroPython device.
type IdentifyBoard struct {
	base
	dial    repl.Dialer
	timeout time.Duration
}

func NewIdentifyBoard(dial repl.Dialer) *IdentifyBoard {
	return &IdentifyBoard{
		base:    base{id: IdentifyBoardID, name: "Identify Board"},
		dial:    dial,
		timeout: sessionReadWindow,
	}
}

func (a *IdentifyBoard) Run(job *worker.Job, report worker.Reporter) int {
	port, err := job.Params.String(ParamPort)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return worker.StatusFailure
	}

	sess, err := repl.Connect(a.dial, port, a.timeout)
	if err != nil {
		logger.Info("Identify on %s: %v", port, err)
		report.Message(IdentifyFailed)
		return worker.StatusFailure
	}
	defer sess.Close()

	if err := sess.Validate(); err != nil {
		logger.Info("Identify on %s: %v", port, err)
		report.Message(IdentifyFailed)
		return worker.StatusFailure
	}
	machine, err := sess.BoardName()
	if err != nil || machine == "" {
		logger.Info("Identify on %s: %v", port, err)
		report.Message(IdentifyFailed)
		return worker.StatusFailure
	}

	report.Message(IdentifiedPrefix + repl.ShortBoardName(machine))
	return worker.StatusSuccess
}

// ParseIdentified returns the board name from an identify message.
func ParseIdentified(msg string) (string, bool) {
	name, ok := strings.CutPrefix(msg, IdentifiedPrefix)
	return name, ok && name != ""
}

// MassStorage copies a UF2 image onto the drive an RP2 board mounts in
// bootloader mode. The destination is either given directly ("dest") or
// found by waiting for a volume missing from the "drives" snapshot.
type MassStorage struct {
	base
	fs      afero.Fs
	volumes drives.Lister
}

func NewMassStorage(fs afero.Fs, volumes drives.Lister) *MassStorage {
	return &MassStorage{
		base:    base{id: MassStorageID, name: "RP2 Upload"},
		fs:      fs,
		volumes: volumes,
	}
}

func (a *MassStorage) Run(job *worker.Job, report worker.Reporter) int {
	source, err := job.Params.String(ParamSource)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return worker.StatusFailure
	}
	follow, err := job.Params.Bool(ParamFollow, true)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return worker.StatusFailure
	}

	dest, ok := a.destination(job, source, report)
	if !ok {
		return worker.StatusFailure
	}

	info, err := a.fs.Stat(source)
	if err != nil {
		report.Message(fmt.Sprintf("Firmware file %s not found.", source))
		return worker.StatusFailure
	}

	report.Message(fmt.Sprintf("Copying %s to %s...", filepath.Base(source), filepath.Dir(dest)))
	tracker := progress.NewCopyTracker(info.Size(), report.Progress)
	written, err := copyFile(a.fs, source, dest, follow, tracker.Add)
	if err != nil {
		logger.WithError(err, "RP2 copy to %s", dest)
		report.Message(fmt.Sprintf("Copy failed: %v", err))
		return worker.StatusFailure
	}
	logger.Info("Copied %d bytes to %s", tracker.Copied(), written)
	return worker.StatusSuccess
}

func (a *MassStorage) destination(job *worker.Job, source string, report worker.Reporter) (string, bool) {
	if job.Params.Has(ParamDest) {
		dest, err := job.Params.String(ParamDest)
		if err != nil {
			report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
			return "", false
		}
		return dest, true
	}

	before, err := job.Params.Strings(ParamDrives)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return "", false
	}
	wait, err := job.Params.Duration(ParamWait, drives.DefaultWait)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return "", false
	}
	poll, err := job.Params.Duration(ParamPoll, drives.DefaultInterval)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return "", false
	}

	report.Message("Waiting for RP2 drive...")
	w := &drives.Waiter{Lister: a.volumes, Fs: a.fs, Timeout: wait, Interval: poll}
	vol, err := w.Wait(before)
	if err != nil {
		logger.Warn("RP2 drive wait: %v", err)
		report.Message(DriveNotDetected)
		return "", false
	}
	report.Message("Found RP2 drive at " + vol.Mountpoint)
	return filepath.Join(vol.Mountpoint, filepath.Base(source)), true
}
