package actions

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"FirmwareUploader/logger"
	"FirmwareUploader/progress"
	"FirmwareUploader/worker"
)

// DefaultMarkerTimeout bounds the wait for the loader's "Programming" line.
const DefaultMarkerTimeout = 5 * time.Second

// TimeoutMessage is reported when the board never entered its bootloader.
const TimeoutMessage = "Timed out waiting for the Teensy bootloader. Press the reset button on your board and try again."

// Loader flashes a Teensy through teensy_loader_cli.
type Loader struct {
	base
	progress      *progress.TeensyProgress
	reported      int
	markerTimeout time.Duration
}

func NewLoader(markerTimeout time.Duration) *Loader {
	if markerTimeout <= 0 {
		markerTimeout = DefaultMarkerTimeout
	}
	return &Loader{
		base:          base{id: LoaderID, name: "Teensy Upload"},
		progress:      progress.NewTeensyProgress(0),
		markerTimeout: markerTimeout,
	}
}

// LoaderArgs builds the loader command line.
func LoaderArgs(mcu, board, file string) []string {
	return []string{"--mcu=" + mcu, "-v", "-w", board, file}
}

func (a *Loader) Run(job *worker.Job, report worker.Reporter) int {
	p := job.Params
	loader, err := p.String(ParamLoader)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return worker.StatusFailure
	}
	mcu, err := p.String(ParamMCU)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return worker.StatusFailure
	}
	board, err := p.String(ParamBoard)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return worker.StatusFailure
	}
	file, err := p.String(ParamFile)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return worker.StatusFailure
	}
	size, err := p.Int64(ParamSize, 0)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return worker.StatusFailure
	}
	timeout, err := p.Duration(ParamTimeout, a.markerTimeout)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return worker.StatusFailure
	}

	a.progress.Reset(size)
	a.reported = 0

	args := LoaderArgs(mcu, board, file)
	logger.Info("%s: %s %v", a.name, loader, args)

	cmd := execCommand(loader, args...)
	hideConsole(cmd)

	r, w, err := os.Pipe()
	if err != nil {
		report.Message(fmt.Sprintf("Failed to start %s: %v", filepath.Base(loader), err))
		return worker.StatusFailure
	}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		report.Message(fmt.Sprintf("Failed to start %s: %v", filepath.Base(loader), err))
		return worker.StatusFailure
	}
	w.Close()
	defer r.Close()

	chunks := make(chan string)
	go readChunks(r, chunks)

	if !a.waitForMarker(chunks, timeout, report) {
		if err := cmd.Process.Kill(); err != nil {
			logger.WarnWithError(err, "Killing %s", filepath.Base(loader))
		}
		report.Progress(worker.ProgressTimedOut)
		report.Message(TimeoutMessage)
		for range chunks {
		}
		_ = cmd.Wait()
		return worker.StatusFailure
	}

	a.stream(chunks, report)

	if err := cmd.Wait(); err != nil {
		report.Message(fmt.Sprintf("Teensy loader failed: %v", err))
		return worker.StatusFailure
	}
	logger.Raw("\nTeensy Upload Done.\n")
	return worker.StatusSuccess
}

// waitForMarker consumes output until the loader starts programming. It
// returns false if the timeout passes first.
func (a *Loader) waitForMarker(chunks <-chan string, timeout time.Duration, report worker.Reporter) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				// Loader exited before programming; its exit status decides.
				return true
			}
			logger.Raw(chunk)
			a.forward(a.progress.Parse(chunk), report)
			if a.progress.Programming() {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}

// stream counts block dots until the loader closes its output.
func (a *Loader) stream(chunks <-chan string, report worker.Reporter) {
	for chunk := range chunks {
		logger.Raw(chunk)
		a.forward(a.progress.Parse(chunk), report)
	}
}

func (a *Loader) forward(percent int, report worker.Reporter) {
	if percent > a.reported && percent < 100 {
		a.reported = percent
		report.Progress(percent)
	}
}

// readChunks delivers output from r until EOF, then closes out.
func readChunks(r io.Reader, out chan<- string) {
	defer close(out)
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out <- string(buf[:n])
		}
		if err != nil {
			return
		}
	}
}
