package actions

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"FirmwareUploader/logger"
	"FirmwareUploader/progress"
	"FirmwareUploader/worker"
)

// Esptool runs one esptool phase. The job's "command" parameter holds the
// tool arguments; the executable (and any interpreter prefix such as
// "python -m esptool") comes from the action.
type Esptool struct {
	base
	tool     []string
	progress bool
}

func newEsptool(id, name string, tool []string, withProgress bool) *Esptool {
	return &Esptool{base: base{id: id, name: name}, tool: tool, progress: withProgress}
}

func NewDetectFlash(tool []string) *Esptool {
	return newEsptool(DetectFlashID, "ESP32 Detect Flash", tool, false)
}

// NewUploadFirmware returns the write_flash phase, which turns
// "Writing at ... (N %)" lines into progress.
func NewUploadFirmware(tool []string) *Esptool {
	return newEsptool(UploadFirmwareID, "ESP32 Upload", tool, true)
}

func NewReset(tool []string) *Esptool {
	return newEsptool(ResetID, "ESP32 Reset", tool, false)
}

func NewEraseFlash(tool []string) *Esptool {
	return newEsptool(EraseFlashID, "ESP32 Erase Flash", tool, false)
}

func (a *Esptool) Run(job *worker.Job, report worker.Reporter) int {
	args, err := job.Params.Strings(ParamCommand)
	if err != nil {
		report.Message(fmt.Sprintf("Invalid %s job: %v", a.name, err))
		return worker.StatusFailure
	}
	if len(a.tool) == 0 {
		report.Message("No esptool executable configured.")
		return worker.StatusFailure
	}

	full := append(append([]string{}, a.tool[1:]...), args...)
	logger.Info("%s: %s %s", a.name, a.tool[0], strings.Join(full, " "))

	return runTool(a.tool[0], full, report, func(line string) {
		if a.progress {
			if percent, ok := progress.WritingPercent(line); ok {
				report.Progress(percent)
				return
			}
			if strings.HasPrefix(strings.TrimSpace(line), "Writing at") {
				return
			}
		}
		report.Message(line)
	})
}

// runTool starts name with args, merging stdout and stderr, and hands each
// non-empty line to handle. Lines are split on both "\r" and "\n" since
// esptool redraws its progress with carriage returns.
func runTool(name string, args []string, report worker.Reporter, handle func(line string)) int {
	tool := filepath.Base(name)

	cmd := execCommand(name, args...)
	hideConsole(cmd)

	r, w, err := os.Pipe()
	if err != nil {
		report.Message(fmt.Sprintf("Failed to start %s: %v", tool, err))
		return worker.StatusFailure
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		report.Message(fmt.Sprintf("Failed to start %s: %v", tool, err))
		return worker.StatusFailure
	}
	// The child holds its own copy; ours must go for EOF to arrive.
	w.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), 1024*1024)
	sc.Split(scanLines)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		logger.Raw(line + "\n")
		handle(line)
	}
	if err := sc.Err(); err != nil {
		logger.WarnWithError(err, "Reading %s output", tool)
	}
	r.Close()

	if err := cmd.Wait(); err != nil {
		report.Message(fmt.Sprintf("%s failed: %v", tool, err))
		return worker.StatusFailure
	}
	return worker.StatusSuccess
}

func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
