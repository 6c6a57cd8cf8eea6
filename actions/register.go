package actions

import (
	"FirmwareUploader/config"
	"FirmwareUploader/drives"
	"FirmwareUploader/repl"
	"FirmwareUploader/worker"

	"github.com/spf13/afero"
)

// All returns every upload step, configured from cfg, for registration
// with a worker.
func All(cfg *config.Config, fs afero.Fs) []worker.Action {
	return []worker.Action{
		NewDetectFlash(cfg.Esptool),
		NewUploadFirmware(cfg.Esptool),
		NewReset(cfg.Esptool),
		NewEraseFlash(cfg.Esptool),
		NewEnterBootloader(repl.SerialDialer),
		NewIdentifyBoard(repl.SerialDialer),
		NewMassStorage(fs, drives.System{}),
		NewLoader(cfg.MarkerTimeout),
	}
}
