// Package uploader assembles the pieces shared by the desktop app and the
// command line: config, logging, upload history and the worker with every
// action registered.
package uploader

import (
	"fmt"
	"path/filepath"
	"sync"

	"FirmwareUploader/actions"
	"FirmwareUploader/config"
	"FirmwareUploader/controller"
	"FirmwareUploader/history"
	"FirmwareUploader/logger"
	"FirmwareUploader/worker"

	"github.com/spf13/afero"
)

// Env is a started uploader backend.
type Env struct {
	Config     *config.Config
	ConfigPath string
	Worker     *worker.Worker
	History    *history.Store

	closeOnce sync.Once
}

// Start loads the config at path ("" for the per-user default), starts
// logging, opens the history store and starts the worker.
func Start(path string) (*Env, error) {
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ResolveDirs(filepath.Dir(path))

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logger.INFO
	}
	if err := logger.Init(cfg.LogDir, level); err != nil {
		// Fall back to stdout-only logging
		logger.Warn("Failed to initialize file logging: %v", err)
	}

	env := &Env{Config: cfg, ConfigPath: path}

	// History is optional; uploads still work without it.
	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		logger.WarnWithError(err, "Opening upload history %s", cfg.HistoryDB)
	} else {
		env.History = store
	}

	env.Worker = worker.New()
	env.Worker.Register(actions.All(cfg, afero.NewOsFs())...)
	logger.Info("Uploader backend started (config %s)", path)
	return env, nil
}

// NewController returns a controller that submits to env's worker, records
// to env's history and reports to ui.
func (e *Env) NewController(ui controller.UI) *controller.Controller {
	deps := controller.Deps{}
	if e.History != nil {
		deps.History = e.History
	}
	return controller.New(e.Worker, ui, deps, e.Config)
}

// Close stops the worker, waiting for its current job, and releases the
// history store and log file. Later calls do nothing.
func (e *Env) Close() {
	e.closeOnce.Do(func() {
		e.Worker.Shutdown()
		if e.History != nil {
			if err := e.History.Close(); err != nil {
				logger.WarnWithError(err, "Closing upload history")
			}
		}
		logger.Info("Uploader backend stopped")
		logger.Close()
	})
}
