// Package config loads the uploader's YAML settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"FirmwareUploader/logger"

	"gopkg.in/yaml.v3"
)

const (
	appDirName     = "FirmwareUploader"
	configFileName = "config.yaml"
)

// Config holds tool locations and timing used by the upload flows.
type Config struct {
	Esptool       []string      `yaml:"esptool"`
	Chip          string        `yaml:"chip"`
	Baud          int           `yaml:"baud"`
	Loader        string        `yaml:"loader"`
	TeensyMCU     string        `yaml:"teensy_mcu"`
	MarkerTimeout time.Duration `yaml:"marker_timeout"`
	DriveWait     time.Duration `yaml:"drive_wait"`
	DrivePoll     time.Duration `yaml:"drive_poll"`
	ScratchDir    string        `yaml:"scratch_dir"`
	LogLevel      string        `yaml:"log_level"`
	LogDir        string        `yaml:"log_dir"`
	HistoryDB     string        `yaml:"history_db"`
}

// Default returns a config with default values
func Default() *Config {
	return &Config{
		Esptool:       []string{"esptool.py"},
		Chip:          "esp32",
		Baud:          460800,
		Loader:        "teensy_loader_cli",
		TeensyMCU:     "imxrt1062",
		MarkerTimeout: 5 * time.Second,
		DriveWait:     2 * time.Second,
		DrivePoll:     10 * time.Millisecond,
		LogLevel:      "INFO",
	}
}

// Normalize replaces empty or invalid values with defaults.
func (c *Config) Normalize() {
	d := Default()
	if len(c.Esptool) == 0 || c.Esptool[0] == "" {
		c.Esptool = d.Esptool
	}
	if c.Chip == "" {
		c.Chip = d.Chip
	}
	if c.Baud <= 0 {
		c.Baud = d.Baud
	}
	if c.Loader == "" {
		c.Loader = d.Loader
	}
	if c.TeensyMCU == "" {
		c.TeensyMCU = d.TeensyMCU
	}
	if c.MarkerTimeout <= 0 {
		c.MarkerTimeout = d.MarkerTimeout
	}
	if c.DriveWait <= 0 {
		c.DriveWait = d.DriveWait
	}
	if c.DrivePoll <= 0 {
		c.DrivePoll = d.DrivePoll
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		c.LogLevel = d.LogLevel
	}
}

// Dir returns the per-user application directory, creating it if needed.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	dir := filepath.Join(base, appDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// Path returns the default config file location.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// Load reads path. A missing file is created with the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Save defaults on first run
			return cfg, Save(path, cfg)
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ResolveDirs fills LogDir and HistoryDB relative to the application dir.
func (c *Config) ResolveDirs(appDir string) {
	if c.LogDir == "" {
		c.LogDir = filepath.Join(appDir, "logs")
	}
	if c.HistoryDB == "" {
		c.HistoryDB = filepath.Join(appDir, "history.db")
	}
}
