package main

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestFailedFlowClosesBackend(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.yaml")

	err := execute([]string{"--config", cfg, "erase", "--port", "/dev/definitely-not-here"})
	if !errors.Is(err, errFlowFailed) {
		t.Fatalf("execute() = %v, want %v", err, errFlowFailed)
	}
	if env == nil || env.History == nil {
		t.Fatal("backend was not started")
	}
	if err := env.History.Db.Ping(); err == nil {
		t.Error("history db still open after a failed flow")
	}
	if env.Worker.Busy() {
		t.Error("worker still busy after execute returned")
	}
}

func TestHistoryCommandOnEmptyStore(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.yaml")

	if err := execute([]string{"--config", cfg, "history", "--limit", "5"}); err != nil {
		t.Fatalf("history: %v", err)
	}
	if err := env.History.Db.Ping(); err == nil {
		t.Error("history db still open after the command")
	}
}
