//go:build windows

package actions

import (
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

// hideConsole stops console tools from flashing a window over the app.
func hideConsole(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
}
