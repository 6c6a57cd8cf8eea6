package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// terminalUI reports a controller flow on a terminal. The controller calls
// it from a single goroutine.
type terminalUI struct {
	out         io.Writer
	in          *bufio.Reader
	interactive bool
	assumeYes   bool

	label  string
	last   int
	inLine bool
	done   chan bool
}

func newTerminalUI(out io.Writer, in *os.File, assumeYes bool) *terminalUI {
	return &terminalUI{
		out:         out,
		in:          bufio.NewReader(in),
		interactive: term.IsTerminal(int(in.Fd())),
		assumeYes:   assumeYes,
		last:        -1,
		done:        make(chan bool, 1),
	}
}

func (u *terminalUI) endLine() {
	if u.inLine {
		fmt.Fprintln(u.out)
		u.inLine = false
	}
}

func (u *terminalUI) Message(text string) {
	u.endLine()
	fmt.Fprintln(u.out, strings.TrimRight(text, "\r\n"))
}

func (u *terminalUI) ProgressStart(label string) {
	u.endLine()
	u.label = label
	u.last = -1
}

func (u *terminalUI) Progress(percent int) {
	if percent < 0 || percent == u.last {
		return
	}
	u.last = percent
	fmt.Fprintf(u.out, "\r%s %3d%%", u.label, percent)
	u.inLine = true
	if percent >= 100 {
		u.endLine()
	}
}

func (u *terminalUI) SetBusy(bool) {}

func (u *terminalUI) Confirm(title, text string) bool {
	u.endLine()
	fmt.Fprintf(u.out, "%s\n%s\n", title, text)
	if u.assumeYes {
		fmt.Fprintln(u.out, "Continuing (--yes).")
		return true
	}
	if !u.interactive {
		fmt.Fprintln(u.out, "Not a terminal, cannot confirm. Re-run with --yes.")
		return false
	}
	fmt.Fprint(u.out, "Continue? [y/N]: ")
	line, err := u.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "ok":
		return true
	}
	return false
}

func (u *terminalUI) Done(ok bool) {
	u.endLine()
	u.done <- ok
}
