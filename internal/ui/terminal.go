package ui

import (
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ColorFor reports whether ANSI colors should be written to w. It respects
// NO_COLOR, CLICOLOR_FORCE and CLICOLOR; otherwise w must be a terminal.
func ColorFor(w io.Writer) bool {
	// https://no-color.org
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
