package cliutil

import (
	"os"

	"golang.org/x/term"
)

// ColorEnabled reports whether f is a terminal that should receive styled
// output. NO_COLOR and a dumb or unset TERM disable color.
func ColorEnabled(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if t := os.Getenv("TERM"); t == "" || t == "dumb" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
