// Package tui renders the operator commands' terminal output.
package tui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

var (
	HasTTY = isatty.IsTerminal(os.Stdout.Fd())

	// Out receives everything the package prints.
	Out io.Writer = os.Stdout
)
