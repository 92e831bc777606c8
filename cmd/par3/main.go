package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/marmos91/par3/cmd/par3/commands"
	"github.com/marmos91/par3/pkg/par3"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		var outcome *par3.Error
		if errors.As(err, &outcome) {
			// Terminal verify/repair outcomes are reported by the
			// commands themselves; everything else is an error.
			switch outcome.Kind {
			case par3.KindRepairPossible, par3.KindRepairNotPossible:
			default:
				fmt.Fprintf(os.Stderr, "par3: %v\n", err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "par3: %v\n", err)
		}
		os.Exit(par3.KindOf(err).ExitCode())
	}
}
