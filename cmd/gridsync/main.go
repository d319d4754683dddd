// Command gridsync drives the grid sync engine from the command line.
package main

import (
	"os"

	"github.com/roach88/gridsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
