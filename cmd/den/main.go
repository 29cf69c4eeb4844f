// Command den records Nest thermostat and structure telemetry into
// time-series stores.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(execute(newRootCmd()))
}

// execute runs cmd and reports its error on cmd's stderr. Errors are
// silenced inside cobra so they are printed exactly once here.
func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("Error:", err)
		return 1
	}
	return 0
}
