// Command meridian is the CLI entrypoint for the task runner: it parses
// argv and dispatches to the subcommand that builds and walks a run's
// task graph.
package main

import (
	"os"

	"github.com/meridianci/meridian/internal/cmd"
)

// meridianVersion is stamped at release time; "dev" is used for local builds.
var meridianVersion = "dev"

func main() {
	os.Exit(cmd.RunWithArgs(os.Args[1:], meridianVersion))
}
