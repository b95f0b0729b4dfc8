// Package cmd wires the meridian subcommands into a mitchellh/cli.CLI
// dispatcher, the shell cmd/meridian's main() hands argv to.
package cmd

import (
	"os"

	"github.com/mitchellh/cli"
	"github.com/meridianci/meridian/internal/cmdutil"
)

// RunWithArgs runs meridian with the specified arguments. The arguments
// should not include the binary name itself.
func RunWithArgs(args []string, meridianVersion string) int {
	helper := cmdutil.NewHelper(meridianVersion)
	defer helper.Cleanup(nil)

	c := &cli.CLI{
		Name:     "meridian",
		Version:  meridianVersion,
		Args:     args,
		HelpFunc: cli.BasicHelpFunc("meridian"),
		Commands: map[string]cli.CommandFactory{
			"run": runCommandFactory(helper),
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		return 1
	}
	return exitCode
}
