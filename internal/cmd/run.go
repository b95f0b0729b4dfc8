package cmd

import (
	"context"
	"strings"

	"github.com/mitchellh/cli"
	"github.com/spf13/pflag"
	"github.com/meridianci/meridian/internal/cmdutil"
	"github.com/meridianci/meridian/internal/run"
	"github.com/meridianci/meridian/internal/util"
)

// runCommandFactory builds the `run` subcommand, which is the sole consumer
// of the Engine/Visitor/Cache/Process Manager quartet: everything else in
// this tree exists to be assembled and driven from here.
func runCommandFactory(helper *cmdutil.Helper) cli.CommandFactory {
	return func() (cli.Command, error) {
		return &runCommand{helper: helper}, nil
	}
}

type runCommand struct {
	helper *cmdutil.Helper
}

func (c *runCommand) Synopsis() string {
	return "Run tasks across packages in a monorepo"
}

func (c *runCommand) Help() string {
	return strings.TrimSpace(`
Usage: meridian run <task> [<task>...] [flags] [-- <pass through args>]

Runs the given tasks across every package in scope, caching their
outputs and replaying them when the task's inputs haven't changed.

Flags:
  --concurrency <n>     limit on concurrently-executing tasks (default 10)
  --parallel            run tasks in parallel, ignoring the pipeline's
                         declared dependency order
  --continue            keep running unrelated tasks after one fails
  --force               ignore the cache and always execute
  --no-cache            skip writing results into the cache
  --only                restrict execution to just the named tasks, not
                         their dependencies
  --single-package       treat the repository root itself as the only
                         package
  --since <ref>         only run tasks in packages that changed since <ref>
  --filter <pattern>     restrict execution scope to packages matching
                         <pattern> (may be repeated)
  --summarize            write a run summary to .turbo/runs after execution
`)
}

func (c *runCommand) Run(args []string) int {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	c.helper.AddFlags(flags)

	var (
		concurrency   int
		parallel      bool
		continueOnErr bool
		force         bool
		noCache       bool
		only          bool
		singlePackage bool
		since         string
		filters       []string
		summarize     bool
	)
	flags.IntVar(&concurrency, "concurrency", 10, "limit on concurrently-executing tasks")
	flags.BoolVar(&parallel, "parallel", false, "run tasks in parallel, ignoring pipeline order")
	flags.BoolVar(&continueOnErr, "continue", false, "keep running unrelated tasks after one fails")
	flags.BoolVar(&force, "force", false, "ignore the cache and always execute")
	flags.BoolVar(&noCache, "no-cache", false, "skip writing results into the cache")
	flags.BoolVar(&only, "only", false, "restrict execution to just the named tasks")
	flags.BoolVar(&singlePackage, "single-package", false, "treat the repo root as the only package")
	flags.StringVar(&since, "since", "", "only run tasks in packages that changed since <ref>")
	flags.StringArrayVar(&filters, "filter", nil, "restrict execution scope to packages matching <pattern>")
	flags.BoolVar(&summarize, "summarize", false, "write a run summary to .turbo/runs after execution")

	passThroughArgs, taskArgs := splitPassThroughArgs(args)
	if err := flags.Parse(taskArgs); err != nil {
		return 1
	}

	targets := flags.Args()
	if len(targets) == 0 {
		c.helper.Cleanup(flags)
		return 1
	}

	base, err := c.helper.GetCmdBase(flags)
	if err != nil {
		return 1
	}

	return run.ExecuteRun(context.Background(), base, targets, run.Args{
		Concurrency:     concurrency,
		Parallel:        parallel,
		ContinueOnError: continueOnErr,
		Force:           force,
		NoCache:         noCache,
		Only:            only,
		SinglePackage:   singlePackage,
		Since:           since,
		FilterPatterns:  filters,
		EnvMode:         util.Infer,
		Summarize:       summarize,
		PassThroughArgs: passThroughArgs,
	})
}

// splitPassThroughArgs separates arguments meant for the run command itself
// from the ones after a bare "--", which are forwarded verbatim to each
// task's underlying script invocation.
func splitPassThroughArgs(args []string) (passThrough []string, rest []string) {
	for i, arg := range args {
		if arg == "--" {
			return args[i+1:], args[:i]
		}
	}
	return nil, args
}
