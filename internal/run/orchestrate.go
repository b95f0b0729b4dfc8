package run

import (
	gocontext "context"
	"fmt"
	"time"

	"github.com/pyr-sh/dag"
	"github.com/meridianci/meridian/internal/analytics"
	"github.com/meridianci/meridian/internal/cache"
	"github.com/meridianci/meridian/internal/cmdutil"
	"github.com/meridianci/meridian/internal/core"
	"github.com/meridianci/meridian/internal/env"
	"github.com/meridianci/meridian/internal/fs"
	"github.com/meridianci/meridian/internal/graph"
	"github.com/meridianci/meridian/internal/lockfile"
	"github.com/meridianci/meridian/internal/packagemanager"
	"github.com/meridianci/meridian/internal/process"
	"github.com/meridianci/meridian/internal/runcache"
	"github.com/meridianci/meridian/internal/runsummary"
	"github.com/meridianci/meridian/internal/scm"
	"github.com/meridianci/meridian/internal/scope"
	"github.com/meridianci/meridian/internal/taskhash"
	"github.com/meridianci/meridian/internal/turbopath"
	"github.com/meridianci/meridian/internal/util"
	"github.com/meridianci/meridian/internal/workspace"
)

// Args carries the CLI-level configuration for a run, gathered by the
// command layer from flags before any workspace has been read off disk.
type Args struct {
	Concurrency     int
	Parallel        bool
	ContinueOnError bool
	Force           bool
	NoCache         bool
	Only            bool
	SinglePackage   bool
	Since           string
	FilterPatterns  []string
	EnvMode         util.EnvMode
	Summarize       bool
	PassThroughArgs []string
}

// ExecuteRun builds a CompleteGraph from the repository on disk, scopes it
// to the requested targets, prepares an Engine for them, and walks it.
// This is the orchestration the daemon-less `meridian run` command drives;
// it chains together the package manager, the workspace catalog, the global
// hasher, scope resolution, and the Engine/Visitor/Cache/Process Manager
// quartet, mirroring the shape (if not the flag-parsing mechanics) of how
// every one of those pieces is unit-tested in isolation.
func ExecuteRun(ctx gocontext.Context, base *cmdutil.CmdBase, targets []string, args Args) int {
	startAt := time.Now()

	rootPackageJSONPath := base.RepoRoot.UntypedJoin("package.json")
	rootPackageJSON, err := fs.ReadPackageJSON(rootPackageJSONPath)
	if err != nil {
		base.LogError("reading root package.json: %w", err)
		return 1
	}

	packageManager, err := packagemanager.GetPackageManager(base.RepoRoot, rootPackageJSON)
	if err != nil {
		base.LogError("%w", err)
		return 1
	}

	workspaceInfos, workspaceGraph, err := buildWorkspaceCatalog(base.RepoRoot, rootPackageJSON, packageManager)
	if err != nil {
		base.LogError("discovering workspaces: %w", err)
		return 1
	}

	isSinglePackage := args.SinglePackage
	rootTurboJSON, err := fs.LoadTurboConfig(base.RepoRoot, rootPackageJSON, isSinglePackage)
	if err != nil {
		base.LogError("reading turbo.json: %w", err)
		return 1
	}
	workspaceInfos.TurboConfigs[util.RootPkgName] = rootTurboJSON

	var currLockfile lockfile.Lockfile
	if lockfileContents, err := base.RepoRoot.UntypedJoin(packageManager.Lockfile).ReadFile(); err == nil {
		currLockfile, err = packageManager.UnmarshalLockfile(rootPackageJSON, lockfileContents)
		if err != nil {
			base.LogWarning("", fmt.Errorf("parsing %s: %w, continuing without a lockfile", packageManager.Lockfile, err))
			currLockfile = nil
		}
	}

	envAtExecutionStart := env.GetEnvMap()
	globalHash, err := calculateGlobalHash(
		base.RepoRoot,
		rootPackageJSON,
		rootTurboJSON.Pipeline,
		rootTurboJSON.GlobalEnv,
		rootTurboJSON.GlobalDeps,
		packageManager,
		currLockfile,
		base.Logger,
		envAtExecutionStart.ToHashable(),
	)
	if err != nil {
		base.LogError("calculating global hash: %w", err)
		return 1
	}

	completeGraph := &graph.CompleteGraph{
		WorkspaceGraph:  workspaceGraph,
		Pipeline:        rootTurboJSON.Pipeline,
		WorkspaceInfos:  workspaceInfos,
		GlobalHash:      globalHash,
		RootNode:        core.ROOT_NODE_NAME,
		TaskDefinitions: map[string]*fs.TaskDefinition{},
		RepoRoot:        base.RepoRoot,
	}
	completeGraph.TaskHashTracker = taskhash.NewTracker(core.ROOT_NODE_NAME, globalHash, envAtExecutionStart, rootTurboJSON.Pipeline)

	repoSCM, err := scm.NewFallback(base.RepoRoot.ToString())
	if err != nil {
		base.LogWarning("", err)
	}

	scopeOpts := &scope.Opts{
		FilterPatterns: args.FilterPatterns,
		LegacyFilter:   scope.LegacyFilter{Since: args.Since},
	}
	filteredPkgs, isAllPackages, err := scope.ResolvePackages(scopeOpts, base.RepoRoot, repoSCM, completeGraph, packageManager, currLockfile, base.UI, base.Logger)
	if err != nil {
		base.LogError("resolving packages in scope: %w", err)
		return 1
	}
	packagesInScope := filteredPkgs.UnsafeListOfStrings()

	engine := core.NewEngine(completeGraph, isSinglePackage)
	for _, target := range targets {
		engine.AddTask(target)
	}
	if err := engine.Prepare(&core.EngineBuildingOptions{
		Packages:  packagesInScope,
		TaskNames: targets,
		TasksOnly: args.Only,
	}); err != nil {
		base.LogError("preparing task graph: %w", err)
		return 1
	}
	if err := engine.ValidatePersistentDependencies(completeGraph, args.Concurrency); err != nil {
		base.LogError("%w", err)
		return 1
	}

	// When scoped to "since a ref", only the tasks that changed packages (and
	// whatever transitively depends on them) need walking; everything else in
	// the prepared engine is still cached input for the hasher, not work.
	if args.Since != "" {
		subgraph, err := engine.CreateEngineForSubgraph(targets)
		if err != nil {
			base.LogError("scoping task graph to changes since %s: %w", args.Since, err)
			return 1
		}
		engine = subgraph
	}

	rs := &runSpec{
		Targets:      targets,
		FilteredPkgs: filteredPkgs,
		Opts: &Opts{
			runOpts: util.RunOpts{
				Concurrency:     args.Concurrency,
				Parallel:        args.Parallel,
				ContinueOnError: args.ContinueOnError,
				PassThroughArgs: args.PassThroughArgs,
				Only:            args.Only,
				SinglePackage:   isSinglePackage,
				Summarize:       args.Summarize,
				EnvMode:         args.EnvMode,
			},
			cacheOpts: cache.Opts{},
			runcacheOpts: runcache.Opts{
				SkipReads:  args.Force,
				SkipWrites: args.NoCache,
			},
			scopeOpts: *scopeOpts,
		},
	}
	_ = isAllPackages

	turboCache, err := cache.New(rs.Opts.cacheOpts, base.RepoRoot, base.APIClient, analytics.NullRecorder, base.Logger)
	if err != nil {
		base.LogError("initializing cache: %w", err)
		return 1
	}
	defer turboCache.Shutdown()

	processes := process.NewManager(base.Logger.Named("processes"))
	defer processes.Close()

	runSummary := runsummary.NewRunSummary(
		startAt,
		base.UI,
		base.RepoRoot,
		"",
		base.TurboVersion,
		base.APIClient,
		rs.Opts.runOpts,
		packagesInScope,
		args.EnvMode,
		runsummary.NewGlobalHashSummary(
			map[turbopath.AnchoredUnixPath]string{},
			rootPackageJSON.ExternalDepsHash,
			globalHash,
			rootTurboJSON.Pipeline,
		),
		"",
	)

	// Persistent, non-interruptible tasks (e.g. long-running dev servers)
	// can't safely be restarted mid-walk, so they get their own terminal
	// phase off the root node instead of sharing a walk with everything
	// that depends on them finishing.
	interruptible := engine.CreateEngineForInterruptibleTasks()
	exitCode := 0
	if err := RealRun(ctx, completeGraph, rs, interruptible, completeGraph.TaskHashTracker, turboCache, packagesInScope, base, runSummary, packageManager, processes); err != nil {
		base.LogError("%w", err)
		exitCode = 1
	}

	nonInterruptible := engine.CreateEngineForNonInterruptibleTasks()
	if len(nonInterruptible.TaskGraph.Vertices()) > 1 {
		if err := RealRun(ctx, completeGraph, rs, nonInterruptible, completeGraph.TaskHashTracker, turboCache, packagesInScope, base, runSummary, packageManager, processes); err != nil {
			base.LogError("%w", err)
			exitCode = 1
		}
	}

	return exitCode
}

// buildWorkspaceCatalog scans the repository for every workspace the
// package manager reports, reads each one's package.json, and connects
// their internal dependency edges into a WorkspaceGraph. There is no
// equivalent of `context.New` to delegate to here: this is the from-disk
// assembly step every CompleteGraph consumer otherwise assumes happened
// already.
func buildWorkspaceCatalog(repoRoot turbopath.AbsoluteSystemPath, rootPackageJSON *fs.PackageJSON, packageManager *packagemanager.PackageManager) (workspace.Catalog, dag.AcyclicGraph, error) {
	catalog := workspace.Catalog{
		PackageJSONs: map[string]*fs.PackageJSON{util.RootPkgName: rootPackageJSON},
		TurboConfigs: map[string]*fs.TurboJSON{},
	}

	packageJSONPaths, err := packageManager.GetWorkspaces(repoRoot)
	if err != nil {
		return catalog, dag.AcyclicGraph{}, fmt.Errorf("globbing for workspace package.jsons: %w", err)
	}

	var workspaceGraph dag.AcyclicGraph
	for _, path := range packageJSONPaths {
		pkgJSONPath := turbopath.AbsoluteSystemPathFromUpstream(path)
		pkg, err := fs.ReadPackageJSON(pkgJSONPath)
		if err != nil {
			return catalog, workspaceGraph, fmt.Errorf("reading %s: %w", path, err)
		}
		if pkg.Name == "" {
			continue
		}

		pkgDir := pkgJSONPath.Dir()
		anchoredDir, err := pkgDir.RelativeTo(repoRoot)
		if err != nil {
			return catalog, workspaceGraph, fmt.Errorf("relativizing %s: %w", pkgDir, err)
		}
		pkg.PackageJSONPath = anchoredDir.Join(turbopath.RelativeSystemPath("package.json"))
		pkg.Dir = anchoredDir

		catalog.PackageJSONs[pkg.Name] = pkg
		workspaceGraph.Add(pkg.Name)
	}
	workspaceGraph.Add(util.RootPkgName)

	for name, pkg := range catalog.PackageJSONs {
		if name == util.RootPkgName {
			continue
		}

		internalDepsSet := make(dag.Set)
		for dep := range pkg.Dependencies {
			if _, ok := catalog.PackageJSONs[dep]; ok {
				internalDepsSet.Add(dep)
			}
		}
		for dep := range pkg.DevDependencies {
			if _, ok := catalog.PackageJSONs[dep]; ok {
				internalDepsSet.Add(dep)
			}
		}
		for dep := range pkg.OptionalDependencies {
			if _, ok := catalog.PackageJSONs[dep]; ok {
				internalDepsSet.Add(dep)
			}
		}

		pkg.InternalDeps = make([]string, 0, internalDepsSet.Len())
		for _, dep := range internalDepsSet.List() {
			depName := dep.(string)
			pkg.InternalDeps = append(pkg.InternalDeps, depName)
			workspaceGraph.Connect(dag.BasicEdge(name, depName))
		}

		// A package with no internal dependencies still needs to reach the
		// sentinel root, or it never participates in a topological walk.
		if internalDepsSet.Len() == 0 {
			workspaceGraph.Connect(dag.BasicEdge(name, core.ROOT_NODE_NAME))
		}
	}

	return catalog, workspaceGraph, nil
}
