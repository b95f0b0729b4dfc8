package packagemanager

import (
	"fmt"

	"github.com/Masterminds/semver"
	"github.com/meridianci/meridian/internal/fs"
	"github.com/meridianci/meridian/internal/lockfile"
	"github.com/meridianci/meridian/internal/turbopath"
	"gopkg.in/yaml.v3"
)

// PnpmWorkspaces is a representation of workspace package globs found
// in pnpm-workspace.yaml
type PnpmWorkspaces struct {
	Packages []string `yaml:"packages,omitempty"`
}

var nodejsPnpm = PackageManager{
	Name:       "nodejs-pnpm",
	Slug:       "pnpm",
	Command:    "pnpm",
	Specfile:   "package.json",
	Lockfile:   "pnpm-lock.yaml",
	PackageDir: "node_modules",

	getWorkspaceGlobs: func(rootpath turbopath.AbsoluteSystemPath) ([]string, error) {
		bytes, err := rootpath.UntypedJoin("pnpm-workspace.yaml").ReadFile()
		if err != nil {
			return nil, fmt.Errorf("pnpm-workspace.yaml: %w", err)
		}
		var pnpmWorkspaces PnpmWorkspaces
		if err := yaml.Unmarshal(bytes, &pnpmWorkspaces); err != nil {
			return nil, fmt.Errorf("pnpm-workspace.yaml: %w", err)
		}

		if len(pnpmWorkspaces.Packages) == 0 {
			return nil, fmt.Errorf("pnpm-workspace.yaml: no packages found. Turborepo requires pnpm workspaces and thus packages to be defined in the root pnpm-workspace.yaml")
		}

		return pnpmWorkspaces.Packages, nil
	},

	getWorkspaceIgnores: func(pm PackageManager, rootpath turbopath.AbsoluteSystemPath) ([]string, error) {
		// Matches upstream values:
		// function: https://github.com/pnpm/pnpm/blob/d99daa902442e0c8ab945143ebaf5cdc691a91eb/packages/find-packages/src/index.ts#L27
		// key code: https://github.com/pnpm/pnpm/blob/d99daa902442e0c8ab945143ebaf5cdc691a91eb/packages/find-packages/src/index.ts#L30
		// call site: https://github.com/pnpm/pnpm/blob/d99daa902442e0c8ab945143ebaf5cdc691a91eb/packages/find-workspace-packages/src/index.ts#L32-L39
		return []string{
			"**/node_modules/**",
			"**/bower_components/**",
		}, nil
	},

	canPrune: func(cwd turbopath.AbsoluteSystemPath) (bool, error) {
		return true, nil
	},

	Matches: func(manager string, version string) (bool, error) {
		if manager != "pnpm" {
			return false, nil
		}

		v, err := semver.NewVersion(version)
		if err != nil {
			return false, fmt.Errorf("could not parse pnpm version: %w", err)
		}
		c, err := semver.NewConstraint(">=7.0.0")
		if err != nil {
			return false, fmt.Errorf("could not create constraint: %w", err)
		}

		return c.Check(v), nil
	},

	detect: func(projectDirectory turbopath.AbsoluteSystemPath, packageManager *PackageManager) (bool, error) {
		specfileExists := fs.FileExists(projectDirectory.UntypedJoin(packageManager.Specfile).ToString())
		lockfileExists := fs.FileExists(projectDirectory.UntypedJoin(packageManager.Lockfile).ToString())

		return (specfileExists && lockfileExists), nil
	},

	UnmarshalLockfile: func(_rootPackageJSON *fs.PackageJSON, contents []byte) (lockfile.Lockfile, error) {
		return lockfile.DecodePnpmLockfile(contents)
	},
}

// pnpmPrunePatches removes entries from the pnpm.patchedDependencies field of
// pkgJSON whose patch file is not among patches. pnpm errors out on install if
// a patch named there isn't present on disk, so a pruned workspace must drop them.
func pnpmPrunePatches(pkgJSON *fs.PackageJSON, patches []turbopath.AnchoredUnixPath) error {
	pkgJSON.Mu.Lock()
	defer pkgJSON.Mu.Unlock()

	pnpmSection, ok := pkgJSON.RawJSON["pnpm"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("Invalid structure for pnpm field in package.json")
	}
	patchedDeps, ok := pnpmSection["patchedDependencies"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("Invalid structure for pnpm.patchedDependencies field in package.json")
	}

	keysToDelete := []string{}
	for dependency, untypedPatch := range patchedDeps {
		patch, ok := untypedPatch.(string)
		if !ok {
			return fmt.Errorf("Expected value of %s in package.json to be a string, got %v", dependency, untypedPatch)
		}

		inPatches := false
		for _, wantedPatch := range patches {
			if patch == wantedPatch.ToString() {
				inPatches = true
				break
			}
		}

		if !inPatches {
			keysToDelete = append(keysToDelete, dependency)
		}
	}

	for _, key := range keysToDelete {
		delete(patchedDeps, key)
	}

	return nil
}
