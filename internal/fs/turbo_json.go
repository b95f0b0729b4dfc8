package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/meridianci/meridian/internal/turbopath"
)

// RemoteCacheOptions configures how a workspace talks to the remote cache.
// TeamID and Signature aren't round-tripped through turbo.json today; only
// Enabled is.
type RemoteCacheOptions struct {
	TeamID    string
	Signature bool
	Enabled   bool
}

// TurboJSON is the parsed contents of a turbo.json file: global hash inputs
// plus a Pipeline of per-task configuration.
type TurboJSON struct {
	// Extends names the workspace(s) whose turbo.json this one inherits task
	// definitions from. Only the root workspace is currently supported.
	Extends []string
	// GlobalDeps are filesystem paths that, when changed, invalidate every
	// task's hash regardless of which task's inputs actually touch them.
	GlobalDeps []string
	// GlobalEnv is a list of env vars that factor into every task's hash.
	GlobalEnv []string
	// GlobalPassThroughEnv is a list of env vars visible to every task in
	// Strict env mode without being hash inputs.
	GlobalPassThroughEnv []string
	// GlobalDotEnv is a list of .env files, relative to the repo root, whose
	// contents factor into every task's hash.
	GlobalDotEnv turbopath.AnchoredUnixPathArray
	// Pipeline holds the task definitions themselves.
	Pipeline Pipeline
	// RemoteCacheOptions configures remote cache behavior for this workspace.
	RemoteCacheOptions RemoteCacheOptions
}

// rawTurboJSON is the on-disk shape of turbo.json.
type rawTurboJSON struct {
	Extends              []string        `json:"extends,omitempty"`
	GlobalDependencies   []string        `json:"globalDependencies,omitempty"`
	GlobalEnv            []string        `json:"globalEnv,omitempty"`
	GlobalPassThroughEnv []string        `json:"globalPassThroughEnv,omitempty"`
	GlobalDotEnv         []string        `json:"globalDotEnv,omitempty"`
	Pipeline             json.RawMessage `json:"pipeline,omitempty"`
	RemoteCache          *struct {
		Enabled *bool `json:"enabled,omitempty"`
	} `json:"remoteCache,omitempty"`
}

// UnmarshalJSON parses a turbo.json document, validating env var declarations
// and deferring to BookkeepingTaskDefinition's own UnmarshalJSON for each
// pipeline entry.
func (tj *TurboJSON) UnmarshalJSON(data []byte) error {
	var raw rawTurboJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if err := validateNoDollarPrefix("globalEnv", raw.GlobalEnv); err != nil {
		return err
	}

	pipeline := make(Pipeline)
	if len(raw.Pipeline) > 0 {
		if err := json.Unmarshal(raw.Pipeline, &pipeline); err != nil {
			return fmt.Errorf("turbo.json: %w", err)
		}
	}

	var globalDotEnv turbopath.AnchoredUnixPathArray
	if raw.GlobalDotEnv != nil {
		globalDotEnv = make(turbopath.AnchoredUnixPathArray, len(raw.GlobalDotEnv))
		for i, p := range raw.GlobalDotEnv {
			globalDotEnv[i] = turbopath.AnchoredUnixPathFromUpstream(p)
		}
	}

	globalDeps := append([]string{}, raw.GlobalDependencies...)
	sort.Strings(globalDeps)
	globalEnv := append([]string{}, raw.GlobalEnv...)
	sort.Strings(globalEnv)
	globalPassThroughEnv := raw.GlobalPassThroughEnv
	if globalPassThroughEnv != nil {
		sorted := append([]string{}, globalPassThroughEnv...)
		sort.Strings(sorted)
		globalPassThroughEnv = sorted
	}

	enabled := true
	if raw.RemoteCache != nil && raw.RemoteCache.Enabled != nil {
		enabled = *raw.RemoteCache.Enabled
	}

	*tj = TurboJSON{
		Extends:              raw.Extends,
		GlobalDeps:           globalDeps,
		GlobalEnv:            globalEnv,
		GlobalPassThroughEnv: globalPassThroughEnv,
		GlobalDotEnv:         globalDotEnv,
		Pipeline:             pipeline,
		RemoteCacheOptions:   RemoteCacheOptions{Enabled: enabled},
	}
	return nil
}

// MarshalJSON serializes a TurboJSON the way turbo.json round-trips it.
func (tj TurboJSON) MarshalJSON() ([]byte, error) {
	raw := struct {
		Extends              []string `json:"extends,omitempty"`
		GlobalDependencies   []string `json:"globalDependencies,omitempty"`
		GlobalEnv            []string `json:"globalEnv,omitempty"`
		GlobalPassThroughEnv []string `json:"globalPassThroughEnv"`
		GlobalDotEnv         turbopath.AnchoredUnixPathArray `json:"globalDotEnv"`
		Pipeline             Pipeline `json:"pipeline"`
		RemoteCache          struct {
			Enabled bool `json:"enabled"`
		} `json:"remoteCache"`
	}{
		Extends:              tj.Extends,
		GlobalDependencies:   tj.GlobalDeps,
		GlobalEnv:            tj.GlobalEnv,
		GlobalPassThroughEnv: tj.GlobalPassThroughEnv,
		GlobalDotEnv:         tj.GlobalDotEnv,
		Pipeline:             tj.Pipeline,
	}
	raw.RemoteCache.Enabled = tj.RemoteCacheOptions.Enabled
	return json.Marshal(raw)
}

// TurboJSONValidation is a check that can be run against a fully-parsed
// turbo.json, returning one error per violation found.
type TurboJSONValidation func(turboJSON *TurboJSON) []error

// Validate runs every validation against this turbo.json and returns every
// error produced.
func (tj *TurboJSON) Validate(validations []TurboJSONValidation) []error {
	var errs []error
	for _, validate := range validations {
		errs = append(errs, validate(tj)...)
	}
	return errs
}

// readTurboConfig reads and parses the turbo.json file at path.
func readTurboConfig(path turbopath.AbsoluteSystemPath) (*TurboJSON, error) {
	data, err := path.ReadFile()
	if err != nil {
		return nil, err
	}
	var turboJSON TurboJSON
	if err := json.Unmarshal(data, &turboJSON); err != nil {
		return nil, fmt.Errorf("turbo.json: %w", err)
	}
	return &turboJSON, nil
}

// LoadTurboConfig reads the turbo.json for a workspace, falling back to the
// `turbo` key of its package.json for repos that haven't migrated to a
// standalone turbo.json yet.
func LoadTurboConfig(dir turbopath.AbsoluteSystemPath, rootPackageJSON *PackageJSON, isSinglePackage bool) (*TurboJSON, error) {
	turboJSONPath := dir.UntypedJoin("turbo.json")
	if turboJSONPath.FileExists() {
		if rootPackageJSON.LegacyTurboConfig != nil {
			return nil, fmt.Errorf("found both turbo.json and \"turbo\" field in package.json. Remove the \"turbo\" field from package.json")
		}
		return readTurboConfig(turboJSONPath)
	}

	if rootPackageJSON.LegacyTurboConfig != nil {
		legacy := rootPackageJSON.LegacyTurboConfig
		rootPackageJSON.LegacyTurboConfig = nil
		return legacy, nil
	}

	return nil, fmt.Errorf("Could not find turbo.json. Follow directions at https://turbo.build/repo/docs to create one: %w", os.ErrNotExist)
}

// CheckedToAbsoluteSystemPath converts s to an AbsoluteSystemPath, failing if
// s isn't already absolute.
func CheckedToAbsoluteSystemPath(s string) (turbopath.AbsoluteSystemPath, error) {
	if !filepath.IsAbs(s) {
		return "", fmt.Errorf("%q is not an absolute path", s)
	}
	return turbopath.AbsoluteSystemPathFromUpstream(s), nil
}
