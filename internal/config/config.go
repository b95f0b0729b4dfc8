// Package config reads and writes the on-disk and flag-based configuration
// that every meridian command shares: the repo-local config file committed
// under .meridian/config.json, and the user-global credentials file kept
// outside the repo.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/meridianci/meridian/internal/client"
	"github.com/meridianci/meridian/internal/turbopath"
)

// defaultAPIURL is used when no repo or user config overrides it.
const defaultAPIURL = "https://api.meridianci.dev"

// RepoConfig is configuration that is committed to the repository and shared
// by everyone who works in it, such as which team a repo's remote cache
// artifacts belong to.
type RepoConfig struct {
	apiURL   string
	teamSlug string
	teamID   string

	path turbopath.AbsoluteSystemPath
}

type repoConfigContents struct {
	APIURL   string `json:"apiurl,omitempty"`
	TeamSlug string `json:"teamslug,omitempty"`
	TeamID   string `json:"teamid,omitempty"`
}

// UserConfig holds values that are specific to the user running meridian,
// most importantly the bearer token used to authenticate with the remote
// cache. It is never committed to a repository.
type UserConfig struct {
	token string
	path  turbopath.AbsoluteSystemPath
}

type userConfigContents struct {
	Token string `json:"token,omitempty"`
}

// AddRepoConfigFlags adds the flags that can override repo config values.
func AddRepoConfigFlags(flags *pflag.FlagSet) {
	_ = flags.String("api", "", "Override the endpoint for API calls")
	_ = flags.String("team", "", "Set the team slug for API calls")
}

// AddUserConfigFlags adds the flags that can override user config values.
func AddUserConfigFlags(flags *pflag.FlagSet) {
	_ = flags.String("token", "", "Set the auth token for API calls")
}

// DefaultUserConfigPath returns the OS-appropriate location for the user
// config file.
func DefaultUserConfigPath() turbopath.AbsoluteSystemPath {
	path, err := xdg.ConfigFile(filepath.Join("meridian", "config.json"))
	if err != nil {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			home = "."
		}
		path = filepath.Join(home, ".meridian", "config.json")
	}
	return turbopath.AbsoluteSystemPathFromUpstream(path)
}

// GetRepoConfigPath returns the path to a repo's committed config file.
func GetRepoConfigPath(repoRoot turbopath.AbsoluteSystemPath) turbopath.AbsoluteSystemPath {
	return repoRoot.UntypedJoin(".meridian", "config.json")
}

func readJSONIfExists(path turbopath.AbsoluteSystemPath, dest interface{}) error {
	if !path.FileExists() {
		return nil
	}
	bytes, err := path.ReadFile()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return json.Unmarshal(bytes, dest)
}

// ReadRepoConfigFile reads the repo config file at path, applying any flag
// overrides present in flags.
func ReadRepoConfigFile(path turbopath.AbsoluteSystemPath, flags *pflag.FlagSet) (*RepoConfig, error) {
	contents := repoConfigContents{APIURL: defaultAPIURL}
	if err := readJSONIfExists(path, &contents); err != nil {
		return nil, err
	}

	rc := &RepoConfig{
		apiURL:   contents.APIURL,
		teamSlug: contents.TeamSlug,
		teamID:   contents.TeamID,
		path:     path,
	}

	if flags != nil {
		if v, err := flags.GetString("api"); err == nil && flags.Changed("api") {
			rc.apiURL = v
		}
		if v, err := flags.GetString("team"); err == nil && flags.Changed("team") {
			rc.teamSlug = v
		}
	}
	return rc, nil
}

// ReadUserConfigFile reads the user config file at path, applying any flag
// overrides present in flags.
func ReadUserConfigFile(path turbopath.AbsoluteSystemPath, flags *pflag.FlagSet) (*UserConfig, error) {
	contents := userConfigContents{}
	if err := readJSONIfExists(path, &contents); err != nil {
		return nil, err
	}

	uc := &UserConfig{token: contents.Token, path: path}

	if token := os.Getenv("MERIDIAN_TOKEN"); token != "" {
		uc.token = token
	}
	if flags != nil {
		if v, err := flags.GetString("token"); err == nil && flags.Changed("token") {
			uc.token = v
		}
	}
	return uc, nil
}

// Token returns the configured bearer token, if any.
func (u *UserConfig) Token() string {
	return u.token
}

// SetToken updates the in-memory token and persists it to the user config file.
func (u *UserConfig) SetToken(token string) error {
	u.token = token
	return u.write()
}

func (u *UserConfig) write() error {
	if err := u.path.Dir().MkdirAll(0775); err != nil {
		return err
	}
	bytes, err := json.Marshal(userConfigContents{Token: u.token})
	if err != nil {
		return err
	}
	return u.path.WriteFile(bytes, 0600)
}

// Delete removes the user config file from disk.
func (u *UserConfig) Delete() error {
	if !u.path.FileExists() {
		return nil
	}
	return os.Remove(u.path.ToString())
}

// GetRemoteConfig builds the client.RemoteConfig used to talk to the remote
// cache, combining repo-level routing information with the given token.
func (r *RepoConfig) GetRemoteConfig(token string) client.RemoteConfig {
	return client.RemoteConfig{
		Token:    token,
		TeamID:   r.teamID,
		TeamSlug: r.teamSlug,
		APIURL:   r.apiURL,
	}
}
