package runsummary

import (
	"os/exec"
	"strings"

	"github.com/meridianci/meridian/internal/turbopath"
)

type scmState struct {
	Type   string `json:"type"`
	Sha    string `json:"sha"`
	Branch string `json:"branch"`
}

// getSCMState returns the sha and branch when in a git repo.
// Otherwise it returns empty strings.
func getSCMState(dir turbopath.AbsoluteSystemPath) *scmState {
	return &scmState{
		Type:   "git",
		Branch: runGitCommand(dir, "rev-parse", "--abbrev-ref", "HEAD"),
		Sha:    runGitCommand(dir, "rev-parse", "HEAD"),
	}
}

// getCurrentUser returns the git-configured user email for the current
// repository, or an empty string if none is configured.
func getCurrentUser() string {
	return runGitCommand("", "config", "user.email")
}

func runGitCommand(dir turbopath.AbsoluteSystemPath, args ...string) string {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir.ToString()
	}
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
