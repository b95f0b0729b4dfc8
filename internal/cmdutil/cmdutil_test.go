package cmdutil

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/meridianci/meridian/internal/turbopath"
	"gotest.tools/v3/assert"
)

func TestTokenEnvVar(t *testing.T) {
	userConfigPath := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir()).UntypedJoin("meridian", "config.json")
	expectedToken := "my-token-value"

	t.Cleanup(func() {
		_ = os.Unsetenv("MERIDIAN_TOKEN")
	})

	flags := pflag.NewFlagSet("test-flags", pflag.ContinueOnError)
	h := NewHelper("test-version")
	h.AddFlags(flags)
	h.UserConfigPath = userConfigPath

	assert.NilError(t, os.Setenv("MERIDIAN_TOKEN", expectedToken), "setenv")

	base, err := h.GetCmdBase(flags)
	if err != nil {
		t.Fatalf("failed to get command base %v", err)
	}
	assert.Equal(t, base.RemoteConfig.Token, expectedToken)
}

func TestRemoteCacheTimeoutFlag(t *testing.T) {
	userConfigPath := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir()).UntypedJoin("meridian", "config.json")
	expectedTimeout := "600"

	flags := pflag.NewFlagSet("test-flags", pflag.ContinueOnError)
	h := NewHelper("test-version")
	h.AddFlags(flags)
	h.UserConfigPath = userConfigPath

	assert.NilError(t, flags.Set("remote-cache-timeout", expectedTimeout), "flags.Set")

	base, err := h.GetCmdBase(flags)
	if err != nil {
		t.Fatalf("failed to get command base %v", err)
	}

	assert.Equal(t, base.APIClient.HTTPClient.HTTPClient.Timeout, time.Duration(600)*time.Second)
}
