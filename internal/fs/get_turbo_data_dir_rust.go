//go:build rust
// +build rust

package fs

import (
	"github.com/meridianci/meridian/internal/ffi"
	"github.com/meridianci/meridian/internal/turbopath"
)

// GetTurboDataDir returns a directory outside of the repo
// where turbo can store data files related to turbo.
func GetTurboDataDir() turbopath.AbsoluteSystemPath {
	dir := ffi.GetTurboDataDir()
	return turbopath.AbsoluteSystemPathFromUpstream(dir)
}
