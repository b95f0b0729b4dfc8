package turbopath

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
)

// dirPermissions are the default permission bits we apply to directories
// created on behalf of a caller that didn't specify its own mode.
const dirPermissions = os.ModeDir | 0775

// fileExists returns true if the given path exists and is not a directory.
func fileExists(filename string) bool {
	info, err := os.Lstat(filename)
	return err == nil && !info.IsDir()
}

// ToStringDuringMigration returns the string representation of this path.
// It exists to mark call sites that have not yet been audited for whether
// they should be using a more specific path type.
func (p AbsoluteSystemPath) ToStringDuringMigration() string {
	return p.ToString()
}

// UntypedJoin appends unchecked path segments to this AbsoluteSystemPath.
func (p AbsoluteSystemPath) UntypedJoin(segments ...string) AbsoluteSystemPath {
	return AbsoluteSystemPath(filepath.Join(p.ToString(), filepath.Join(segments...)))
}

// Dir returns the parent directory of this path.
func (p AbsoluteSystemPath) Dir() AbsoluteSystemPath {
	return AbsoluteSystemPath(filepath.Dir(p.ToString()))
}

// Base returns the last element of this path.
func (p AbsoluteSystemPath) Base() string {
	return filepath.Base(p.ToString())
}

// Ext returns this path's file extension, including the leading dot.
func (p AbsoluteSystemPath) Ext() string {
	return filepath.Ext(p.ToString())
}

// MkdirAll implements os.MkdirAll for this path. When mode is the zero
// value, a sensible default directory mode is used.
func (p AbsoluteSystemPath) MkdirAll(mode os.FileMode) error {
	if mode == 0 {
		mode = dirPermissions
	}
	return os.MkdirAll(p.ToString(), mode)
}

// EnsureDir ensures that the directory containing this path exists,
// recreating it if something non-directory currently occupies that slot.
func (p AbsoluteSystemPath) EnsureDir() error {
	dir := filepath.Dir(p.ToString())
	err := os.MkdirAll(dir, dirPermissions)
	if err != nil && fileExists(dir) {
		if err2 := os.Remove(dir); err2 == nil {
			err = os.MkdirAll(dir, dirPermissions)
		} else {
			return err
		}
	}
	return err
}

// FileExists returns true if this path exists and is not a directory.
func (p AbsoluteSystemPath) FileExists() bool {
	return fileExists(p.ToString())
}

// DirExists returns true if this path exists and is a directory.
func (p AbsoluteSystemPath) DirExists() bool {
	info, err := p.Lstat()
	return err == nil && info.IsDir()
}

// Lstat implements os.Lstat for this path.
func (p AbsoluteSystemPath) Lstat() (os.FileInfo, error) {
	return os.Lstat(p.ToString())
}

// Open implements os.Open for this path.
func (p AbsoluteSystemPath) Open() (*os.File, error) {
	return os.Open(p.ToString())
}

// OpenFile implements os.OpenFile for this path.
func (p AbsoluteSystemPath) OpenFile(flags int, mode os.FileMode) (*os.File, error) {
	return os.OpenFile(p.ToString(), flags, mode)
}

// Create implements os.Create for this path.
func (p AbsoluteSystemPath) Create() (*os.File, error) {
	return os.Create(p.ToString())
}

// ReadFile reads the contents of the file at this path.
func (p AbsoluteSystemPath) ReadFile() ([]byte, error) {
	return ioutil.ReadFile(p.ToString())
}

// WriteFile writes contents to the file at this path.
func (p AbsoluteSystemPath) WriteFile(contents []byte, mode os.FileMode) error {
	return ioutil.WriteFile(p.ToString(), contents, mode)
}

// Symlink implements os.Symlink(target, p) for this path.
func (p AbsoluteSystemPath) Symlink(target string) error {
	return os.Symlink(target, p.ToString())
}

// Readlink implements os.Readlink for this path.
func (p AbsoluteSystemPath) Readlink() (string, error) {
	return os.Readlink(p.ToString())
}

// Remove removes the file or empty directory at this path.
func (p AbsoluteSystemPath) Remove() error {
	return os.Remove(p.ToString())
}

// RemoveAll implements os.RemoveAll for this path.
func (p AbsoluteSystemPath) RemoveAll() error {
	return os.RemoveAll(p.ToString())
}

// Rename implements os.Rename(p, dest) for this path.
func (p AbsoluteSystemPath) Rename(dest AbsoluteSystemPath) error {
	return os.Rename(p.ToString(), dest.ToString())
}

// RelativePathString returns the relative path from this path to target, as a string.
func (p AbsoluteSystemPath) RelativePathString(target string) (string, error) {
	return filepath.Rel(p.ToString(), target)
}

// PathTo returns the relative path from this path to another absolute path.
func (p AbsoluteSystemPath) PathTo(other AbsoluteSystemPath) (string, error) {
	return p.RelativePathString(other.ToString())
}

// EvalSymlinks resolves symlinks in this path, returning the canonical path.
func (p AbsoluteSystemPath) EvalSymlinks() (AbsoluteSystemPath, error) {
	resolved, err := filepath.EvalSymlinks(p.ToString())
	if err != nil {
		return "", err
	}
	return AbsoluteSystemPath(resolved), nil
}

// ContainsPath returns true if this path is a parent directory of other.
func (p AbsoluteSystemPath) ContainsPath(other AbsoluteSystemPath) (bool, error) {
	rel, err := filepath.Rel(p.ToString(), other.ToString())
	if err != nil {
		return false, err
	}
	sentinel := ".." + string(filepath.Separator)
	return !strings.HasPrefix(rel, sentinel) && rel != "..", nil
}

// Findup searches this directory and its parents, nearest first, for a file
// named name. It returns the empty path and os.ErrNotExist if no parent
// directory contains that file.
func (p AbsoluteSystemPath) Findup(name RelativeSystemPath) (AbsoluteSystemPath, error) {
	found, err := findupFrom(name.ToString(), p.ToString(), defaultReadDir)
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", os.ErrNotExist
	}
	return AbsoluteSystemPath(found), nil
}

// GetCwd returns the current working directory, with symlinks resolved, as
// an AbsoluteSystemPath.
func GetCwd() (AbsoluteSystemPath, error) {
	cwdRaw, err := os.Getwd()
	if err != nil {
		return "", err
	}
	// Package managers resolve symlinks in cwd, so we mirror that behavior.
	cwdRaw, err = filepath.EvalSymlinks(cwdRaw)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(cwdRaw) {
		return "", os.ErrInvalid
	}
	return AbsoluteSystemPath(cwdRaw), nil
}

// CheckedToAbsoluteSystemPath returns an AbsoluteSystemPath if the given
// string is an absolute path, and an error otherwise.
func CheckedToAbsoluteSystemPath(s string) (AbsoluteSystemPath, error) {
	if filepath.IsAbs(s) {
		return AbsoluteSystemPath(s), nil
	}
	return "", &pathError{s}
}

type pathError struct {
	path string
}

func (e *pathError) Error() string {
	return e.path + " is not an absolute path"
}

// UnsafeToAbsoluteSystemPath casts a string to an AbsoluteSystemPath without
// checking that it is actually absolute.
func UnsafeToAbsoluteSystemPath(s string) AbsoluteSystemPath {
	return AbsoluteSystemPath(s)
}

// ResolveUnknownPath returns unknown cast to an AbsoluteSystemPath if it is
// already absolute, otherwise it resolves unknown relative to root.
func ResolveUnknownPath(root AbsoluteSystemPath, unknown string) AbsoluteSystemPath {
	if filepath.IsAbs(unknown) {
		return AbsoluteSystemPath(unknown)
	}
	return root.UntypedJoin(unknown)
}

// CheckedToRelativeSystemPath returns a RelativeSystemPath if the given
// string is a relative path, and an error otherwise.
func CheckedToRelativeSystemPath(s string) (RelativeSystemPath, error) {
	if filepath.IsAbs(s) {
		return "", &pathError{s}
	}
	return RelativeSystemPath(s), nil
}
