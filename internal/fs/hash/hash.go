// Package hash builds the deterministic, cross-platform hash inputs for
// tasks and global dependencies.
//
// Earlier builds of this cache serialized these structures with capnproto
// before hashing the bytes, so that the hash was stable across the Go and
// Rust implementations. That scheme depended on a generated schema binding
// that isn't available here, so this version builds the same canonical,
// explicitly-ordered byte stream by hand and feeds it straight into xxhash.
// The field order below is load-bearing: changing it changes every hash in
// the cache.
package hash

import (
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/meridianci/meridian/internal/env"
	"github.com/meridianci/meridian/internal/lockfile"
	"github.com/meridianci/meridian/internal/turbopath"
	"github.com/meridianci/meridian/internal/util"
)

// TaskHashable is a hashable representation of a task to be run
type TaskHashable struct {
	GlobalHash           string
	TaskDependencyHashes []string
	PackageDir           turbopath.AnchoredUnixPath
	HashOfFiles          string
	ExternalDepsHash     string
	Task                 string
	Outputs              TaskOutputs
	PassThruArgs         []string
	Env                  []string
	ResolvedEnvVars      env.EnvironmentVariablePairs
	PassThroughEnv       []string
	EnvMode              util.EnvMode
	DotEnv               turbopath.AnchoredUnixPathArray
}

// GlobalHashable is a hashable representation of global dependencies for tasks
type GlobalHashable struct {
	GlobalCacheKey       string
	GlobalFileHashMap    map[turbopath.AnchoredUnixPath]string
	RootExternalDepsHash string
	Env                  []string
	ResolvedEnvVars      env.EnvironmentVariablePairs
	PassThroughEnv       []string
	EnvMode              util.EnvMode
	FrameworkInference   bool

	// NOTE! This field is _explicitly_ ordered and should not be sorted.
	DotEnv turbopath.AnchoredUnixPathArray
}

// TaskOutputs represents the patterns for including and excluding files from outputs
type TaskOutputs struct {
	Inclusions []string
	Exclusions []string
}

// Sort contents of task outputs
func (to *TaskOutputs) Sort() {
	sort.Strings(to.Inclusions)
	sort.Strings(to.Exclusions)
}

// canonicalWriter accumulates a field-tagged, length-prefixed byte stream.
// Every write is framed by a tag and a length so that no ambiguity can arise
// between e.g. an empty list and a list containing one empty string.
type canonicalWriter struct {
	digest *xxhash.Digest
}

func newCanonicalWriter() *canonicalWriter {
	return &canonicalWriter{digest: xxhash.New()}
}

func (w *canonicalWriter) field(tag string) {
	_, _ = w.digest.WriteString(tag)
	_, _ = w.digest.Write([]byte{0})
}

func (w *canonicalWriter) str(s string) {
	_, _ = w.digest.WriteString(strconv.Itoa(len(s)))
	_, _ = w.digest.Write([]byte{':'})
	_, _ = w.digest.WriteString(s)
}

func (w *canonicalWriter) strList(list []string) {
	_, _ = w.digest.WriteString(strconv.Itoa(len(list)))
	_, _ = w.digest.Write([]byte{'#'})
	for _, s := range list {
		w.str(s)
	}
}

func (w *canonicalWriter) unixPathList(list turbopath.AnchoredUnixPathArray) {
	strs := make([]string, len(list))
	for i, p := range list {
		strs[i] = p.ToString()
	}
	w.strList(strs)
}

func (w *canonicalWriter) boolean(b bool) {
	if b {
		w.str("1")
	} else {
		w.str("0")
	}
}

func (w *canonicalWriter) sum() string {
	return hex.EncodeToString(w.digest.Sum(nil))
}

// sortedStringMap writes a map[turbopath.AnchoredUnixPath]string in
// ascending key order, so the hash is independent of map iteration order.
func (w *canonicalWriter) sortedStringMap(m map[turbopath.AnchoredUnixPath]string) {
	keys := make([]string, 0, len(m))
	byKey := make(map[string]string, len(m))
	for k, v := range m {
		ks := k.ToString()
		keys = append(keys, ks)
		byKey[ks] = v
	}
	sort.Strings(keys)

	w.str(strconv.Itoa(len(keys)))
	for _, k := range keys {
		w.str(k)
		w.str(byKey[k])
	}
}

// HashTaskHashable performs the hash for a TaskHashable.
//
// NOTE: This function is _explicitly_ ordered and should not be sorted.
//
//	Order is important for the hash, and is as follows:
//	- GlobalHash
//	- PackageDir
//	- HashOfFiles
//	- ExternalDepsHash
//	- Task
//	- EnvMode
//	- Outputs
//	- TaskDependencyHashes
//	- PassThruArgs
//	- Env
//	- PassThroughEnv
//	- DotEnv
//	- ResolvedEnvVars
func HashTaskHashable(task *TaskHashable) (string, error) {
	w := newCanonicalWriter()

	w.field("GlobalHash")
	w.str(task.GlobalHash)

	w.field("PackageDir")
	w.str(task.PackageDir.ToString())

	w.field("HashOfFiles")
	w.str(task.HashOfFiles)

	w.field("ExternalDepsHash")
	w.str(task.ExternalDepsHash)

	w.field("Task")
	w.str(task.Task)

	w.field("EnvMode")
	w.str(string(task.EnvMode))

	w.field("Outputs")
	w.strList(task.Outputs.Inclusions)
	w.strList(task.Outputs.Exclusions)

	w.field("TaskDependencyHashes")
	w.strList(task.TaskDependencyHashes)

	w.field("PassThruArgs")
	w.strList(task.PassThruArgs)

	w.field("Env")
	w.strList(task.Env)

	w.field("PassThroughEnv")
	w.strList(task.PassThroughEnv)

	w.field("DotEnv")
	w.unixPathList(task.DotEnv)

	w.field("ResolvedEnvVars")
	w.strList(task.ResolvedEnvVars)

	return w.sum(), nil
}

// HashGlobalHashable performs the hash for a GlobalHashable.
//
// NOTE: This function is _explicitly_ ordered and should not be sorted.
//
//	Order is important for the hash, and is as follows:
//	- GlobalCacheKey
//	- GlobalFileHashMap
//	- RootExternalDepsHash
//	- Env
//	- ResolvedEnvVars
//	- PassThroughEnv
//	- EnvMode
//	- FrameworkInference
//	- DotEnv
func HashGlobalHashable(global *GlobalHashable) (string, error) {
	w := newCanonicalWriter()

	w.field("GlobalCacheKey")
	w.str(global.GlobalCacheKey)

	w.field("GlobalFileHashMap")
	w.sortedStringMap(global.GlobalFileHashMap)

	w.field("RootExternalDepsHash")
	w.str(global.RootExternalDepsHash)

	w.field("Env")
	w.strList(global.Env)

	w.field("ResolvedEnvVars")
	w.strList(global.ResolvedEnvVars)

	w.field("PassThroughEnv")
	w.strList(global.PassThroughEnv)

	w.field("EnvMode")
	w.str(string(global.EnvMode))

	w.field("FrameworkInference")
	w.boolean(global.FrameworkInference)

	w.field("DotEnv")
	w.unixPathList(global.DotEnv)

	return w.sum(), nil
}

// HashLockfilePackages hashes the resolved set of lockfile packages that
// make up a task's external dependency surface.
func HashLockfilePackages(packages []lockfile.Package) (string, error) {
	w := newCanonicalWriter()
	w.field("LockfilePackages")
	w.str(strconv.Itoa(len(packages)))
	for _, pkg := range packages {
		w.str(pkg.Key)
		w.str(pkg.Version)
	}
	return w.sum(), nil
}

// HashFileHashes hashes a set of per-file content hashes, keyed by their
// path relative to the anchor they were computed under.
func HashFileHashes(fileHashes map[turbopath.AnchoredUnixPath]string) (string, error) {
	w := newCanonicalWriter()
	w.field("FileHashes")
	w.sortedStringMap(fileHashes)
	return w.sum(), nil
}
