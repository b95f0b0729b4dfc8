// Package cache implements our cache abstraction: a content-addressed store
// of captured task outputs, multiplexed across a local filesystem tier and
// an optional remote HTTP tier.
package cache

import (
	"errors"
	"fmt"

	"github.com/adrg/xdg"
	"github.com/hashicorp/go-hclog"
	"github.com/meridianci/meridian/internal/analytics"
	"github.com/meridianci/meridian/internal/client"
	"github.com/meridianci/meridian/internal/turbopath"
	"github.com/meridianci/meridian/internal/util"
)

// ItemStatus tells the caller which cache source(s), if any, held an item.
type ItemStatus struct {
	Local  bool
	Remote bool
}

// Hit reports whether the item was found in any source.
func (i ItemStatus) Hit() bool {
	return i.Local || i.Remote
}

// Cache is the interface implemented by every cache source, and by the
// composite (multiplexed, async) cache clients are handed.
type Cache interface {
	// Put stores the given files, captured under anchor, keyed by hash.
	Put(anchor turbopath.AbsoluteSystemPath, hash string, duration int, files []turbopath.AnchoredSystemPath) error
	// Fetch restores a cached artifact for hash into anchor, if present.
	Fetch(anchor turbopath.AbsoluteSystemPath, hash string, files []string) (ItemStatus, []turbopath.AnchoredSystemPath, int, error)
	// Exists reports which source(s) hold an artifact for hash, without
	// restoring it.
	Exists(hash string) ItemStatus
	Clean(anchor turbopath.AbsoluteSystemPath)
	CleanAll()
	// Wait blocks until any writes enqueued before this call have landed.
	// Synchronous sources return immediately; the async wrapper uses this
	// to provide a happens-before guarantee ahead of a subsequent Exists.
	Wait() error
	Shutdown()
}

// Cache event sources and kinds, used for analytics logging.
const (
	CacheSourceFS     = "LOCAL"
	CacheSourceRemote = "REMOTE"
	CacheEventHit     = "HIT"
	CacheEventMiss    = "MISS"
)

// CacheEvent is the analytics payload logged for every cache lookup.
type CacheEvent struct {
	Source   string `mapstructure:"source"`
	Event    string `mapstructure:"event"`
	Hash     string `mapstructure:"hash"`
	Duration int    `mapstructure:"duration"`
}

// RemoteCacheOpts configures the remote HTTP cache tier.
type RemoteCacheOpts struct {
	TeamID    string
	Signature bool
}

// Opts configures the set of cache sources to construct and the policy for
// how many concurrent writers the async layer grants them.
type Opts struct {
	OverrideDir     string
	SkipRemote      bool
	SkipFilesystem  bool
	Workers         int
	RemoteCacheOpts RemoteCacheOpts
}

// resolveCacheDir picks the directory the local filesystem cache writes
// artifacts to: an explicit override, or else a repo-local directory to
// keep things self-contained under version control ignore rules.
func (o Opts) resolveCacheDir(repoRoot turbopath.AbsoluteSystemPath) turbopath.AbsoluteSystemPath {
	if o.OverrideDir != "" {
		return turbopath.AbsoluteSystemPathFromUpstream(o.OverrideDir)
	}
	return repoRoot.UntypedJoin("node_modules", ".cache", "meridian")
}

// DefaultCacheDataDir returns the directory outside of any repo where
// auxiliary, non-artifact cache metadata (e.g. remote auth state) lives.
func DefaultCacheDataDir() turbopath.AbsoluteSystemPath {
	return turbopath.AbsoluteSystemPathFromUpstream(xdg.DataHome).UntypedJoin("meridian")
}

// New constructs the full cache stack: local filesystem tier, optional
// remote HTTP tier, a precedence-ordered multiplexer across both, and the
// async worker-pool wrapper that clients actually talk to.
func New(opts Opts, repoRoot turbopath.AbsoluteSystemPath, apiClient *client.APIClient, recorder analytics.Recorder, logger hclog.Logger) (Cache, error) {
	mplex, err := newMultiplexer(opts, repoRoot, apiClient, recorder)
	if err != nil {
		return nil, err
	}
	return newAsyncCache(mplex, opts, logger), nil
}

// cacheMultiplexer fans a Put out to every configured source, and serves
// Fetch from the first source with a hit, backfilling the higher-priority
// (earlier) sources that missed so later runs hit the fastest source first.
// Exists reports a hit if any source has the item.
type cacheMultiplexer struct {
	caches []Cache
}

func newMultiplexer(opts Opts, repoRoot turbopath.AbsoluteSystemPath, apiClient *client.APIClient, recorder analytics.Recorder) (*cacheMultiplexer, error) {
	if recorder == nil {
		recorder = analytics.NullRecorder
	}
	var caches []Cache
	if !opts.SkipFilesystem {
		fsCache, err := newFsCache(opts, recorder, repoRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem cache: %w", err)
		}
		caches = append(caches, fsCache)
	}
	if !opts.SkipRemote && apiClient != nil {
		caches = append(caches, newHTTPCache(opts, apiClient, recorder, repoRoot))
	}
	return &cacheMultiplexer{caches: caches}, nil
}

func (mplex *cacheMultiplexer) Put(anchor turbopath.AbsoluteSystemPath, hash string, duration int, files []turbopath.AnchoredSystemPath) error {
	// Store sequentially into every cache. A failed store does not stop the
	// stores into the remaining caches; the first error is returned at the
	// end. A CacheDisabledError is returned immediately.
	var firstErr error
	for _, c := range mplex.caches {
		if err := c.Put(anchor, hash, duration, files); err != nil {
			var disabled *util.CacheDisabledError
			if errors.As(err, &disabled) {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (mplex *cacheMultiplexer) Fetch(anchor turbopath.AbsoluteSystemPath, hash string, files []string) (ItemStatus, []turbopath.AnchoredSystemPath, int, error) {
	status := ItemStatus{}
	for i, c := range mplex.caches {
		itemStatus, actualFiles, duration, err := c.Fetch(anchor, hash, files)
		if err != nil {
			var disabled *util.CacheDisabledError
			if errors.As(err, &disabled) {
				return status, nil, 0, err
			}
			continue
		}
		if itemStatus.Hit() {
			// Backfill every higher-priority (earlier) cache we already
			// missed in, so the next Fetch hits the fastest source.
			for _, earlier := range mplex.caches[:i] {
				_ = earlier.Put(anchor, hash, duration, actualFiles)
			}
			status.Local = status.Local || itemStatus.Local
			status.Remote = status.Remote || itemStatus.Remote
			return status, actualFiles, duration, nil
		}
	}
	return status, nil, 0, nil
}

func (mplex *cacheMultiplexer) Exists(hash string) ItemStatus {
	status := ItemStatus{}
	for _, c := range mplex.caches {
		s := c.Exists(hash)
		status.Local = status.Local || s.Local
		status.Remote = status.Remote || s.Remote
	}
	return status
}

func (mplex *cacheMultiplexer) Clean(anchor turbopath.AbsoluteSystemPath) {
	for _, c := range mplex.caches {
		c.Clean(anchor)
	}
}

func (mplex *cacheMultiplexer) CleanAll() {
	for _, c := range mplex.caches {
		c.CleanAll()
	}
}

func (mplex *cacheMultiplexer) Wait() error {
	for _, c := range mplex.caches {
		if err := c.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (mplex *cacheMultiplexer) Shutdown() {
	for _, c := range mplex.caches {
		c.Shutdown()
	}
}
