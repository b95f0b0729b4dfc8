// Adapted from https://github.com/thought-machine/please
// Copyright Thought Machine, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0
package cache

import (
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/meridianci/meridian/internal/turbopath"
)

// ErrCacheShuttingDown is returned by Put/Wait once Shutdown has already been
// called. Shutdown itself returns no error; calls after the first do nothing.
var ErrCacheShuttingDown = errors.New("cache is shutting down")

// warningCutoff bounds how many write failures get logged before asyncCache
// goes quiet about them, so a systemically broken remote doesn't spam logs
// for the rest of the run.
const warningCutoff = 4

// An asyncCache is a wrapper around a Cache that handles incoming store
// requests asynchronously: Put enqueues a request and returns immediately.
// A single dispatcher goroutine fans write requests out to at most
// opts.Workers concurrent goroutines via a semaphore. Wait blocks until
// every write enqueued so far has completed; Shutdown does the same and
// then permanently refuses further requests.
type asyncCache struct {
	requests  chan workerRequest
	realCache Cache
	logger    hclog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

type workerRequestKind int

const (
	requestWrite workerRequestKind = iota
	requestFlush
	requestShutdown
)

type workerRequest struct {
	kind workerRequestKind

	// write fields
	anchor   turbopath.AbsoluteSystemPath
	key      string
	duration int
	files    []turbopath.AnchoredSystemPath

	// flush/shutdown fields
	done chan struct{}
}

func newAsyncCache(realCache Cache, opts Opts, logger hclog.Logger) Cache {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	c := &asyncCache{
		requests:  make(chan workerRequest, 1),
		realCache: realCache,
		logger:    logger,
		closed:    make(chan struct{}),
	}
	go c.run(workers)
	return c
}

// run is the dispatcher goroutine: it owns the request channel and fans
// write requests out to at most `workers` concurrent goroutines via a
// semaphore, tracking in-flight writes with a WaitGroup so Flush/Shutdown
// can deterministically wait for everything enqueued before them.
func (c *asyncCache) run(workers int) {
	sema := make(chan struct{}, workers)
	var inflight sync.WaitGroup
	warnings := 0

	for req := range c.requests {
		switch req.kind {
		case requestWrite:
			sema <- struct{}{}
			inflight.Add(1)
			go func(req workerRequest) {
				defer inflight.Done()
				defer func() { <-sema }()
				if err := c.realCache.Put(req.anchor, req.key, req.duration, req.files); err != nil {
					if warnings < warningCutoff {
						warnings++
						c.logger.Warn("failed to write cache artifact", "hash", req.key, "error", err)
					}
				}
			}(req)
		case requestFlush:
			inflight.Wait()
			close(req.done)
		case requestShutdown:
			inflight.Wait()
			close(req.done)
			return
		}
	}
}

func (c *asyncCache) Put(anchor turbopath.AbsoluteSystemPath, key string, duration int, files []turbopath.AnchoredSystemPath) error {
	select {
	case <-c.closed:
		return ErrCacheShuttingDown
	default:
	}
	select {
	case c.requests <- workerRequest{kind: requestWrite, anchor: anchor, key: key, duration: duration, files: files}:
		return nil
	case <-c.closed:
		return ErrCacheShuttingDown
	}
}

func (c *asyncCache) Fetch(anchor turbopath.AbsoluteSystemPath, key string, files []string) (ItemStatus, []turbopath.AnchoredSystemPath, int, error) {
	return c.realCache.Fetch(anchor, key, files)
}

func (c *asyncCache) Exists(key string) ItemStatus {
	return c.realCache.Exists(key)
}

func (c *asyncCache) Clean(anchor turbopath.AbsoluteSystemPath) {
	c.realCache.Clean(anchor)
}

func (c *asyncCache) CleanAll() {
	c.realCache.CleanAll()
}

// Wait blocks until every write enqueued before this call has completed.
// Used by tests, and by callers that need a happens-before guarantee
// between a Put and a subsequent Exists/Fetch.
func (c *asyncCache) Wait() error {
	done := make(chan struct{})
	select {
	case c.requests <- workerRequest{kind: requestFlush, done: done}:
	case <-c.closed:
		return ErrCacheShuttingDown
	}
	<-done
	return nil
}

// Shutdown flushes all in-flight writes and then permanently closes the
// queue. A second call is a no-op past the first.
func (c *asyncCache) Shutdown() {
	c.closeOnce.Do(func() {
		done := make(chan struct{})
		c.requests <- workerRequest{kind: requestShutdown, done: done}
		<-done
		close(c.closed)
		c.realCache.Shutdown()
	})
}
