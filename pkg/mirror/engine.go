// Package mirror implements the Incremental Mirror Engine: an async
// pipeline that walks a source tree, compares each file against its
// destination counterpart, streams copy jobs through a bounded channel
// to a semaphore-bounded pool of copiers, and maintains progress
// counters with well-defined milestone transitions.
package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/srvlab/hotsync/pkg/circuitbreaker"
	"github.com/srvlab/hotsync/pkg/syncerr"
)

// jobChannelCapacity is the bounded channel size between the walker and
// the copier pool, matching the donor's flume::bounded(2048).
const jobChannelCapacity = 2048

// Engine is one instance of the Incremental Mirror Engine, bound to a
// single (src_root, dest_root, max_concurrent) triple for its lifetime.
type Engine struct {
	srcRoot  string
	destRoot string
	progress *GlobalProgress
	sem      *semaphore.Weighted
	breaker  *gobreaker.CircuitBreaker
}

// NewEngine validates max_concurrent and builds a shared context holding
// the GlobalProgress and a semaphore initialised to that bound.
func NewEngine(srcRoot, destRoot string, maxConcurrent int) (*Engine, error) {
	if maxConcurrent < 1 {
		return nil, syncerr.ErrConcurrencyZero
	}

	e := &Engine{
		srcRoot:  srcRoot,
		destRoot: destRoot,
		progress: &GlobalProgress{},
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		breaker:  circuitbreaker.New(fmt.Sprintf("mirror:%s->%s", srcRoot, destRoot)),
	}
	return e, nil
}

// Progress returns the engine's live GlobalProgress. Safe to read
// concurrently with an in-flight Sync.
func (e *Engine) Progress() *GlobalProgress { return e.progress }

type copyOutcome struct {
	err error
}

// Sync walks the source tree and mirrors every file that needs it,
// reporting throttled progress through progressFn and every non-fatal
// error through errorFn. It returns only after CopyComplete has been
// emitted. Either callback may be nil.
func (e *Engine) Sync(ctx context.Context, progressFn ProgressFunc, errorFn ErrorFunc) error {
	if progressFn == nil {
		progressFn = func(*GlobalProgress, *Milestone) {}
	}
	if errorFn == nil {
		errorFn = func(error) {}
	}

	jobs := make(chan walkResult, jobChannelCapacity)
	w := &walker{srcRoot: e.srcRoot, destRoot: e.destRoot, progress: e.progress, out: jobs}

	go func() {
		w.walk(ctx, "")
		close(jobs)
	}()

	outcomes := make(chan copyOutcome)
	spawned := 0
	discoveryDone := make(chan struct{})

	go func() {
		for r := range jobs {
			if r.Err != nil {
				errorFn(r.Err)
				e.progress.Files.addTotal(1)
				e.progress.Files.addFailed(1)
				continue
			}
			job := *r.Job
			spawned++
			go func() {
				var err error
				defer func() {
					if r := recover(); r != nil {
						err = &syncerr.JoinError{Cause: fmt.Errorf("copier panic: %v", r)}
					}
					outcomes <- copyOutcome{err: err}
				}()
				err = e.runCopy(ctx, job, progressFn)
			}()
		}
		close(discoveryDone)
	}()

	<-discoveryDone

	discovery := DiscoveryComplete
	progressFn(e.progress, &discovery)

	onePct := spawned / 100
	if onePct < 1 {
		onePct = 1
	}

	completed, sinceTick := 0, 0
	for completed < spawned {
		res := <-outcomes
		completed++
		sinceTick++

		if res.err != nil {
			e.reportCopyError(res.err, errorFn)
		}

		if sinceTick >= onePct {
			sinceTick = 0
			progressFn(e.progress, nil)
		}
	}

	copyComplete := CopyComplete
	progressFn(e.progress, &copyComplete)
	return nil
}

// runCopy wraps copyFile in the circuit breaker, passing through an
// onTick that forwards every 64 KiB TrackingWriter tick (spec.md §4.8)
// to progressFn, so a single large copy at any concurrency still streams
// intra-copy progress rather than only a tick at job completion.
func (e *Engine) runCopy(ctx context.Context, job CopyJob, progressFn ProgressFunc) error {
	onTick := func(string, FileProgress) {
		progressFn(e.progress, nil)
	}
	_, err := e.breaker.Execute(func() (interface{}, error) {
		return nil, copyFile(ctx, job, e.sem, e.progress, onTick)
	})
	if circuitbreaker.IsOpenError(err) {
		e.progress.Files.addFailed(1)
		return &syncerr.CopyFailedError{Src: job.Src, Dest: job.Dest, Err: err}
	}
	return err
}

func (e *Engine) reportCopyError(err error, errorFn ErrorFunc) {
	var joinErr *syncerr.JoinError
	switch {
	case errors.Is(err, syncerr.ErrCancelled):
		errorFn(syncerr.ErrCancelled)
	case errors.As(err, &joinErr):
		errorFn(err)
	default:
		errorFn(err)
	}
}
