package mirror

import (
	"errors"
	"io"
	"sync"
)

// progressThrottleBytes is the accumulated-write threshold between two
// progress callbacks from one TrackingWriter, per the copier's progress
// contract: at most one callback per 64 KiB of newly written data.
const progressThrottleBytes = 64 << 10

// TrackingWriter wraps an io.Writer for exactly one CopyJob, updating the
// shared GlobalProgress and a per-file FileProgress as bytes are written,
// and finalizing the provisional accounting exactly once regardless of
// how many times Finalize is called or whether the caller even calls it
// (Close runs the same path).
type TrackingWriter struct {
	w        io.Writer
	key      string
	onTick   func(key string, fp FileProgress)
	progress *GlobalProgress

	mu        sync.Mutex
	file      FileProgress
	sinceTick int64
	finalized bool
}

// NewTrackingWriter constructs a TrackingWriter for a file of the given
// expected size. Construction immediately increments files.in_progress
// and emits an initial progress tick, matching the donor behavior of
// announcing a file before any bytes move.
func NewTrackingWriter(key string, w io.Writer, expected int64, progress *GlobalProgress, onTick func(key string, fp FileProgress)) *TrackingWriter {
	progress.Files.addInProgress(1)

	tw := &TrackingWriter{
		w:        w,
		key:      key,
		onTick:   onTick,
		progress: progress,
		file:     FileProgress{Total: expected},
	}
	if onTick != nil {
		onTick(key, tw.file)
	}
	return tw
}

// Write implements io.Writer, updating per-file and global byte counters
// for every byte actually accepted by the underlying writer, even on a
// short write paired with an error.
func (t *TrackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)

	if n > 0 {
		t.mu.Lock()
		t.file.Done += int64(n)
		t.sinceTick += int64(n)
		shouldTick := t.sinceTick >= progressThrottleBytes
		if shouldTick {
			t.sinceTick = 0
		}
		snapshot := t.file
		t.mu.Unlock()

		t.progress.Bytes.addInProgress(int64(n))

		if shouldTick && t.onTick != nil {
			t.onTick(t.key, snapshot)
		}
	}

	return n, err
}

// Progress returns the current per-file byte tally.
func (t *TrackingWriter) Progress() FileProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file
}

// Finalize settles the provisional in_progress accounting exactly once.
// Pass nil for ioErr when the copy loop reached EOF cleanly; Finalize
// itself still treats a done/total mismatch as a (silent to the caller)
// failure so Close-without-explicit-Finalize on an aborted writer still
// accounts correctly. Returns true the first time it runs; subsequent
// calls are no-ops returning false.
func (t *TrackingWriter) Finalize(ioErr error) bool {
	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return false
	}
	t.finalized = true
	file := t.file
	t.mu.Unlock()

	t.progress.Files.addInProgress(-1)

	if ioErr == nil && file.Done == file.Total {
		t.progress.Bytes.addInProgress(-file.Total)
		t.progress.Bytes.addDone(file.Total)
		t.progress.Files.addDone(1)
		return true
	}

	t.progress.Bytes.addInProgress(-file.Done)
	t.progress.Bytes.addFailed(file.Total)
	t.progress.Files.addFailed(1)
	return true
}

// Close finalizes as a failure if Finalize was never called explicitly,
// the deterministic stand-in for the donor's Drop-triggered abort
// accounting. Safe to call after an explicit Finalize; it is then a
// no-op.
func (t *TrackingWriter) Close() error {
	t.Finalize(errWriterClosedWithoutFinalize)
	return nil
}

var errWriterClosedWithoutFinalize = errors.New("mirror: writer closed before an explicit Finalize")
