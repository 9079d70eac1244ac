package mirror

import (
	"context"
	"os"
	"path/filepath"

	"github.com/srvlab/hotsync/pkg/syncerr"
)

// CopyJob is a single (absolute source path, absolute destination path)
// pair produced by the walker and consumed by exactly one copier.
type CopyJob struct {
	Src  string
	Dest string
}

// walkResult is what the walker pushes onto the job channel: exactly one
// of Job or Err is set.
type walkResult struct {
	Job *CopyJob
	Err error
}

// walker recursively traverses srcRoot/destRoot, comparing files against
// their destination counterpart. It emits a CopyJob for every file that
// does not already match its destination and an error for every path
// that fails; matching files and directories emit nothing. A directory's own mkdir always
// precedes recursion into its children; traversal order among siblings
// is otherwise unspecified.
type walker struct {
	srcRoot  string
	destRoot string
	progress *GlobalProgress
	out      chan<- walkResult
}

// walk traverses rel (relative to both roots) and everything beneath it,
// blocking on channel sends. It returns only when ctx is done or the
// subtree has been fully visited.
func (w *walker) walk(ctx context.Context, rel string) {
	if ctx.Err() != nil {
		return
	}

	src := filepath.Join(w.srcRoot, rel)
	dest := filepath.Join(w.destRoot, rel)

	info, err := os.Stat(src)
	if err != nil {
		w.send(ctx, walkResult{Err: &syncerr.StatFailedError{Path: src, Err: err}})
		return
	}

	if info.IsDir() {
		w.walkDir(ctx, rel, src, dest)
		return
	}

	w.walkFile(ctx, src, dest, info.Size())
}

func (w *walker) walkFile(ctx context.Context, src, dest string, size int64) {
	w.progress.Files.addTotal(1)
	w.progress.Bytes.addTotal(size)

	if filesMatch(dest, src) {
		w.progress.Files.addSkipped(1)
		w.progress.Bytes.addSkipped(size)
		return
	}

	w.send(ctx, walkResult{Job: &CopyJob{Src: src, Dest: dest}})
}

func (w *walker) walkDir(ctx context.Context, rel, src, dest string) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		w.send(ctx, walkResult{Err: &syncerr.CopyFailedError{Src: src, Dest: dest, Err: err}})
		return
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		w.send(ctx, walkResult{Err: &syncerr.StatFailedError{Path: src, Err: err}})
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		w.walk(ctx, filepath.Join(rel, entry.Name()))
	}
}

func (w *walker) send(ctx context.Context, r walkResult) {
	select {
	case w.out <- r:
	case <-ctx.Done():
	}
}
