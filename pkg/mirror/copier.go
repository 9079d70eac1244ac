package mirror

import (
	"context"
	"io"
	"os"

	"golang.org/x/sync/semaphore"

	"github.com/srvlab/hotsync/pkg/syncerr"
)

// copyBufferSize matches the donor's 128 KiB read/write buffer.
const copyBufferSize = 128 << 10

// copyFile executes one CopyJob: acquires a semaphore permit, opens the
// source, creates/truncates the destination, streams bytes through a
// TrackingWriter, and settles progress accounting on every exit path.
// The permit is always released before copyFile returns.
func copyFile(ctx context.Context, job CopyJob, sem *semaphore.Weighted, progress *GlobalProgress, onTick func(key string, fp FileProgress)) error {
	if err := sem.Acquire(ctx, 1); err != nil {
		progress.Files.addFailed(1)
		return syncerr.ErrCancelled
	}
	defer sem.Release(1)

	srcFile, err := os.Open(job.Src)
	if err != nil {
		progress.Files.addFailed(1)
		return &syncerr.CopyFailedError{Src: job.Src, Dest: job.Dest, Err: err}
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		progress.Files.addFailed(1)
		return &syncerr.StatFailedError{Path: job.Src, Err: err}
	}

	destFile, err := os.Create(job.Dest)
	if err != nil {
		progress.Files.addFailed(1)
		return &syncerr.CopyFailedError{Src: job.Src, Dest: job.Dest, Err: err}
	}
	defer destFile.Close()

	tw := NewTrackingWriter(job.Src, destFile, srcInfo.Size(), progress, onTick)

	buf := make([]byte, copyBufferSize)
	written, copyErr := io.CopyBuffer(tw, &cancellableReader{ctx: ctx, r: srcFile}, buf)
	if copyErr == nil {
		copyErr = destFile.Sync()
	}

	if copyErr != nil {
		tw.Finalize(copyErr)
		return &syncerr.CopyFailedError{Src: job.Src, Dest: job.Dest, Err: copyErr}
	}

	if written != srcInfo.Size() {
		tw.Finalize(syncerr.ErrCancelled)
		return &syncerr.ShortCopyError{Src: job.Src, Dest: job.Dest, Copied: written, Expected: srcInfo.Size()}
	}

	tw.Finalize(nil)
	return nil
}

// cancellableReader aborts an in-flight read loop promptly when ctx is
// cancelled, the Go equivalent of the donor's task-cancellation dropping
// an in-progress await.
type cancellableReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *cancellableReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
