package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srvlab/hotsync/pkg/syncerr"
)

func drain(t *testing.T, srcRoot, destRoot string) (jobs []CopyJob, errs []error) {
	t.Helper()
	progress := &GlobalProgress{}
	out := make(chan walkResult, jobChannelCapacity)
	w := &walker{srcRoot: srcRoot, destRoot: destRoot, progress: progress, out: out}

	done := make(chan struct{})
	go func() {
		w.walk(context.Background(), "")
		close(out)
		close(done)
	}()

	for r := range out {
		if r.Err != nil {
			errs = append(errs, r.Err)
		} else {
			jobs = append(jobs, *r.Job)
		}
	}
	<-done
	return jobs, errs
}

func TestWalker_ContinuesAfterSiblingStatFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dest := filepath.Join(dir, "dest")

	writeFile(t, filepath.Join(src, "ok.txt"), []byte("fine"))
	// A dangling symlink makes os.Stat fail for this sibling.
	require.NoError(t, os.Symlink(filepath.Join(dir, "nowhere"), filepath.Join(src, "broken")))

	jobs, errs := drain(t, src, dest)

	require.Len(t, jobs, 1)
	assert.Equal(t, filepath.Join(src, "ok.txt"), jobs[0].Src)
	require.Len(t, errs, 1)
	var statErr *syncerr.StatFailedError
	assert.ErrorAs(t, errs[0], &statErr)
}

func TestWalker_MissingSourceRootReportsStatFailed(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "does-not-exist")
	dest := filepath.Join(dir, "dest")

	jobs, errs := drain(t, src, dest)

	assert.Empty(t, jobs)
	require.Len(t, errs, 1)
	var statErr *syncerr.StatFailedError
	assert.ErrorAs(t, errs[0], &statErr)
}

func TestWalker_CreatesDestinationDirectories(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dest := filepath.Join(dir, "dest")

	writeFile(t, filepath.Join(src, "a", "b", "c.txt"), []byte("deep"))

	_, errs := drain(t, src, dest)
	require.Empty(t, errs)

	info, err := os.Stat(filepath.Join(dest, "a", "b"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
