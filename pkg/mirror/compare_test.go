package mirror

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFileWithTime(t *testing.T, path string, content []byte, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, content, 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestFilesMatch_EqualSizeNewerDest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dest := filepath.Join(dir, "dest")

	base := time.Now().Add(-time.Hour)
	writeFileWithTime(t, src, []byte("hello world"), base)
	writeFileWithTime(t, dest, []byte("hello world"), base.Add(time.Minute))

	require.True(t, filesMatch(dest, src))
}

func TestFilesMatch_OlderDest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dest := filepath.Join(dir, "dest")

	base := time.Now()
	writeFileWithTime(t, dest, []byte("0123456789"), base.Add(-time.Hour))
	writeFileWithTime(t, src, []byte("0123456789"), base)

	require.False(t, filesMatch(dest, src))
}

func TestFilesMatch_DifferentSize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dest := filepath.Join(dir, "dest")

	now := time.Now()
	writeFileWithTime(t, src, []byte("a longer payload here"), now)
	writeFileWithTime(t, dest, []byte("short"), now.Add(time.Hour))

	require.False(t, filesMatch(dest, src))
}

func TestFilesMatch_MissingDest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFileWithTime(t, src, []byte("x"), time.Now())

	require.False(t, filesMatch(filepath.Join(dir, "missing"), src))
}
