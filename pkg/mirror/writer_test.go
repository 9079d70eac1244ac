package mirror

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrackingWriter_EmitsInitialTick(t *testing.T) {
	progress := &GlobalProgress{}
	var ticks []FileProgress

	NewTrackingWriter("f", &bytes.Buffer{}, 100, progress, func(key string, fp FileProgress) {
		ticks = append(ticks, fp)
	})

	require.Len(t, ticks, 1)
	assert.Equal(t, int64(100), ticks[0].Total)
	assert.Equal(t, int64(0), ticks[0].Done)
	assert.EqualValues(t, 1, progress.Files.Snapshot().InProgress)
}

func TestTrackingWriter_Finalize_Success(t *testing.T) {
	progress := &GlobalProgress{}
	buf := &bytes.Buffer{}
	tw := NewTrackingWriter("f", buf, 11, progress, nil)

	n, err := tw.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	ok := tw.Finalize(nil)
	assert.True(t, ok)

	snap := progress.Bytes.Snapshot()
	assert.EqualValues(t, 11, snap.Done)
	assert.EqualValues(t, 0, snap.InProgress)
	assert.EqualValues(t, 1, progress.Files.Snapshot().Done)
}

func TestTrackingWriter_Finalize_ShortWrite(t *testing.T) {
	progress := &GlobalProgress{}
	buf := &bytes.Buffer{}
	tw := NewTrackingWriter("f", buf, 100, progress, nil)

	_, _ = tw.Write([]byte("short"))
	tw.Finalize(nil)

	assert.EqualValues(t, 1, progress.Files.Snapshot().Failed)
	assert.EqualValues(t, 100, progress.Bytes.Snapshot().Failed)
}

func TestTrackingWriter_Finalize_IOError(t *testing.T) {
	progress := &GlobalProgress{}
	buf := &bytes.Buffer{}
	tw := NewTrackingWriter("f", buf, 11, progress, nil)

	_, _ = tw.Write([]byte("hello"))
	tw.Finalize(errors.New("disk error"))

	assert.EqualValues(t, 1, progress.Files.Snapshot().Failed)
	assert.EqualValues(t, 11, progress.Bytes.Snapshot().Failed)
}

func TestTrackingWriter_Finalize_Idempotent(t *testing.T) {
	progress := &GlobalProgress{}
	buf := &bytes.Buffer{}
	tw := NewTrackingWriter("f", buf, 0, progress, nil)

	assert.True(t, tw.Finalize(nil))
	assert.False(t, tw.Finalize(nil))
	assert.EqualValues(t, 1, progress.Files.Snapshot().Done)
}

func TestTrackingWriter_Close_FinalizesAsFailure(t *testing.T) {
	progress := &GlobalProgress{}
	buf := &bytes.Buffer{}
	tw := NewTrackingWriter("f", buf, 50, progress, nil)

	_ = tw.Close()

	assert.EqualValues(t, 1, progress.Files.Snapshot().Failed)
}

func TestTrackingWriter_ThrottlesTicks(t *testing.T) {
	progress := &GlobalProgress{}
	buf := &bytes.Buffer{}
	var ticks int
	tw := NewTrackingWriter("f", buf, progressThrottleBytes*2, progress, func(string, FileProgress) {
		ticks++
	})

	chunk := bytes.Repeat([]byte{0}, progressThrottleBytes-1)
	_, _ = tw.Write(chunk)
	assert.Equal(t, 1, ticks, "should not have ticked again below the threshold")

	_, _ = tw.Write([]byte{0, 0})
	assert.Equal(t, 2, ticks, "crossing the threshold should emit exactly one more tick")
}
