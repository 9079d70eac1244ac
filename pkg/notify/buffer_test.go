package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAlignedBuffer_RejectsBadAlignment(t *testing.T) {
	_, err := NewAlignedBuffer(16, 0)
	assert.Error(t, err)

	_, err = NewAlignedBuffer(16, 3)
	assert.Error(t, err)

	_, err = NewAlignedBuffer(-1, 4)
	assert.Error(t, err)
}

func TestAlignedBuffer_WriteAligned_PacksContiguously(t *testing.T) {
	ab, err := NewAlignedBuffer(24, 4)
	require.NoError(t, err)

	header := []byte{0x01, 0x02, 0x03, 0x04}
	offset, err := ab.WriteAligned(header, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, offset)
	assert.Equal(t, 4, ab.Cursor())

	name := []byte{0xAA, 0xBB}
	nameOffset, err := ab.WriteAligned(name, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, nameOffset)
	assert.Equal(t, 6, ab.Cursor())

	assert.Equal(t, header, ab.Bytes()[0:4])
	assert.Equal(t, name, ab.Bytes()[4:6])
}

func TestAlignedBuffer_WriteAligned_OverflowsCleanly(t *testing.T) {
	ab, err := NewAlignedBuffer(4, 4)
	require.NoError(t, err)

	_, err = ab.WriteAligned([]byte{1, 2, 3, 4, 5}, 4)
	assert.Error(t, err)
}

func TestAlignedBuffer_Reset_AllowsReuse(t *testing.T) {
	ab, err := NewAlignedBuffer(8, 4)
	require.NoError(t, err)

	_, err = ab.WriteAligned([]byte{1, 2, 3, 4}, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, ab.Cursor())

	ab.Reset()
	assert.Equal(t, 0, ab.Cursor())

	offset, err := ab.WriteAligned([]byte{5, 6, 7, 8}, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, offset)
}
