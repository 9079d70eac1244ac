package notify

import (
	"unsafe"

	"github.com/srvlab/hotsync/pkg/syncerr"
)

// AlignedBuffer is a zeroed heap region used to build ioctl input
// payloads that require a specific byte alignment (the
// MOUNTMGR_MOUNT_POINT query in mountmgr_windows.go). It supports bump-style writes of arbitrary
// byte payloads, advancing an internal cursor and realigning to the
// caller-requested alignment before each write.
type AlignedBuffer struct {
	buf    []byte
	cursor int
}

// NewAlignedBuffer allocates a zeroed buffer of lenBytes whose first byte
// is aligned to alignBytes, which must be a power of two.
func NewAlignedBuffer(lenBytes, alignBytes int) (*AlignedBuffer, error) {
	if lenBytes < 0 || alignBytes <= 0 || alignBytes&(alignBytes-1) != 0 {
		return nil, syncerr.ErrAllocFailed
	}
	// Over-allocate by alignBytes-1 so a correctly-rounded starting
	// offset is always available without reallocating, then keep only
	// the lenBytes that start there.
	raw := make([]byte, lenBytes+alignBytes-1)
	start := alignOffset(unsafe.Pointer(unsafe.SliceData(raw)), alignBytes)
	return &AlignedBuffer{buf: raw[start : start+lenBytes]}, nil
}

// alignOffset returns how far ptr must advance to satisfy align, mirroring
// the donor's pointer.align_offset.
func alignOffset(ptr unsafe.Pointer, align int) int {
	addr := uintptr(ptr)
	rem := addr % uintptr(align)
	if rem == 0 {
		return 0
	}
	return int(uintptr(align) - rem)
}

// WriteAligned realigns the cursor to align bytes, then copies data at
// the new cursor position, advancing the cursor past it. It fails with
// Overflow rather than writing past the buffer's usable length. The
// returned offset is into the buffer returned by Bytes.
func (b *AlignedBuffer) WriteAligned(data []byte, align int) (int, error) {
	if align <= 0 {
		align = 1
	}

	base := unsafe.Pointer(unsafe.SliceData(b.buf))
	cur := unsafe.Add(base, b.cursor)
	offset := b.cursor + alignOffset(cur, align)

	if offset+len(data) > len(b.buf) {
		return 0, syncerr.ErrOverflow
	}

	copy(b.buf[offset:offset+len(data)], data)
	b.cursor = offset + len(data)
	return offset, nil
}

// Bytes returns the full lenBytes-long buffer, written or not.
func (b *AlignedBuffer) Bytes() []byte { return b.buf }

// Cursor reports how many bytes (including alignment padding) have been
// consumed so far.
func (b *AlignedBuffer) Cursor() int { return b.cursor }

// Reset rewinds the cursor to zero without reallocating, for reuse
// across repeated ioctl calls.
func (b *AlignedBuffer) Reset() { b.cursor = 0 }
