package notify

import "unicode/utf16"

// decodeUTF16 lossily decodes a UTF-16 code unit slice (unpaired
// surrogates become U+FFFD), matching the donor's from_utf16_lossy calls
// when decoding mount point and device names out of MountMgr/CfgMgr32
// buffers.
func decodeUTF16(units []uint16) string {
	return string(utf16.Decode(units))
}

// encodeUTF16 encodes s as UTF-16 code units without a null terminator;
// callers append one explicitly where the target buffer requires it.
func encodeUTF16(s string) []uint16 {
	return utf16.Encode([]rune(s))
}
