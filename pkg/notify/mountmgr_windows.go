//go:build windows

package notify

import (
	"context"
	"encoding/binary"
	"errors"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/srvlab/hotsync/pkg/syncerr"
	"github.com/srvlab/hotsync/pkg/volume"
)

// ioctlMountMgrQueryPoints is IOCTL_MOUNTMGR_QUERY_POINTS.
const ioctlMountMgrQueryPoints = 0x006D0008

// mountmgrMountPointSize is sizeof(MOUNTMGR_MOUNT_POINT): three
// (ULONG offset, USHORT length, USHORT reserved) triples, 8 bytes each.
const mountmgrMountPointSize = 24

// mountmgrMountPointsHeaderSize is sizeof(MOUNTMGR_MOUNT_POINTS) minus
// its trailing one-element MOUNTMGR_MOUNT_POINT array: two ULONGs.
const mountmgrMountPointsHeaderSize = 8

// mountmgrInitialOutBufSize mirrors the donor's starting guess: the
// points header plus one MAX_PATH-sized name.
const mountmgrInitialOutBufSize = mountmgrMountPointsHeaderSize + windows.MAX_PATH*2

// maxMountMgrRetries bounds the grow-and-retry loop per the mount-point
// resolver design: double the output buffer on "more data" up to 5
// attempts before giving up.
const maxMountMgrRetries = 5

// MountMgr opens \\.\MountPointManager once at construction and answers
// mount-point queries against it for the lifetime of the handle.
type MountMgr struct {
	handle windows.Handle
}

// NewMountMgr opens the mount point manager device.
func NewMountMgr() (*MountMgr, error) {
	path, err := windows.UTF16PtrFromString(`\\.\MountPointManager`)
	if err != nil {
		return nil, &syncerr.Win32Error{Name: "UTF16PtrFromString", Cause: err}
	}

	handle, err := windows.CreateFile(
		path,
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return nil, &syncerr.Win32Error{Name: "CreateFile(MountPointManager)", Cause: err}
	}

	return &MountMgr{handle: handle}, nil
}

// NewMountMgrResolver opens MountMgr and returns it as a volume.Resolver
// alongside its Close for the caller to defer.
func NewMountMgrResolver() (volume.Resolver, func() error, error) {
	m, err := NewMountMgr()
	if err != nil {
		return nil, nil, err
	}
	return m, m.Close, nil
}

// Close releases the mount point manager handle.
func (m *MountMgr) Close() error {
	return windows.CloseHandle(m.handle)
}

// QueryPoints asks MountMgr for every mount point registered against
// deviceName (a device path, UTF-16 encoded without a null terminator).
// It grows the output buffer and retries up to maxMountMgrRetries times
// on ERROR_MORE_DATA before failing with ErrTooManyRetries. Only names
// carrying the \DosDevices\ prefix are returned, with the prefix stripped.
func (m *MountMgr) QueryPoints(deviceName []uint16) ([]string, error) {
	inBuf, err := buildMountPointQuery(deviceName)
	if err != nil {
		return nil, err
	}

	outSize := uint32(mountmgrInitialOutBufSize)

	for attempt := 0; attempt < maxMountMgrRetries; attempt++ {
		outBuf := make([]byte, outSize)
		var returned uint32

		err := windows.DeviceIoControl(
			m.handle,
			ioctlMountMgrQueryPoints,
			&inBuf[0],
			uint32(len(inBuf)),
			&outBuf[0],
			outSize,
			&returned,
			nil,
		)
		if err != nil {
			if errors.Is(err, windows.ERROR_MORE_DATA) {
				outSize *= 2
				continue
			}
			return nil, &syncerr.Win32Error{Name: "DeviceIoControl(IOCTL_MOUNTMGR_QUERY_POINTS)", Cause: err}
		}

		return decodeMountPoints(outBuf), nil
	}

	return nil, syncerr.ErrTooManyRetries
}

// buildMountPointQuery lays out a MOUNTMGR_MOUNT_POINT header followed
// immediately by the device name, matching the donor's single
// contiguous input buffer. It builds the payload through AlignedBuffer
// so the header's ULONG fields and the UTF-16 name both land on their
// required boundaries, the same helper the output-side ioctl buffers
// would need if MOUNTMGR_MOUNT_POINTS ever grew a field wider than a
// USHORT.
func buildMountPointQuery(deviceName []uint16) ([]byte, error) {
	nameBytes := len(deviceName) * 2

	ab, err := NewAlignedBuffer(mountmgrMountPointSize+nameBytes, 4)
	if err != nil {
		return nil, err
	}

	header := make([]byte, mountmgrMountPointSize)
	binary.LittleEndian.PutUint32(header[16:], uint32(mountmgrMountPointSize)) // device_name_offset
	binary.LittleEndian.PutUint16(header[20:], uint16(nameBytes))              // device_name_length
	if _, err := ab.WriteAligned(header, 4); err != nil {
		return nil, err
	}

	name := make([]byte, nameBytes)
	for i, u := range deviceName {
		binary.LittleEndian.PutUint16(name[i*2:], u)
	}
	if _, err := ab.WriteAligned(name, 2); err != nil {
		return nil, err
	}

	return ab.Bytes()[:ab.Cursor()], nil
}

// mountmgrMountPoint mirrors MOUNTMGR_MOUNT_POINT's field layout for
// decoding a returned entry.
type mountmgrMountPoint struct {
	symbolicLinkNameOffset uint32
	symbolicLinkNameLength uint16
	_reserved1             uint16
	uniqueIDOffset         uint32
	uniqueIDLength         uint16
	_reserved2             uint16
	deviceNameOffset       uint32
	deviceNameLength       uint16
	_reserved3             uint16
}

func decodeMountPoints(outBuf []byte) []string {
	if len(outBuf) < mountmgrMountPointsHeaderSize {
		return nil
	}

	count := binary.LittleEndian.Uint32(outBuf[4:8])
	names := make([]string, 0, count)

	for i := uint32(0); i < count; i++ {
		entryOffset := mountmgrMountPointsHeaderSize + int(i)*int(unsafe.Sizeof(mountmgrMountPoint{}))
		if entryOffset+int(unsafe.Sizeof(mountmgrMountPoint{})) > len(outBuf) {
			break
		}

		linkOffset := binary.LittleEndian.Uint32(outBuf[entryOffset:])
		linkLen := binary.LittleEndian.Uint16(outBuf[entryOffset+4:])
		if linkOffset == 0 {
			continue
		}

		start := int(linkOffset)
		end := start + int(linkLen)
		if end > len(outBuf) {
			continue
		}

		units := bytesToUTF16(outBuf[start:end])
		name := decodeUTF16(units)
		stripped := stripDosDevicesPrefix(name)
		if stripped == name {
			continue
		}
		names = append(names, stripped)
	}

	return names
}

func bytesToUTF16(b []byte) []uint16 {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return units
}

// DeviceName implements volume.Resolver. CfgMgr32 device interface
// symbolic links already name the device unambiguously, so resolution
// is the identity transform; MountMgr is only consulted for mount
// paths.
func (m *MountMgr) DeviceName(_ context.Context, name string) (volume.DeviceIdentity, error) {
	return volume.DeviceIdentity(name), nil
}

// MountPaths implements volume.Resolver by querying MountMgr for every
// DOS path registered against device.
func (m *MountMgr) MountPaths(_ context.Context, device volume.DeviceIdentity) ([]volume.MountPath, error) {
	names, err := m.QueryPoints(encodeUTF16(string(device)))
	if err != nil {
		return nil, err
	}

	paths := make([]volume.MountPath, len(names))
	for i, n := range names {
		paths[i] = volume.MountPath(n)
	}
	return paths, nil
}

// dosDevicesPrefix is the kernel-namespace prefix MountMgr returns ahead
// of user-visible DOS paths.
const dosDevicesPrefix = `\DosDevices\`

// stripDosDevicesPrefix removes the \DosDevices\ prefix if present,
// mirroring the donor's find_dos_path, and returns name unchanged
// otherwise — MountMgr can also return raw device or volume-GUID paths
// that are not DOS paths at all.
func stripDosDevicesPrefix(name string) string {
	if len(name) > len(dosDevicesPrefix) && name[:len(dosDevicesPrefix)] == dosDevicesPrefix {
		return name[len(dosDevicesPrefix):]
	}
	return name
}
