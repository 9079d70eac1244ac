//go:build windows

package notify

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"golang.org/x/sys/windows"
	"k8s.io/klog/v2"

	"github.com/srvlab/hotsync/pkg/syncerr"
	"github.com/srvlab/hotsync/pkg/volume"
)

var (
	modcfgmgr32                      = windows.NewLazySystemDLL("cfgmgr32.dll")
	procCMRegisterNotification       = modcfgmgr32.NewProc("CM_Register_Notification")
	procCMUnregisterNotification     = modcfgmgr32.NewProc("CM_Unregister_Notification")
	procCMGetDeviceInterfaceListSize = modcfgmgr32.NewProc("CM_Get_Device_Interface_List_SizeW")
	procCMGetDeviceInterfaceList     = modcfgmgr32.NewProc("CM_Get_Device_Interface_ListW")
)

// guidDevInterfaceVolume is GUID_DEVINTERFACE_VOLUME, the device
// interface class for storage volumes.
var guidDevInterfaceVolume = windows.GUID{
	Data1: 0x53f5630d,
	Data2: 0xb6bf,
	Data3: 0x11d0,
	Data4: [8]byte{0x94, 0xf2, 0x00, 0xa0, 0xc9, 0x1e, 0xfb, 0x8b},
}

const (
	cmNotifyFilterTypeDeviceInterface = 0
	cmNotifyActionDeviceInterfaceArrival = 0
	cmNotifyActionDeviceInterfaceRemoval = 1

	cmGetDeviceInterfaceListPresent = 0
	cmrSuccess                      = 0

	// cmDeviceInterfaceListFlags requests only currently present
	// interfaces for list() enumeration.
	cmDeviceInterfaceListFlags = cmGetDeviceInterfaceListPresent
)

// cmNotifyFilter mirrors CM_NOTIFY_FILTER for the device-interface case:
// a 4-byte size, 4-byte reserved flags, 4-byte FilterType, 4-byte
// Reserved, followed by the 16-byte ClassGuid.
type cmNotifyFilter struct {
	size       uint32
	flags      uint32
	filterType uint32
	reserved   uint32
	classGUID  windows.GUID
}

// cmNotifyEventData mirrors the header of CM_NOTIFY_EVENT_DATA for the
// device-interface filter type: FilterType, then the 16-byte ClassGuid,
// then the null-terminated wide-string SymbolicLink that follows
// immediately in memory. The notification action itself arrives as a
// separate callback parameter, not a struct field.
type cmNotifyEventData struct {
	filterType uint32
	classGUID  windows.GUID
}

// windowsBackend implements Backend using CM_Register_Notification for
// device-interface arrival/removal and a polling WMI subscription for
// the logical-disk ready event.
type windowsBackend struct {
	mu       sync.Mutex
	handlers Handlers

	cmHandle uintptr
	pinned   *cmSubscriptionContext

	wmiCancel context.CancelFunc
	wmiDone   chan struct{}
}

// cmSubscriptionContext is heap-pinned for the lifetime of the
// CM_Register_Notification registration: CfgMgr32 holds a raw pointer to
// it across the registration and invokes notifyCallback with that
// pointer on an arbitrary system thread.
type cmSubscriptionContext struct {
	backend *windowsBackend
}

// NewWindowsBackend constructs the real device-event Backend.
func NewWindowsBackend() Backend {
	return &windowsBackend{}
}

func (b *windowsBackend) Register(h Handlers) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = h

	filter := cmNotifyFilter{
		size:       uint32(unsafe.Sizeof(cmNotifyFilter{})),
		filterType: cmNotifyFilterTypeDeviceInterface,
		classGUID:  guidDevInterfaceVolume,
	}

	ctx := &cmSubscriptionContext{backend: b}
	b.pinned = ctx

	var handle uintptr
	ret, _, _ := procCMRegisterNotification.Call(
		uintptr(unsafe.Pointer(&filter)),
		uintptr(unsafe.Pointer(ctx)),
		windows.NewCallback(cmNotifyCallback),
		uintptr(unsafe.Pointer(&handle)),
	)
	if ret != cmrSuccess {
		b.pinned = nil
		return &syncerr.Win32Error{Name: "CM_Register_Notification", Cause: fmt.Errorf("CONFIGRET 0x%x", ret)}
	}
	b.cmHandle = handle

	wmiCtx, cancel := context.WithCancel(context.Background())
	b.wmiCancel = cancel
	b.wmiDone = make(chan struct{})
	go b.runWMIPoll(wmiCtx)

	return nil
}

func (b *windowsBackend) Unregister() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmHandle != 0 {
		ret, _, _ := procCMUnregisterNotification.Call(b.cmHandle)
		if ret != cmrSuccess {
			return &syncerr.Win32Error{Name: "CM_Unregister_Notification", Cause: fmt.Errorf("CONFIGRET 0x%x", ret)}
		}
		b.cmHandle = 0
		b.pinned = nil
	}

	if b.wmiCancel != nil {
		b.wmiCancel()
		<-b.wmiDone
		b.wmiCancel = nil
	}

	return nil
}

// cmNotifyCallback is invoked by CfgMgr32 on a foreign thread for every
// device-interface arrival/removal matching the registered filter. It
// takes the backend's mutex to read the registered handlers and then
// calls them; the handlers in turn take the pending queue's and abort
// registry's mutexes, so the dispatch is not lock-free. It performs no
// blocking I/O.
func cmNotifyCallback(_ uintptr, contextPtr unsafe.Pointer, action uintptr, eventData unsafe.Pointer, eventDataSize uint32) uintptr {
	ctx := (*cmSubscriptionContext)(contextPtr)
	if ctx == nil || ctx.backend == nil {
		return 0
	}

	headerSize := unsafe.Sizeof(cmNotifyEventData{})
	if uintptr(eventDataSize) <= headerSize {
		return 0
	}

	linkLen := (uintptr(eventDataSize) - headerSize) / 2
	linkPtr := (*uint16)(unsafe.Add(eventData, headerSize))
	units := unsafe.Slice(linkPtr, linkLen)
	name := decodeUTF16(trimTrailingNulUTF16(units))

	ctx.backend.mu.Lock()
	handlers := ctx.backend.handlers
	ctx.backend.mu.Unlock()

	switch action {
	case cmNotifyActionDeviceInterfaceArrival:
		if handlers.OnArrival != nil {
			handlers.OnArrival(name)
		}
	case cmNotifyActionDeviceInterfaceRemoval:
		if handlers.OnRemoval != nil {
			handlers.OnRemoval(name)
		}
	}

	return 0
}

func trimTrailingNulUTF16(units []uint16) []uint16 {
	for i, u := range units {
		if u == 0 {
			return units[:i]
		}
	}
	return units
}

// wmiSession holds the live COM objects backing the notification query;
// every member must be Release()d in reverse acquisition order.
type wmiSession struct {
	locator      *ole.IDispatch
	service      *ole.IDispatch
	enumDispatch *ole.IDispatch
}

func (s *wmiSession) release() {
	if s.enumDispatch != nil {
		s.enumDispatch.Release()
	}
	if s.service != nil {
		s.service.Release()
	}
	if s.locator != nil {
		s.locator.Release()
	}
}

// initCom initializes COM and opens the __InstanceCreationEvent query
// against Win32_LogicalDisk, retrying with backoff: a newly-arrived
// session (fast user switching, RDP reconnect) can leave WMI transiently
// unreachable for a few seconds after COM itself comes up.
func initCom(ctx context.Context) (*wmiSession, error) {
	var session *wmiSession

	connect := func() error {
		unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
		if err != nil {
			return fmt.Errorf("creating SWbemLocator: %w", err)
		}
		defer unknown.Release()

		locator, err := unknown.QueryInterface(ole.IID_IDispatch)
		if err != nil {
			return fmt.Errorf("querying IDispatch on SWbemLocator: %w", err)
		}

		serviceRaw, err := oleutil.CallMethod(locator, "ConnectServer", ".", `root\cimv2`)
		if err != nil {
			locator.Release()
			return fmt.Errorf("ConnectServer: %w", err)
		}
		service := serviceRaw.ToIDispatch()

		query := "SELECT * FROM __InstanceCreationEvent WITHIN 1 WHERE TargetInstance ISA 'Win32_LogicalDisk'"
		enumRaw, err := oleutil.CallMethod(service, "ExecNotificationQuery", query)
		if err != nil {
			service.Release()
			locator.Release()
			return fmt.Errorf("ExecNotificationQuery: %w", err)
		}

		session = &wmiSession{locator: locator, service: service, enumDispatch: enumRaw.ToIDispatch()}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), wmiConnectMaxRetries), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, err
	}
	return session, nil
}

const wmiConnectMaxRetries = 5

// runWMIPoll subscribes to __InstanceCreationEvent for Win32_LogicalDisk
// and invokes OnReady for each event, until ctx is cancelled. Modeled on
// the donor's WmiObserver but polling IEnumWbemClassObject rather than
// implementing an IWbemObjectSink callback, since that vtable is not
// practical to implement from Go without cgo.
func (b *windowsBackend) runWMIPoll(ctx context.Context) {
	defer close(b.wmiDone)

	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		klog.Warningf("notify: CoInitializeEx failed: %v", err)
		return
	}
	defer ole.CoUninitialize()

	session, err := initCom(ctx)
	if err != nil {
		klog.Warningf("notify: WMI notification query setup failed after retries: %v", err)
		return
	}
	defer session.release()
	enumDispatch := session.enumDispatch

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		eventRaw, err := oleutil.CallMethod(enumDispatch, "NextEvent", 1000)
		if err != nil {
			// Timeout waiting for the next event is the expected steady
			// state; keep polling until cancelled.
			continue
		}

		event := eventRaw.ToIDispatch()
		event.Release()

		b.mu.Lock()
		onReady := b.handlers.OnReady
		b.mu.Unlock()

		if onReady != nil {
			onReady()
		}
	}
}

// windowsLister enumerates present volumes via
// CM_Get_Device_Interface_ListW against GUID_DEVINTERFACE_VOLUME,
// resolving each via a volume.Resolver (MountMgr-backed in production).
type windowsLister struct {
	resolver volume.Resolver
}

// NewWindowsLister constructs a Lister backed by CfgMgr32 and resolver.
func NewWindowsLister(resolver volume.Resolver) Lister {
	return &windowsLister{resolver: resolver}
}

const maxDeviceInterfaceListRetries = 5

func (l *windowsLister) List(ctx context.Context) ([]Entry, error) {
	guidPtr := &guidDevInterfaceVolume

	var size uint32
	for attempt := 0; attempt < maxDeviceInterfaceListRetries; attempt++ {
		ret, _, _ := procCMGetDeviceInterfaceListSize.Call(
			uintptr(unsafe.Pointer(&size)),
			uintptr(unsafe.Pointer(guidPtr)),
			0,
			cmDeviceInterfaceListFlags,
		)
		if ret != cmrSuccess {
			return nil, &syncerr.Win32Error{Name: "CM_Get_Device_Interface_List_SizeW", Cause: fmt.Errorf("CONFIGRET 0x%x", ret)}
		}

		buf := make([]uint16, size)
		ret, _, _ = procCMGetDeviceInterfaceList.Call(
			uintptr(unsafe.Pointer(guidPtr)),
			0,
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(size),
			cmDeviceInterfaceListFlags,
		)
		if ret != cmrSuccess {
			continue
		}

		var out []Entry
		it := NewPZZIterator(buf)
		for {
			units, ok := it.Next()
			if !ok {
				break
			}
			link := decodeUTF16(units)
			entry, err := l.resolveEntry(link)
			if err != nil {
				klog.Warningf("notify: dropping volume %q from list(): %v", link, err)
				continue
			}
			out = append(out, entry)
		}
		return out, nil
	}

	return nil, syncerr.ErrTooManyRetries
}

// resolveEntry treats the device interface symbolic link itself as the
// volume's stable name, then resolves a device identity and mount paths
// against the resolver (MountMgr in production).
func (l *windowsLister) resolveEntry(symbolicLink string) (Entry, error) {
	ctx := context.Background()
	vol := volume.NewVolumeIdentity(symbolicLink, l.resolver)

	device, err := l.resolver.DeviceName(ctx, symbolicLink)
	if err != nil {
		return Entry{}, fmt.Errorf("resolving device for %q: %w", symbolicLink, err)
	}

	var mount *volume.MountPath
	if paths, err := l.resolver.MountPaths(ctx, device); err == nil && len(paths) > 0 {
		mount = &paths[0]
	}

	return Entry{Volume: vol, Device: device, Mount: mount}, nil
}
