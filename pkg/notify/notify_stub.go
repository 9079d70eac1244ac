//go:build !windows

package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/srvlab/hotsync/pkg/syncerr"
	"github.com/srvlab/hotsync/pkg/volume"
)

// testVolumeNamespace scopes the deterministic volume names NewTestVolumeIdentity
// derives, so two different seeds never collide with an unrelated UUIDv5 use
// elsewhere in the process.
var testVolumeNamespace = uuid.MustParse("b96c5b1e-6e0f-4f22-9b2e-7e3f6b1a2c3d")

// NewTestVolumeIdentity derives a stable VolumeIdentity from seed, the way
// the donor CSI driver derives a deterministic volume ID from a PVC name.
// It exists for exercising the Source/Engine pipeline on a platform with no
// real device-interface notification API wired in: given the same seed it
// always returns the same identity, so a test or a local dev run can
// simulate repeated arrivals of "the same" removable volume.
func NewTestVolumeIdentity(seed string, resolver volume.Resolver) volume.VolumeIdentity {
	name := uuid.NewSHA1(testVolumeNamespace, []byte(seed)).String()
	return volume.NewVolumeIdentity(name, resolver)
}

// stubBackend is the Backend used on platforms without a device-interface
// notification API wired in. It reports ErrUnsupportedPlatform on every
// operation rather than silently doing nothing, so a misconfigured
// deployment fails loudly at Start rather than hanging forever waiting
// for events that will never arrive.
type stubBackend struct{}

// NewWindowsBackend keeps the same constructor name across platforms so
// callers in cmd/hotsyncd don't need a build-tagged call site; on this
// platform it always returns the stub.
func NewWindowsBackend() Backend { return stubBackend{} }

func (stubBackend) Register(Handlers) error { return syncerr.ErrUnsupportedPlatform }
func (stubBackend) Unregister() error       { return syncerr.ErrUnsupportedPlatform }

// stubLister never finds any volumes.
type stubLister struct{}

// NewWindowsLister mirrors the Windows constructor's signature so
// cmd/hotsyncd can call it unconditionally; resolver is accepted and
// ignored.
func NewWindowsLister(volume.Resolver) Lister { return stubLister{} }

func (stubLister) List(context.Context) ([]Entry, error) {
	return nil, syncerr.ErrUnsupportedPlatform
}

// stubResolver implements volume.Resolver by always failing, for
// platforms with no MountMgr equivalent wired in.
type stubResolver struct{}

// NewMountMgrResolver mirrors the Windows MountMgr's role as a
// volume.Resolver so callers don't need a build-tagged call site.
func NewMountMgrResolver() (volume.Resolver, func() error, error) {
	return stubResolver{}, func() error { return nil }, nil
}

func (stubResolver) DeviceName(context.Context, string) (volume.DeviceIdentity, error) {
	return "", syncerr.ErrUnsupportedPlatform
}

func (stubResolver) MountPaths(context.Context, volume.DeviceIdentity) ([]volume.MountPath, error) {
	return nil, syncerr.ErrUnsupportedPlatform
}
