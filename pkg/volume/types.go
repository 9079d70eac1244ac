// Package volume defines the identity, configuration, and disposition
// types shared between the Volume Notification Source and the Incremental
// Mirror Engine. It carries no platform-specific code: that lives in
// pkg/notify's per-OS files.
package volume

import (
	"context"
	"fmt"

	"github.com/srvlab/hotsync/pkg/abort"
	"github.com/srvlab/hotsync/pkg/syncerr"
)

// Resolver resolves a VolumeIdentity's device name and mount paths on
// demand, the way VolumeName::device_name/dos_paths do against a shared
// mount-manager handle in the original implementation.
type Resolver interface {
	DeviceName(ctx context.Context, name string) (DeviceIdentity, error)
	MountPaths(ctx context.Context, device DeviceIdentity) ([]MountPath, error)
}

// VolumeIdentity is a stable-within-session opaque name identifying a
// storage volume (e.g. `\\?\Volume{GUID}` on Windows). Equality and
// hashing are derived only from the name; the resolver is carried purely
// so callers can resolve a device name or mount path on demand.
type VolumeIdentity struct {
	name     string
	resolver Resolver
}

// NewVolumeIdentity constructs a VolumeIdentity. resolver may be nil for
// identities that will never need on-demand resolution (e.g. in tests).
func NewVolumeIdentity(name string, resolver Resolver) VolumeIdentity {
	return VolumeIdentity{name: name, resolver: resolver}
}

// Name returns the opaque volume name.
func (v VolumeIdentity) Name() string { return v.name }

// String implements fmt.Stringer.
func (v VolumeIdentity) String() string { return v.name }

// Equal reports whether two identities refer to the same volume.
func (v VolumeIdentity) Equal(other VolumeIdentity) bool { return v.name == other.name }

// DeviceIdentity resolves this volume's device path via the carried
// resolver.
func (v VolumeIdentity) DeviceIdentity(ctx context.Context) (DeviceIdentity, error) {
	if v.resolver == nil {
		return "", fmt.Errorf("volume %q has no resolver", v.name)
	}
	return v.resolver.DeviceName(ctx, v.name)
}

// MountPaths resolves this volume's device identity and then its DOS
// mount paths.
func (v VolumeIdentity) MountPaths(ctx context.Context) ([]MountPath, error) {
	device, err := v.DeviceIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if v.resolver == nil {
		return nil, nil
	}
	return v.resolver.MountPaths(ctx, device)
}

// DeviceIdentity is a resolved device path, e.g. `\Device\HarddiskVolume3`.
type DeviceIdentity string

// String implements fmt.Stringer.
func (d DeviceIdentity) String() string { return string(d) }

// MountPath is an absolute filesystem path at which a volume is
// accessible. A volume may exist without one.
type MountPath string

// String implements fmt.Stringer.
func (m MountPath) String() string { return string(m) }

// DispositionKind tags the variant carried by a Disposition.
type DispositionKind int

const (
	// DispositionSpawned indicates the spawner started a task and is
	// returning its abort token (plus an optional cleanup function) to
	// be tracked in the abort registry.
	DispositionSpawned DispositionKind = iota
	// DispositionIgnore indicates the spawner permanently declined this
	// volume; it should not be retried on the next ready event.
	DispositionIgnore
	// DispositionSkip indicates the volume is not ready yet; retry it
	// on the next ready event.
	DispositionSkip
)

func (k DispositionKind) String() string {
	switch k {
	case DispositionSpawned:
		return "Spawned"
	case DispositionIgnore:
		return "Ignore"
	case DispositionSkip:
		return "Skip"
	default:
		return "Unknown"
	}
}

// Disposition is what a Spawner returns for a given volume arrival.
type Disposition struct {
	Kind    DispositionKind
	Token   abort.Token
	Cleanup func()
}

// Spawned constructs a Disposition that records token (and optional
// cleanup) in the abort registry.
func Spawned(token abort.Token, cleanup func()) Disposition {
	return Disposition{Kind: DispositionSpawned, Token: token, Cleanup: cleanup}
}

// Ignore constructs a Disposition that permanently declines a volume.
func Ignore() Disposition { return Disposition{Kind: DispositionIgnore} }

// Skip constructs a Disposition that defers a decision until the next
// ready event.
func Skip() Disposition { return Disposition{Kind: DispositionSkip} }

// Spawner decides what to do when a volume arrives (or is re-evaluated
// from the pending queue). mount is nil when the volume has no mount
// point yet.
type Spawner func(ctx context.Context, vol VolumeIdentity, device DeviceIdentity, mount *MountPath) Disposition

// SrcMatch selects which devices a SyncPair applies to. At least one of
// Volume or Device must be set; a device matches a pair if every
// non-empty field equals the device's corresponding identifier.
type SrcMatch struct {
	Volume string `yaml:"volume,omitempty"`
	Device string `yaml:"device,omitempty"`
}

// Empty reports whether neither match field is set.
func (m SrcMatch) Empty() bool { return m.Volume == "" && m.Device == "" }

// SyncPair is one externally configured source→destination mirror rule.
type SyncPair struct {
	Match       SrcMatch `yaml:"match"`
	SrcPath     string   `yaml:"src_path"`
	DestPath    string   `yaml:"dest_path"`
	Concurrency int      `yaml:"concurrency"`
}

// Validate checks the core's two rejection rules: zero concurrency and
// an entirely empty match. All other validation (path well-formedness,
// existence) is the external loader's responsibility.
func (p SyncPair) Validate() error {
	if p.Concurrency <= 0 {
		return fmt.Errorf("sync pair %q: concurrency must be >= 1, got %d", p.DestPath, p.Concurrency)
	}
	if p.Match.Empty() {
		return fmt.Errorf("sync pair %q: at least one of match.volume or match.device is required: %w", p.DestPath, syncerr.ErrNoMatchField)
	}
	return nil
}

// Matches reports whether a device identified by volumeName/deviceName
// satisfies this pair's match rule: every field the pair specifies must
// equal the device's corresponding identifier.
func (p SyncPair) Matches(volumeName, deviceName string) bool {
	if p.Match.Volume != "" && p.Match.Volume != volumeName {
		return false
	}
	if p.Match.Device != "" && p.Match.Device != deviceName {
		return false
	}
	return true
}
