package notify

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/srvlab/hotsync/pkg/abort"
	"github.com/srvlab/hotsync/pkg/volume"
)

// Entry is one resolved volume as returned by Lister.List: a volume
// identity, its resolved device identity, and its first DOS mount path
// if it has one.
type Entry struct {
	Volume volume.VolumeIdentity
	Device volume.DeviceIdentity
	Mount  *volume.MountPath
}

// Lister enumerates currently present volumes of the storage-volume
// interface class, using a grow-and-retry sequence against the
// platform's device-interface list API. Failures to resolve a single
// volume are the lister's responsibility to skip, never fatal to List as
// a whole.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
}

// Source is the Volume Notification Source: it composes a Lister, a
// Backend-driven Subscriber, an abort registry, and a pending-device
// queue into the operations external callers use (list, list_spawn,
// start, pause, reset).
type Source struct {
	spawner    volume.Spawner
	lister     Lister
	resolver   volume.Resolver
	registry   *abort.Registry[string]
	pending    *PendingQueue
	subscriber *Subscriber
}

// NewSource wires a platform Backend and Lister into a running Source.
// spawner is invoked for every volume this source decides is ready to be
// evaluated, whether from an initial List or from a pending-queue drain.
func NewSource(backend Backend, lister Lister, resolver volume.Resolver, spawner volume.Spawner) *Source {
	s := &Source{
		spawner:  spawner,
		lister:   lister,
		resolver: resolver,
		registry: abort.New[string](),
		pending:  NewPendingQueue(),
	}

	s.subscriber = NewSubscriber(backend, Handlers{
		OnArrival: s.onArrival,
		OnRemoval: s.onRemoval,
		OnReady:   s.onReady,
	})
	return s
}

// List enumerates currently present volumes via the Lister. Individual
// resolution failures are logged and dropped from the result; only a
// Lister-level failure (e.g. exceeding its retry budget) is returned.
func (s *Source) List(ctx context.Context) ([]Entry, error) {
	return s.lister.List(ctx)
}

// ListSpawn clears the abort registry, lists present volumes, and
// invokes the spawner for each; every Spawned disposition is recorded.
func (s *Source) ListSpawn(ctx context.Context) error {
	s.registry.ClearAbort()

	entries, err := s.List(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		s.dispatch(ctx, entry)
	}
	return nil
}

func (s *Source) dispatch(ctx context.Context, entry Entry) {
	disp := s.spawner(ctx, entry.Volume, entry.Device, entry.Mount)
	switch disp.Kind {
	case volume.DispositionSpawned:
		s.registry.Insert(entry.Volume.Name(), disp.Token, disp.Cleanup)
	case volume.DispositionIgnore, volume.DispositionSkip:
		// Nothing recorded for a fresh List pass; Skip only matters for
		// entries that originated in the pending queue.
	}
}

// Start registers the device-interface filter and the logical-disk
// ready-event subscription.
func (s *Source) Start() error {
	return s.subscriber.Register()
}

// Pause unregisters both subscriptions but leaves the abort registry
// intact, so already-spawned tasks continue running.
func (s *Source) Pause() error {
	return s.subscriber.Unregister()
}

// Reset pauses, then aborts and cleans up every live registry entry.
func (s *Source) Reset() error {
	if err := s.Pause(); err != nil {
		return err
	}
	s.registry.ClearAbort()
	return nil
}

// Close is the deterministic equivalent of dropping the Source: it
// unregisters subscriptions (logging, not propagating, any error) and
// aborts/cleans every live task.
func (s *Source) Close() {
	s.subscriber.Close()
	s.registry.ClearAbort()
}

func (s *Source) onArrival(volumeName string) {
	s.pending.Add(volumeName)
}

func (s *Source) onRemoval(volumeName string) {
	s.pending.Remove(volumeName)
	s.registry.RemoveAbort(volumeName)
}

// onReady drains a snapshot of the pending queue: for each entry it
// resolves device and first DOS path, invokes the spawner, and lets the
// returned disposition decide retention. Runs on whatever thread the
// Backend delivers the ready event on.
func (s *Source) onReady() {
	ctx := context.Background()

	for _, name := range s.pending.Snapshot() {
		device, err := s.resolver.DeviceName(ctx, name)
		if err != nil {
			klog.Warningf("notify: dropping pending volume %q: device resolution failed: %v", name, err)
			s.pending.Remove(name)
			continue
		}

		var mount *volume.MountPath
		if paths, err := s.resolver.MountPaths(ctx, device); err == nil && len(paths) > 0 {
			mount = &paths[0]
		}

		vol := volume.NewVolumeIdentity(name, s.resolver)
		disp := s.spawner(ctx, vol, device, mount)

		switch disp.Kind {
		case volume.DispositionSpawned:
			s.registry.Insert(name, disp.Token, disp.Cleanup)
			s.pending.Remove(name)
		case volume.DispositionIgnore:
			s.pending.Remove(name)
		case volume.DispositionSkip:
			// retained for the next ready event
		}
	}
}
