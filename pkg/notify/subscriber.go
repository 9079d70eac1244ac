package notify

import (
	"sync"

	"k8s.io/klog/v2"
)

// SubscriberState is one of the two states the device-event subscriber's
// registration can be in.
type SubscriberState int

const (
	// Unregistered is the initial state: no OS subscriptions are live.
	Unregistered SubscriberState = iota
	// Registered means both the device-interface filter and the
	// logical-disk ready-event subscription are attached.
	Registered
)

func (s SubscriberState) String() string {
	if s == Registered {
		return "Registered"
	}
	return "Unregistered"
}

// Handlers are the callbacks a Subscriber invokes from whatever thread
// the platform Backend delivers events on — possibly a foreign OS
// callback thread, never assumed to be a runtime worker.
type Handlers struct {
	// OnArrival fires when a device interface of the storage-volume
	// class arrives, with its parsed volume name.
	OnArrival func(volumeName string)
	// OnRemoval fires on removal of a previously-arrived device.
	OnRemoval func(volumeName string)
	// OnReady fires on each logical-disk creation event (mount point
	// assignment); it carries no payload, the receiver re-scans the
	// pending queue.
	OnReady func()
}

// Backend is the platform-specific half of the device-event subscriber:
// registering and unregistering the two OS subscriptions described in
// the notification source design. notify_windows.go supplies the real
// implementation; notify_stub.go supplies a no-op for unsupported
// platforms; tests supply fakes.
type Backend interface {
	Register(h Handlers) error
	Unregister() error
}

// Subscriber drives a Backend through the Unregistered/Registered state
// machine. Register and Unregister are idempotent in the state they
// would already be in; Close behaves like unregistering from whichever
// state the Subscriber happens to be in, logging rather than propagating
// any error, mirroring the donor's best-effort Drop semantics.
type Subscriber struct {
	mu      sync.Mutex
	state   SubscriberState
	backend Backend
	handlers Handlers
}

// NewSubscriber constructs a Subscriber in the Unregistered state.
func NewSubscriber(backend Backend, handlers Handlers) *Subscriber {
	return &Subscriber{backend: backend, handlers: handlers, state: Unregistered}
}

// State reports the current registration state.
func (s *Subscriber) State() SubscriberState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Register attaches both OS subscriptions. A no-op if already
// Registered.
func (s *Subscriber) Register() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Registered {
		return nil
	}
	if err := s.backend.Register(s.handlers); err != nil {
		return err
	}
	s.state = Registered
	return nil
}

// Unregister cancels both OS subscriptions. Idempotent on Unregistered.
func (s *Subscriber) Unregister() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Unregistered {
		return nil
	}
	if err := s.backend.Unregister(); err != nil {
		return err
	}
	s.state = Unregistered
	return nil
}

// Close unregisters if currently Registered. Any error is logged, never
// returned, matching the donor's Drop-time best-effort unregistration.
func (s *Subscriber) Close() {
	if err := s.Unregister(); err != nil {
		klog.Warningf("notify: error unregistering device-event subscriber: %v", err)
	}
}
