// Package abort tracks cancellable work keyed by an arbitrary comparable
// identity, mirroring how pkg/attachment in the donor CSI driver tracks
// volume-to-node state under a single RWMutex-guarded map.
package abort

import (
	"sync"

	"k8s.io/klog/v2"
)

// Token cancels whatever work it was issued for and reports completion.
// Implementations must tolerate concurrent calls to Abort from both the
// async runtime and a foreign OS callback thread.
type Token interface {
	Abort()
	Finished() bool
}

// Entry pairs a cancellation token with an optional cleanup routine run
// when the entry is removed, aborted, or cleared.
type Entry struct {
	Token   Token
	Cleanup func()
}

// Registry maps a volume (or other task) identity to its Entry. At most
// one Entry exists per key at a time; inserting a duplicate key aborts
// and replaces the previous entry.
type Registry[K comparable] struct {
	mu      sync.RWMutex
	entries map[K]Entry
}

// New creates an empty Registry.
func New[K comparable]() *Registry[K] {
	return &Registry[K]{entries: make(map[K]Entry)}
}

// Insert records token/cleanup under key, replacing (and aborting) any
// previous entry for the same key.
func (r *Registry[K]) Insert(key K, token Token, cleanup func()) {
	r.mu.Lock()
	prev, existed := r.entries[key]
	r.entries[key] = Entry{Token: token, Cleanup: cleanup}
	r.mu.Unlock()

	if existed {
		klog.V(3).Infof("abort registry: replacing existing entry for %v", key)
		prev.Token.Abort()
		if prev.Cleanup != nil {
			prev.Cleanup()
		}
	}
}

// RemoveAbort removes the entry for key, if any, aborting its token and
// running its cleanup. Returns true if an entry was present.
func (r *Registry[K]) RemoveAbort(key K) bool {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	entry.Token.Abort()
	if entry.Cleanup != nil {
		entry.Cleanup()
	}
	return true
}

// GC drops entries whose token reports the underlying task has already
// finished on its own (not via Abort). Cleanup is not invoked for these
// since the task completed normally rather than being cancelled.
func (r *Registry[K]) GC() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, entry := range r.entries {
		if entry.Token.Finished() {
			delete(r.entries, key)
		}
	}
}

// ClearAbort aborts and cleans up every live entry, then empties the
// registry.
func (r *Registry[K]) ClearAbort() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[K]Entry)
	r.mu.Unlock()

	for key, entry := range entries {
		klog.V(3).Infof("abort registry: clearing entry for %v", key)
		entry.Token.Abort()
		if entry.Cleanup != nil {
			entry.Cleanup()
		}
	}
}

// Len reports the number of live entries. Intended for tests and metrics.
func (r *Registry[K]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Has reports whether key currently has a live entry.
func (r *Registry[K]) Has(key K) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key]
	return ok
}

// Close is the deterministic equivalent of the registry going out of
// scope: it aborts and cleans up every live entry. Callers should defer
// Close on any Registry they own.
func (r *Registry[K]) Close() {
	r.ClearAbort()
}
