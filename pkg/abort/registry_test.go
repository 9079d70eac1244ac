package abort

import (
	"sync"
	"sync/atomic"
	"testing"
)

type fakeToken struct {
	aborted  atomic.Bool
	finished atomic.Bool
}

func (f *fakeToken) Abort()          { f.aborted.Store(true) }
func (f *fakeToken) Finished() bool  { return f.finished.Load() }
func (f *fakeToken) markDone()       { f.finished.Store(true) }
func (f *fakeToken) wasAborted() bool { return f.aborted.Load() }

func TestRegistry_InsertAndRemoveAbort(t *testing.T) {
	r := New[string]()
	tok := &fakeToken{}
	cleaned := false

	r.Insert("vol-1", tok, func() { cleaned = true })

	if !r.Has("vol-1") {
		t.Fatal("expected vol-1 to be present after insert")
	}

	if ok := r.RemoveAbort("vol-1"); !ok {
		t.Fatal("expected RemoveAbort to report an existing entry")
	}

	if !tok.wasAborted() {
		t.Error("expected token to be aborted")
	}
	if !cleaned {
		t.Error("expected cleanup to run")
	}
	if r.Has("vol-1") {
		t.Error("expected vol-1 to be gone after RemoveAbort")
	}
}

func TestRegistry_RemoveAbort_Missing(t *testing.T) {
	r := New[string]()
	if ok := r.RemoveAbort("missing"); ok {
		t.Error("expected RemoveAbort on a missing key to report false")
	}
}

func TestRegistry_InsertDuplicateAbortsPrevious(t *testing.T) {
	r := New[string]()
	first := &fakeToken{}
	second := &fakeToken{}

	r.Insert("vol-1", first, nil)
	r.Insert("vol-1", second, nil)

	if !first.wasAborted() {
		t.Error("expected the replaced entry's token to be aborted")
	}
	if second.wasAborted() {
		t.Error("did not expect the new entry's token to be aborted")
	}
	if r.Len() != 1 {
		t.Errorf("expected exactly one live entry, got %d", r.Len())
	}
}

func TestRegistry_GC_DropsFinished(t *testing.T) {
	r := New[string]()
	done := &fakeToken{}
	done.markDone()
	live := &fakeToken{}

	r.Insert("done", done, nil)
	r.Insert("live", live, nil)

	r.GC()

	if r.Has("done") {
		t.Error("expected finished entry to be collected")
	}
	if !r.Has("live") {
		t.Error("expected live entry to remain")
	}
	if done.wasAborted() {
		t.Error("GC must not abort a task that finished on its own")
	}
}

func TestRegistry_ClearAbort(t *testing.T) {
	r := New[string]()
	var cleanupCount int32

	for _, key := range []string{"a", "b", "c"} {
		r.Insert(key, &fakeToken{}, func() { atomic.AddInt32(&cleanupCount, 1) })
	}

	r.ClearAbort()

	if r.Len() != 0 {
		t.Errorf("expected registry to be empty after ClearAbort, got %d entries", r.Len())
	}
	if cleanupCount != 3 {
		t.Errorf("expected 3 cleanups to run, got %d", cleanupCount)
	}
}

func TestRegistry_ConcurrentInsertRemove(t *testing.T) {
	r := New[string]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "vol"
			r.Insert(key, &fakeToken{}, nil)
			r.RemoveAbort(key)
		}(i)
	}

	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("expected registry to settle empty, got %d entries", r.Len())
	}
}

func TestRegistry_Close(t *testing.T) {
	r := New[string]()
	tok := &fakeToken{}
	r.Insert("vol-1", tok, nil)

	r.Close()

	if !tok.wasAborted() {
		t.Error("expected Close to abort live entries")
	}
	if r.Len() != 0 {
		t.Error("expected Close to empty the registry")
	}
}
