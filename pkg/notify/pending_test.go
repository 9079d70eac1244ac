package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingQueue_AddRemoveHas(t *testing.T) {
	q := NewPendingQueue()
	q.Add("vol-1")

	assert.True(t, q.Has("vol-1"))
	assert.Equal(t, 1, q.Len())

	assert.True(t, q.Remove("vol-1"))
	assert.False(t, q.Has("vol-1"))
	assert.False(t, q.Remove("vol-1"))
}

func TestPendingQueue_AddIsIdempotent(t *testing.T) {
	q := NewPendingQueue()
	q.Add("vol-1")
	q.Add("vol-1")
	assert.Equal(t, 1, q.Len())
}

func TestPendingQueue_Snapshot(t *testing.T) {
	q := NewPendingQueue()
	q.Add("a")
	q.Add("b")

	snap := q.Snapshot()
	assert.ElementsMatch(t, []string{"a", "b"}, snap)
}

func TestPendingQueue_ConcurrentAccess(t *testing.T) {
	q := NewPendingQueue()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			q.Add("vol")
			q.Has("vol")
			q.Remove("vol")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, q.Len())
}
