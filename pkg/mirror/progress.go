package mirror

import "sync/atomic"

// Counter is a set of five monotonic-apart-from-InProgress atomic tallies:
// total, in-progress, done, skipped, failed. All updates use relaxed
// (unordered) semantics — these are statistics, never a synchronization
// mechanism. See Snapshot for a point-in-time read.
type Counter struct {
	total      atomic.Int64
	inProgress atomic.Int64
	done       atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
}

// Snapshot is a plain-value copy of a Counter at one instant.
type Snapshot struct {
	Total      int64
	InProgress int64
	Done       int64
	Skipped    int64
	Failed     int64
}

// Snapshot reads all five fields. Readers must treat the result as a
// coarse estimate: the fields are not read atomically with each other.
func (c *Counter) Snapshot() Snapshot {
	return Snapshot{
		Total:      c.total.Load(),
		InProgress: c.inProgress.Load(),
		Done:       c.done.Load(),
		Skipped:    c.skipped.Load(),
		Failed:     c.failed.Load(),
	}
}

func (c *Counter) addTotal(n int64)      { c.total.Add(n) }
func (c *Counter) addInProgress(n int64) { c.inProgress.Add(n) }
func (c *Counter) addDone(n int64)       { c.done.Add(n) }
func (c *Counter) addSkipped(n int64)    { c.skipped.Add(n) }
func (c *Counter) addFailed(n int64)     { c.failed.Add(n) }

// GlobalProgress holds the two TIDSF tallies required by the mirror
// engine: one over file counts, one over bytes.
type GlobalProgress struct {
	Files Counter
	Bytes Counter
}

// Milestone marks one of the two terminal phase transitions a Sync call
// reports exactly once each, in order.
type Milestone int

const (
	// DiscoveryComplete fires once the walker has finished enumerating
	// the source tree and every CopyJob has been produced.
	DiscoveryComplete Milestone = iota
	// CopyComplete fires once every spawned copier has returned.
	CopyComplete
)

func (m Milestone) String() string {
	switch m {
	case DiscoveryComplete:
		return "DiscoveryComplete"
	case CopyComplete:
		return "CopyComplete"
	default:
		return "Unknown"
	}
}

// ProgressFunc is invoked with the current progress snapshot. milestone
// is non-nil only on the two milestone-carrying calls.
type ProgressFunc func(progress *GlobalProgress, milestone *Milestone)

// ErrorFunc receives every non-fatal error produced during a sync:
// per-path stat failures, per-file copy failures, cancellation, and join
// errors. It never aborts the sync.
type ErrorFunc func(err error)

// FileProgress tracks a single in-flight file's byte accounting. It is
// owned exclusively by the copier goroutine writing that file — no
// atomics required.
type FileProgress struct {
	Total int64
	Done  int64
}
