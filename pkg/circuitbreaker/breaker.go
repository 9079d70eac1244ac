// Package circuitbreaker builds the per-sync-pair circuit breaker the
// mirror engine uses to stop spawning new copiers against a sync pair
// whose destination filesystem is failing, rather than retrying every
// file against a stuck device.
package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
	"k8s.io/klog/v2"
)

const (
	// DefaultConsecutiveFailures is the number of consecutive copy
	// failures before the breaker trips open.
	DefaultConsecutiveFailures = 3

	// DefaultOpenTimeout is how long the breaker stays open before
	// allowing a single probe request through (half-open).
	DefaultOpenTimeout = 5 * time.Minute
)

// New builds a circuit breaker named after a sync pair, tripping after
// DefaultConsecutiveFailures consecutive failures and logging every
// state transition at klog.Infof, the way the donor's per-volume breaker
// logged attach/detach storms.
func New(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     DefaultOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= DefaultConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			klog.Infof("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
}

// IsOpenError reports whether err is one of gobreaker's two rejection
// sentinels (circuit open, or half-open with a probe already in
// flight), the two cases a caller should fold into its own failure
// accounting rather than treating as a fresh per-file error.
func IsOpenError(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
