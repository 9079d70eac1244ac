// Package observability provides Prometheus metrics and structured
// progress logging for the hot-plug volume sync core.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/srvlab/hotsync/pkg/mirror"
	"github.com/srvlab/hotsync/pkg/syncerr"
)

// namespace is the Prometheus metric namespace prefix for all hotsync
// metrics.
const namespace = "hotsync"

// Metrics holds all Prometheus metrics for the sync core. A GaugeFunc
// reads live values out of a GlobalProgress snapshot on every scrape,
// rather than being pushed to, mirroring the donor's
// SetAttachmentManager/nvme_connections_active pattern.
type Metrics struct {
	registry *prometheus.Registry

	syncErrorsTotal    *prometheus.CounterVec
	copiesCompleted    prometheus.Counter
	milestonesReported *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all fixed (non-progress)
// metrics registered. Uses a custom registry, not prometheus.DefaultRegisterer,
// so repeated construction (e.g. in tests) never panics on double
// registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		syncErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_errors_total",
				Help:      "Total number of errors delivered to an engine's error callback, by kind",
			},
			[]string{"kind"},
		),

		copiesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "copies_completed_total",
			Help:      "Total number of IME.Sync calls that reached CopyComplete",
		}),

		milestonesReported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "milestones_total",
				Help:      "Total number of progress milestones reported, by milestone",
			},
			[]string{"milestone"},
		),
	}

	reg.MustRegister(
		m.syncErrorsTotal,
		m.copiesCompleted,
		m.milestonesReported,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// WatchProgress registers GaugeFuncs mirroring every TIDSF bucket of
// progress.Files and progress.Bytes under the given sync pair label.
// Must be called once per Engine after construction, the way
// SetAttachmentManager wires a live callback in after the manager
// exists. A later call with the same pairLabel replaces the earlier
// call's gauges.
func (m *Metrics) WatchProgress(pairLabel string, progress *mirror.GlobalProgress) {
	register := func(unit, bucket string, read func(mirror.Snapshot) int64, snap func() mirror.Snapshot) {
		g := prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "progress_" + unit,
				Help:        "Current IME progress counter value",
				ConstLabels: prometheus.Labels{"pair": pairLabel, "bucket": bucket},
			},
			func() float64 { return float64(read(snap())) },
		)
		m.registry.Unregister(g)
		m.registry.MustRegister(g)
	}

	buckets := []struct {
		name string
		read func(mirror.Snapshot) int64
	}{
		{"total", func(s mirror.Snapshot) int64 { return s.Total }},
		{"in_progress", func(s mirror.Snapshot) int64 { return s.InProgress }},
		{"done", func(s mirror.Snapshot) int64 { return s.Done }},
		{"skipped", func(s mirror.Snapshot) int64 { return s.Skipped }},
		{"failed", func(s mirror.Snapshot) int64 { return s.Failed }},
	}

	for _, b := range buckets {
		register("files", b.name, b.read, progress.Files.Snapshot)
		register("bytes", b.name, b.read, progress.Bytes.Snapshot)
	}
}

// RecordError increments sync_errors_total for the error's dynamic type
// name, the way RecordVolumeOp buckets by a status string.
func (m *Metrics) RecordError(kind string) {
	m.syncErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordMilestone increments milestones_total and, for CopyComplete,
// copies_completed_total.
func (m *Metrics) RecordMilestone(ms mirror.Milestone) {
	m.milestonesReported.WithLabelValues(ms.String()).Inc()
	if ms == mirror.CopyComplete {
		m.copiesCompleted.Inc()
	}
}

// ProgressLogger returns a mirror.ProgressFunc that logs milestone
// transitions at klog.V(2) and per-tick totals at klog.V(4), the
// verbosity split the donor uses between state-change and steady-state
// tracing.
func ProgressLogger(pairLabel string) mirror.ProgressFunc {
	return func(snap *mirror.GlobalProgress, milestone *mirror.Milestone) {
		if milestone != nil {
			klog.V(2).Infof("sync[%s]: milestone %s (files done=%d failed=%d)",
				pairLabel, milestone.String(), snap.Files.Snapshot().Done, snap.Files.Snapshot().Failed)
			return
		}
		files := snap.Files.Snapshot()
		bytes := snap.Bytes.Snapshot()
		klog.V(4).Infof("sync[%s]: files %d/%d done, %d failed; bytes %d/%d done",
			pairLabel, files.Done, files.Total, files.Failed, bytes.Done, bytes.Total)
	}
}

// ErrorLogger returns a mirror.ErrorFunc that logs at klog.Errorf and
// records the error's kind into the given Metrics, composing logging and
// metrics the way the driver's event recorder and metrics recorder are
// both invoked from the same call site.
func ErrorLogger(pairLabel string, m *Metrics) mirror.ErrorFunc {
	return func(err error) {
		klog.Errorf("sync[%s]: %v", pairLabel, err)
		if m != nil {
			m.RecordError(errorKind(err))
		}
	}
}

// errorKind labels an error for the sync_errors_total counter by its
// concrete type, matching the syncerr taxonomy's StatFailed/CopyFailed/
// ShortCopy/JoinError/SyscallFailed/Win32Error structs.
func errorKind(err error) string {
	switch err.(type) {
	case *syncerr.StatFailedError:
		return "stat_failed"
	case *syncerr.CopyFailedError:
		return "copy_failed"
	case *syncerr.ShortCopyError:
		return "short_copy"
	case *syncerr.JoinError:
		return "join_error"
	case *syncerr.SyscallFailedError:
		return "syscall_failed"
	case *syncerr.Win32Error:
		return "win32_error"
	default:
		return "other"
	}
}
