package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/srvlab/hotsync/internal/buildinfo"
	"github.com/srvlab/hotsync/pkg/config"
	"github.com/srvlab/hotsync/pkg/mirror"
	"github.com/srvlab/hotsync/pkg/notify"
	"github.com/srvlab/hotsync/pkg/observability"
	"github.com/srvlab/hotsync/pkg/volume"
)

var (
	configPath   = flag.String("config", "/etc/hotsync/config.yaml", "Path to the sync-pair configuration file")
	metricsAddr  = flag.String("metrics-address", "", "Address for the Prometheus metrics endpoint, overriding metrics_address in the config file (empty to use the config value)")
	printVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *printVersion {
		fmt.Println(buildinfo.String())
		os.Exit(0)
	}

	klog.Info(buildinfo.String())

	cfg, err := config.Load(*configPath)
	if err != nil {
		klog.Fatalf("loading config %s: %v", *configPath, err)
	}

	if err := notify.PlatformInit(); err != nil {
		klog.Fatalf("platform init: %v", err)
	}

	addr := cfg.MetricsAddress
	if *metricsAddr != "" {
		addr = *metricsAddr
	}

	var metrics *observability.Metrics
	if addr != "" {
		metrics = observability.NewMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			klog.Infof("metrics server listening on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				klog.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	resolver, closeResolver, err := notify.NewMountMgrResolver()
	if err != nil {
		klog.Fatalf("opening mount manager: %v", err)
	}
	defer closeResolver()

	d := &dispatcher{pairs: cfg.SyncPairs, metrics: metrics}

	backend := notify.NewWindowsBackend()
	lister := notify.NewWindowsLister(resolver)
	source := notify.NewSource(backend, lister, resolver, d.spawn)
	defer source.Close()

	initial, err := source.List(context.Background())
	if err != nil {
		klog.Warningf("initial volume list failed: %v", err)
	} else {
		var removableMountpoints []string
		for _, entry := range initial {
			if entry.Mount != nil {
				removableMountpoints = append(removableMountpoints, string(*entry.Mount))
			}
		}
		if err := cfg.ValidateMountSafety(context.Background(), removableMountpoints); err != nil {
			klog.Fatalf("config %s: %v", *configPath, err)
		}
	}

	if err := source.ListSpawn(context.Background()); err != nil {
		klog.Warningf("initial volume list failed: %v", err)
	}

	if err := source.Start(); err != nil {
		klog.Fatalf("starting volume notification source: %v", err)
	}

	stopRelist := make(chan struct{})
	if cfg.ListInterval > 0 {
		go periodicRelist(source, cfg.ListInterval, stopRelist)
	}

	runUntilShutdown(source)
	close(stopRelist)
}

// periodicRelist runs source.ListSpawn on a fixed interval as a defense
// against a missed or coalesced OS notification, stopping when stop is
// closed.
func periodicRelist(source *notify.Source, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := source.ListSpawn(context.Background()); err != nil {
				klog.Warningf("periodic re-list failed: %v", err)
			}
		case <-stop:
			return
		}
	}
}

// dispatcher matches arriving volumes against configured sync pairs and
// starts one Incremental Mirror Engine per match, aggregating every
// matched pair's cancellation under a single abort.Token per volume.
type dispatcher struct {
	pairs   []volume.SyncPair
	metrics *observability.Metrics
}

// spawn is the notify.Source spawner: it decides, for one volume
// arrival, whether any configured sync pair applies and starts its
// mirror work if so.
func (d *dispatcher) spawn(_ context.Context, vol volume.VolumeIdentity, device volume.DeviceIdentity, mount *volume.MountPath) volume.Disposition {
	var matched []volume.SyncPair
	for _, pair := range d.pairs {
		if pair.Matches(vol.Name(), string(device)) {
			matched = append(matched, pair)
		}
	}
	if len(matched) == 0 {
		return volume.Ignore()
	}
	if mount == nil {
		return volume.Skip()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, pair := range matched {
			wg.Add(1)
			go func(pair volume.SyncPair) {
				defer wg.Done()
				d.runPair(ctx, pair, *mount)
			}(pair)
		}
		wg.Wait()
	}()

	return volume.Spawned(&syncTask{cancel: cancel, done: done}, nil)
}

func (d *dispatcher) runPair(ctx context.Context, pair volume.SyncPair, mount volume.MountPath) {
	srcRoot := filepath.Join(string(mount), pair.SrcPath)
	pairLabel := pair.DestPath

	engine, err := mirror.NewEngine(srcRoot, pair.DestPath, pair.Concurrency)
	if err != nil {
		klog.Errorf("sync[%s]: building engine: %v", pairLabel, err)
		return
	}

	if d.metrics != nil {
		d.metrics.WatchProgress(pairLabel, engine.Progress())
	}

	logProgress := observability.ProgressLogger(pairLabel)
	progressFn := logProgress
	if d.metrics != nil {
		progressFn = func(snap *mirror.GlobalProgress, milestone *mirror.Milestone) {
			logProgress(snap, milestone)
			if milestone != nil {
				d.metrics.RecordMilestone(*milestone)
			}
		}
	}
	errorFn := observability.ErrorLogger(pairLabel, d.metrics)

	if err := engine.Sync(ctx, progressFn, errorFn); err != nil {
		klog.Errorf("sync[%s]: %v", pairLabel, err)
	}
}

// syncTask is the abort.Token for one volume's set of matched sync
// pairs: Abort cancels every in-flight engine, Finished reports once
// they have all returned.
type syncTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *syncTask) Abort() { t.cancel() }

func (t *syncTask) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// runUntilShutdown blocks until two SIGINT/SIGTERM signals have been
// received. The first pauses the source, letting in-flight syncs drain;
// the second resets it (aborting everything still running) and returns.
func runUntilShutdown(source *notify.Source) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	klog.Info("shutdown requested: pausing volume notification source")
	if err := source.Pause(); err != nil {
		klog.Warningf("pause failed: %v", err)
	}

	<-sigCh
	klog.Info("second shutdown signal: aborting in-flight syncs")
	if err := source.Reset(); err != nil {
		klog.Warningf("reset failed: %v", err)
	}
}
