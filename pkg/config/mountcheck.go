package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/moby/sys/mountinfo"
	"k8s.io/klog/v2"
)

// mountTableTimeout bounds the time spent reading the host mount table,
// mirroring the donor's defense against a corrupted or enormous
// /proc/self/mountinfo hanging startup.
const mountTableTimeout = 5 * time.Second

// ValidateMountSafety checks every configured sync pair's dest_path
// against the currently-mounted removable volumes the caller observed at
// startup (see cmd/hotsyncd, which passes the mount paths the volume
// notification source lists at launch). Call this once the initial
// volume list is known, since the set of removable mountpoints isn't
// available at pure YAML-parse time.
func (c *Config) ValidateMountSafety(ctx context.Context, removableMountpoints []string) error {
	for i, pair := range c.SyncPairs {
		if err := ValidateDestNotOnRemovableMount(ctx, pair.DestPath, removableMountpoints); err != nil {
			return fmt.Errorf("sync_pairs[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateDestNotOnRemovableMount rejects a destination path that is
// itself located under a currently-mounted removable volume: mirroring a
// hot-plugged device into another (or itself) would race the two mirror
// engines against the same files. On platforms with no procfs mount
// table this is a no-op — mountinfo.GetMounts reports that itself as an
// error, which is swallowed rather than failing configuration load.
func ValidateDestNotOnRemovableMount(ctx context.Context, destPath string, removableMountpoints []string) error {
	ctx, cancel := context.WithTimeout(ctx, mountTableTimeout)
	defer cancel()

	type result struct {
		mounts []*mountinfo.Info
		err    error
	}
	resultCh := make(chan result, 1)
	go func() {
		mounts, err := mountinfo.GetMounts(nil)
		resultCh <- result{mounts: mounts, err: err}
	}()

	var mounts []*mountinfo.Info
	select {
	case res := <-resultCh:
		if res.err != nil {
			klog.V(4).Infof("config: skipping removable-mount check for %q: %v", destPath, res.err)
			return nil
		}
		mounts = res.mounts
	case <-ctx.Done():
		klog.Warningf("config: host mount table read timed out after %v, skipping removable-mount check for %q", mountTableTimeout, destPath)
		return nil
	}

	removable := make(map[string]struct{}, len(removableMountpoints))
	for _, m := range removableMountpoints {
		removable[m] = struct{}{}
	}

	for _, m := range mounts {
		if _, ok := removable[m.Mountpoint]; !ok {
			continue
		}
		if m.Mountpoint == destPath || strings.HasPrefix(destPath, m.Mountpoint+"/") {
			return fmt.Errorf("dest_path %q is located under removable mount %q", destPath, m.Mountpoint)
		}
	}

	return nil
}
