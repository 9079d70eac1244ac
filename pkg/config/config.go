// Package config loads and validates the YAML sync-pair configuration
// file for hotsyncd, in the same config-struct-plus-constructor idiom
// driver.DriverConfig uses for the CSI driver.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srvlab/hotsync/pkg/volume"
)

// Config is the top-level shape of the YAML configuration file.
type Config struct {
	// SyncPairs lists every source volume match and its destination.
	SyncPairs []volume.SyncPair `yaml:"sync_pairs"`

	// MetricsAddress is the address the Prometheus HTTP handler listens
	// on, e.g. ":9102". Empty disables the metrics server.
	MetricsAddress string `yaml:"metrics_address"`

	// ListInterval governs how often a full List+spawn re-scan runs in
	// addition to the event-driven path, as a defense against a missed
	// or coalesced OS notification. Load replaces an omitted or zero
	// value with DefaultListInterval; a negative value disables the
	// periodic re-scan.
	ListInterval time.Duration `yaml:"list_interval"`
}

// DefaultListInterval mirrors the donor's conservative default poll
// cadence for features that exist purely as a safety net over an
// event-driven primary path.
const DefaultListInterval = 5 * time.Minute

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	if cfg.ListInterval == 0 {
		cfg.ListInterval = DefaultListInterval
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}

	return &cfg, nil
}

// Validate checks every sync pair individually and rejects duplicate
// destination paths, which would race two mirror engines against the
// same tree.
func (c *Config) Validate() error {
	if len(c.SyncPairs) == 0 {
		return fmt.Errorf("at least one sync pair is required")
	}

	seenDest := make(map[string]struct{}, len(c.SyncPairs))
	for i, pair := range c.SyncPairs {
		if err := pair.Validate(); err != nil {
			return fmt.Errorf("sync_pairs[%d]: %w", i, err)
		}
		if _, dup := seenDest[pair.DestPath]; dup {
			return fmt.Errorf("sync_pairs[%d]: duplicate dest_path %q", i, pair.DestPath)
		}
		seenDest[pair.DestPath] = struct{}{}
	}

	return nil
}
