package dcb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectionsConfig configures the Projection Daemon (§4.8). It is
// validated once, at construction time, never at runtime.
type ProjectionsConfig struct {
	PollingInterval       time.Duration `yaml:"polling_interval"`
	BatchSize             int           `yaml:"batch_size"`
	MaxConcurrentRebuilds int           `yaml:"max_concurrent_rebuilds"`
	EnableAutoRebuild     bool          `yaml:"enable_auto_rebuild"`
}

// DefaultProjectionsConfig returns the daemon defaults named in spec §4.8.
func DefaultProjectionsConfig() ProjectionsConfig {
	return ProjectionsConfig{
		PollingInterval:       500 * time.Millisecond,
		BatchSize:             1000,
		MaxConcurrentRebuilds: 4,
		EnableAutoRebuild:     false,
	}
}

// Validate enforces the ranges spec §4.8 names. It never mutates the
// receiver — callers should apply DefaultProjectionsConfig() first and
// only override the fields they care about.
func (c ProjectionsConfig) Validate() error {
	if c.PollingInterval < 100*time.Millisecond || c.PollingInterval > time.Hour {
		return &ConfigurationError{
			EventStoreError: EventStoreError{Op: "ProjectionsConfig.Validate", Err: fmt.Errorf("polling_interval must be within [100ms, 1h], got %s", c.PollingInterval)},
			Field:           "polling_interval",
			Value:           c.PollingInterval.String(),
		}
	}
	if c.BatchSize < 1 || c.BatchSize > 100_000 {
		return &ConfigurationError{
			EventStoreError: EventStoreError{Op: "ProjectionsConfig.Validate", Err: fmt.Errorf("batch_size must be within [1, 100000], got %d", c.BatchSize)},
			Field:           "batch_size",
			Value:           fmt.Sprintf("%d", c.BatchSize),
		}
	}
	if c.MaxConcurrentRebuilds < 1 || c.MaxConcurrentRebuilds > 64 {
		return &ConfigurationError{
			EventStoreError: EventStoreError{Op: "ProjectionsConfig.Validate", Err: fmt.Errorf("max_concurrent_rebuilds must be within [1, 64], got %d", c.MaxConcurrentRebuilds)},
			Field:           "max_concurrent_rebuilds",
			Value:           fmt.Sprintf("%d", c.MaxConcurrentRebuilds),
		}
	}
	return nil
}

// StoreConfig enumerates the configuration knobs of spec §6.
type StoreConfig struct {
	RootPath               string            `yaml:"root_path"`
	StoreName              string            `yaml:"store_name"`
	FlushEventsImmediately bool              `yaml:"flush_events_immediately"`
	WriteProtectEventFiles bool              `yaml:"write_protect_event_files"`
	Projections            ProjectionsConfig `yaml:"projections"`
}

// LoadStoreConfig reads and validates a StoreConfig from a YAML file.
// Projections fields left at their zero value are defaulted before
// validation, matching the teacher's zero-value-sniffing constructor
// style (constructors.go's newEventStore).
func LoadStoreConfig(path string) (StoreConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StoreConfig{}, &ConfigurationError{
			EventStoreError: EventStoreError{Op: "LoadStoreConfig", Err: fmt.Errorf("reading %s: %w", path, err)},
			Field:           "path",
			Value:           path,
		}
	}
	var cfg StoreConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return StoreConfig{}, &ConfigurationError{
			EventStoreError: EventStoreError{Op: "LoadStoreConfig", Err: fmt.Errorf("parsing %s: %w", path, err)},
			Field:           "yaml",
			Value:           path,
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return StoreConfig{}, err
	}
	return cfg, nil
}

func (c *StoreConfig) applyDefaults() {
	if c.Projections.PollingInterval == 0 && c.Projections.BatchSize == 0 && c.Projections.MaxConcurrentRebuilds == 0 {
		c.Projections = DefaultProjectionsConfig()
		return
	}
	if c.Projections.PollingInterval == 0 {
		c.Projections.PollingInterval = DefaultProjectionsConfig().PollingInterval
	}
	if c.Projections.BatchSize == 0 {
		c.Projections.BatchSize = DefaultProjectionsConfig().BatchSize
	}
	if c.Projections.MaxConcurrentRebuilds == 0 {
		c.Projections.MaxConcurrentRebuilds = DefaultProjectionsConfig().MaxConcurrentRebuilds
	}
}

// Validate enforces §6's knobs: root_path absolute, store_name non-empty,
// and the nested Projections config.
func (c StoreConfig) Validate() error {
	if c.RootPath == "" || !filepath.IsAbs(c.RootPath) {
		return &ConfigurationError{
			EventStoreError: EventStoreError{Op: "StoreConfig.Validate", Err: fmt.Errorf("root_path must be an absolute path, got %q", c.RootPath)},
			Field:           "root_path",
			Value:           c.RootPath,
		}
	}
	if c.StoreName == "" {
		return &ConfigurationError{
			EventStoreError: EventStoreError{Op: "StoreConfig.Validate", Err: fmt.Errorf("store_name must not be empty")},
			Field:           "store_name",
		}
	}
	return c.Projections.Validate()
}

// =============================================================================
// Process-wide store-name singleton (spec §6: "exactly one store name per
// process instance").
// =============================================================================

var (
	configuredStoreMu   sync.Mutex
	configuredStoreName string
	configuredStoreSet  bool
)

// claimStoreName registers name as the process's single configured store.
// A second attempt to configure a different store name in the same
// process fails at configuration time, per spec §6.
func claimStoreName(name string) error {
	configuredStoreMu.Lock()
	defer configuredStoreMu.Unlock()
	if configuredStoreSet && configuredStoreName != name {
		return &ConfigurationError{
			EventStoreError: EventStoreError{Op: "claimStoreName", Err: fmt.Errorf("process already configured with store %q, cannot also configure %q", configuredStoreName, name)},
			Field:           "store_name",
			Value:           name,
		}
	}
	configuredStoreName = name
	configuredStoreSet = true
	return nil
}

// resetStoreNameSingleton clears the process-wide store claim. It exists
// only for tests, which otherwise could not construct more than one store
// per test binary.
func resetStoreNameSingleton() {
	configuredStoreMu.Lock()
	defer configuredStoreMu.Unlock()
	configuredStoreSet = false
	configuredStoreName = ""
}
