// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration consumed by the routing core. It is
// supplied by an external loader (file plus environment overrides); the
// core only validates and snapshots it.
type Config struct {
	Policy   PolicyConfig   `yaml:"policy"`
	Backends []Backend      `yaml:"backends"`
	Store    StoreConfig    `yaml:"store"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Cooldown CooldownConfig `yaml:"cooldown"`
}

// PolicyConfig is the file representation of Policy, with durations in
// milliseconds for readability.
type PolicyConfig struct {
	DefaultProvider    string  `yaml:"default_provider"`
	CostThreshold      float64 `yaml:"cost_threshold"`
	LatencyThresholdMs int     `yaml:"latency_threshold_ms"`
	FailureRateCeiling float64 `yaml:"failure_rate_ceiling"`
	MaxAttempts        int     `yaml:"max_attempts"`
	AttemptTimeoutMs   int     `yaml:"attempt_timeout_ms"`
	BackoffBaseMs      int     `yaml:"backoff_base_ms"`
	BackoffCapMs       int     `yaml:"backoff_cap_ms"`
	DefaultDeadlineMs  int     `yaml:"default_deadline_ms"`
	CostWeight         float64 `yaml:"cost_weight"`
	LatencyWeight      float64 `yaml:"latency_weight"`
	MaxConcurrent      int     `yaml:"max_concurrent"`
}

// StoreConfig selects the durable store for routing decisions.
type StoreConfig struct {
	// Driver is "postgres", "mysql" or "mongodb".
	Driver string `yaml:"driver"`

	// DSN is the connection string for the selected driver.
	DSN string `yaml:"dsn"`

	// Database is the database name (mongodb only).
	Database string `yaml:"database"`
}

// ArchiveConfig selects an optional object-storage sink for concluded
// decisions.
type ArchiveConfig struct {
	// Sink is "s3", "gcs", "azure-blob" or empty (archival disabled).
	Sink string `yaml:"sink"`

	// Bucket is the bucket or container name.
	Bucket string `yaml:"bucket"`

	// Region is the cloud region (s3 only).
	Region string `yaml:"region"`

	// AccountURL is the storage account URL (azure-blob only).
	AccountURL string `yaml:"account_url"`

	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`
}

// CooldownConfig enables the optional Redis-backed cross-instance backend
// cooldown.
type CooldownConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	TTLMs     int    `yaml:"ttl_ms"`
}

// Defaults applied when the file omits policy fields.
const (
	defaultMaxAttempts     = 3
	defaultAttemptTimeout  = 5 * time.Second
	defaultBackoffBase     = 100 * time.Millisecond
	defaultBackoffCap      = 2 * time.Second
	defaultOverallDeadline = 30 * time.Second
	defaultFailureCeiling  = 0.9
	defaultScoreWeight     = 0.5
)

// LoadConfigFile reads and validates a YAML configuration file, applying
// environment overrides for the commonly tuned policy knobs:
// DEFAULT_PROVIDER, COST_THRESHOLD, LATENCY_THRESHOLD_MS and MAX_ATTEMPTS.
func LoadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("read %s: %v", path, err)}
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("parse %s: %v", path, err)}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEFAULT_PROVIDER"); v != "" {
		cfg.Policy.DefaultProvider = v
	}
	if v := os.Getenv("COST_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.CostThreshold = f
		}
	}
	if v := os.Getenv("LATENCY_THRESHOLD_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Policy.LatencyThresholdMs = n
		}
	}
	if v := os.Getenv("MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Policy.MaxAttempts = n
		}
	}
}

// Validate checks the configuration for startup-blocking problems.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return &ConfigError{Field: "backends", Message: "at least one backend must be registered"}
	}
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.ID == "" {
			return &ConfigError{Field: fmt.Sprintf("backends[%d].id", i), Message: "backend id is required"}
		}
		if seen[b.ID] {
			return &ConfigError{Field: fmt.Sprintf("backends[%d].id", i), Message: fmt.Sprintf("duplicate backend id %q", b.ID)}
		}
		seen[b.ID] = true
		if b.Kind == "" {
			return &ConfigError{Field: fmt.Sprintf("backends[%d].kind", i), Message: "backend kind is required"}
		}
		if b.Endpoint == "" {
			return &ConfigError{Field: fmt.Sprintf("backends[%d].endpoint", i), Message: "backend endpoint is required"}
		}
		if b.CostPerInvocation < 0 {
			return &ConfigError{Field: fmt.Sprintf("backends[%d].cost_per_invocation", i), Message: "cost must not be negative"}
		}
	}
	if c.Policy.DefaultProvider != "" && !seen[c.Policy.DefaultProvider] {
		return &ConfigError{Field: "policy.default_provider", Message: fmt.Sprintf("unknown backend %q", c.Policy.DefaultProvider)}
	}
	if c.Policy.FailureRateCeiling < 0 || c.Policy.FailureRateCeiling > 1 {
		return &ConfigError{Field: "policy.failure_rate_ceiling", Message: "must be in [0, 1]"}
	}
	if c.Policy.MaxAttempts < 0 {
		return &ConfigError{Field: "policy.max_attempts", Message: "must not be negative"}
	}
	return nil
}

// BuildPolicy converts the file representation into the runtime Policy,
// filling defaults for omitted fields.
func (c *Config) BuildPolicy() Policy {
	p := Policy{
		DefaultProvider:    c.Policy.DefaultProvider,
		CostThreshold:      c.Policy.CostThreshold,
		LatencyThreshold:   time.Duration(c.Policy.LatencyThresholdMs) * time.Millisecond,
		FailureRateCeiling: c.Policy.FailureRateCeiling,
		MaxAttempts:        c.Policy.MaxAttempts,
		AttemptTimeout:     time.Duration(c.Policy.AttemptTimeoutMs) * time.Millisecond,
		BackoffBase:        time.Duration(c.Policy.BackoffBaseMs) * time.Millisecond,
		BackoffCap:         time.Duration(c.Policy.BackoffCapMs) * time.Millisecond,
		DefaultDeadline:    time.Duration(c.Policy.DefaultDeadlineMs) * time.Millisecond,
		CostWeight:         c.Policy.CostWeight,
		LatencyWeight:      c.Policy.LatencyWeight,
		MaxConcurrent:      c.Policy.MaxConcurrent,
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.AttemptTimeout == 0 {
		p.AttemptTimeout = defaultAttemptTimeout
	}
	if p.BackoffBase == 0 {
		p.BackoffBase = defaultBackoffBase
	}
	if p.BackoffCap == 0 {
		p.BackoffCap = defaultBackoffCap
	}
	if p.DefaultDeadline == 0 {
		p.DefaultDeadline = defaultOverallDeadline
	}
	if p.FailureRateCeiling == 0 {
		p.FailureRateCeiling = defaultFailureCeiling
	}
	if p.CostWeight == 0 && p.LatencyWeight == 0 {
		p.CostWeight = defaultScoreWeight
		p.LatencyWeight = defaultScoreWeight
	}
	return p
}

// Snapshot is one immutable (Policy, backend registry) pair. Readers always
// see either the fully-old or fully-new snapshot; a request pins the
// snapshot it acquired at the start for its entire execution.
type Snapshot struct {
	Policy   Policy
	Backends []Backend
	Store    StoreConfig
	Archive  ArchiveConfig
	Cooldown CooldownConfig

	byID map[string]*Backend
}

// Backend looks up a backend by ID within this snapshot.
func (s *Snapshot) Backend(id string) (*Backend, bool) {
	b, ok := s.byID[id]
	return b, ok
}

func newSnapshot(cfg *Config) *Snapshot {
	snap := &Snapshot{
		Policy:   cfg.BuildPolicy(),
		Backends: make([]Backend, len(cfg.Backends)),
		Store:    cfg.Store,
		Archive:  cfg.Archive,
		Cooldown: cfg.Cooldown,
		byID:     make(map[string]*Backend, len(cfg.Backends)),
	}
	copy(snap.Backends, cfg.Backends)
	for i := range snap.Backends {
		snap.byID[snap.Backends[i].ID] = &snap.Backends[i]
	}
	return snap
}

// ConfigStore holds the current snapshot behind a single atomically
// swappable pointer and supports hot reload from the configuration file.
type ConfigStore struct {
	path    string
	current atomic.Pointer[Snapshot]
}

// NewConfigStore loads the configuration file and publishes the initial
// snapshot. A load or validation failure here blocks service start.
func NewConfigStore(path string) (*ConfigStore, error) {
	s := &ConfigStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewConfigStoreFromConfig builds a store around an already-validated
// configuration. Used by tests and embedded setups.
func NewConfigStoreFromConfig(cfg *Config) (*ConfigStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &ConfigStore{}
	s.current.Store(newSnapshot(cfg))
	return s, nil
}

// Snapshot returns the current immutable snapshot.
func (s *ConfigStore) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reload re-reads the configuration file, builds the new snapshot fully,
// and publishes it atomically. In-flight requests keep the snapshot they
// started with. On any error the previous snapshot stays published.
func (s *ConfigStore) Reload() error {
	if s.path == "" {
		return &ConfigError{Message: "config store has no file path to reload from"}
	}
	cfg, err := LoadConfigFile(s.path)
	if err != nil {
		return err
	}
	s.current.Store(newSnapshot(cfg))
	return nil
}
