// Configuration for the proxy, grouped per concern. Values come from an
// optional YAML file overridden by command-line flags; durations in the file
// use Go duration syntax ("10ms", "30s").

package proxy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Batch policy names accepted in configuration.
const (
	PolicyShortestFirst = "shortest-first"
	PolicyFIFO          = "fifo"
)

// BackendConfig groups outbound call parameters.
type BackendConfig struct {
	URL     string        // classification endpoint, e.g. "http://localhost:8001/classify"
	Timeout time.Duration // per-call timeout
}

// BatchConfig groups batch formation parameters.
type BatchConfig struct {
	MaxSize int    // max sequences per batch; the backend rejects more than 5
	Policy  string // "shortest-first" (default) or "fifo"
}

// DispatchConfig groups dispatcher pacing parameters.
type DispatchConfig struct {
	ThrottleBackoff time.Duration // minimum wait after a backend 429
	MaxWait         time.Duration // force-include a waiter older than this (0 = disabled)
}

// Config is the full proxy configuration.
type Config struct {
	Listen   string // inbound HTTP listen address
	Backend  BackendConfig
	Batch    BatchConfig
	Dispatch DispatchConfig
}

// DefaultConfig returns the configuration the proxy runs with when nothing
// is overridden.
func DefaultConfig() Config {
	return Config{
		Listen: ":8000",
		Backend: BackendConfig{
			URL:     "http://localhost:8001/classify",
			Timeout: 30 * time.Second,
		},
		Batch: BatchConfig{
			MaxSize: MaxBatchSize,
			Policy:  PolicyShortestFirst,
		},
		Dispatch: DispatchConfig{
			ThrottleBackoff: 10 * time.Millisecond,
			MaxWait:         0,
		},
	}
}

// Validate rejects configurations the backend contract cannot honor.
func (c Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend url must be set")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive, got %v", c.Backend.Timeout)
	}
	if c.Batch.MaxSize < 1 || c.Batch.MaxSize > MaxBatchSize {
		return fmt.Errorf("batch max size must be in [1, %d], got %d", MaxBatchSize, c.Batch.MaxSize)
	}
	if _, ok := PolicyByName(c.Batch.Policy); !ok {
		return fmt.Errorf("unknown batch policy %q", c.Batch.Policy)
	}
	if c.Dispatch.ThrottleBackoff <= 0 {
		return fmt.Errorf("throttle backoff must be positive, got %v", c.Dispatch.ThrottleBackoff)
	}
	if c.Dispatch.MaxWait < 0 {
		return fmt.Errorf("max wait must be non-negative, got %v", c.Dispatch.MaxWait)
	}
	return nil
}

// fileConfig is the YAML shape of a config file. Durations are strings so
// files can say "10ms" rather than nanosecond counts.
type fileConfig struct {
	Listen  string `yaml:"listen"`
	Backend struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"backend"`
	Batch struct {
		MaxSize int    `yaml:"max_size"`
		Policy  string `yaml:"policy"`
	} `yaml:"batch"`
	Dispatch struct {
		ThrottleBackoff string `yaml:"throttle_backoff"`
		MaxWait         string `yaml:"max_wait"`
	} `yaml:"dispatch"`
}

// LoadConfig reads a YAML config file and merges it over the defaults.
// Absent fields keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if fc.Listen != "" {
		cfg.Listen = fc.Listen
	}
	if fc.Backend.URL != "" {
		cfg.Backend.URL = fc.Backend.URL
	}
	if err := mergeDuration(&cfg.Backend.Timeout, fc.Backend.Timeout); err != nil {
		return cfg, fmt.Errorf("backend timeout: %w", err)
	}
	if fc.Batch.MaxSize != 0 {
		cfg.Batch.MaxSize = fc.Batch.MaxSize
	}
	if fc.Batch.Policy != "" {
		cfg.Batch.Policy = fc.Batch.Policy
	}
	if err := mergeDuration(&cfg.Dispatch.ThrottleBackoff, fc.Dispatch.ThrottleBackoff); err != nil {
		return cfg, fmt.Errorf("throttle backoff: %w", err)
	}
	if err := mergeDuration(&cfg.Dispatch.MaxWait, fc.Dispatch.MaxWait); err != nil {
		return cfg, fmt.Errorf("max wait: %w", err)
	}

	return cfg, cfg.Validate()
}

func mergeDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
