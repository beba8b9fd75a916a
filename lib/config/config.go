// Copyright 2026 The Drover Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML config fields accept the
// human-readable forms time.ParseDuration accepts: "500ms", "2s",
// "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the worker configuration.
type Config struct {
	// Coordinator configures how the worker reaches the coordinator.
	Coordinator CoordinatorConfig `yaml:"coordinator"`

	// Staging configures local scratch storage.
	Staging StagingConfig `yaml:"staging"`

	// Delivery configures the flush cadence and limits of the
	// delivery channel.
	Delivery DeliveryConfig `yaml:"delivery"`
}

// CoordinatorConfig configures the coordinator client.
type CoordinatorConfig struct {
	// URL is the coordinator's base URL.
	URL string `yaml:"url"`

	// TokenPath is the file holding the bearer token presented on
	// every request. Read once at client construction.
	TokenPath string `yaml:"token_path"`

	// RequestTimeout bounds each individual HTTP request. Uploads of
	// large log pages and artifacts count against it.
	// Default: 60s
	RequestTimeout Duration `yaml:"request_timeout"`
}

// StagingConfig configures local scratch storage.
type StagingConfig struct {
	// Root is the directory where log pages are staged before
	// upload. Pages are deleted after a successful upload.
	Root string `yaml:"root"`
}

// DeliveryConfig configures the delivery channel.
type DeliveryConfig struct {
	// ConsoleFlushInterval is the delay between console line
	// flushes. Console lines are the most latency-sensitive
	// telemetry, so this is the shortest interval.
	// Default: 500ms
	ConsoleFlushInterval Duration `yaml:"console_flush_interval"`

	// LogFlushInterval is the delay between log page flushes.
	// Default: 1s
	LogFlushInterval Duration `yaml:"log_flush_interval"`

	// TimelineFlushInterval is the delay between timeline record
	// flushes. Record updates coalesce within the window, so this is
	// the longest interval.
	// Default: 2s
	TimelineFlushInterval Duration `yaml:"timeline_flush_interval"`

	// LeaseInterval is the delay between job lease renewals.
	// Default: 60s
	LeaseInterval Duration `yaml:"lease_interval"`

	// IssueCap is the most errors-plus-warnings kept per timeline
	// record. Issues beyond the cap still count toward the record's
	// totals but their messages are dropped.
	// Default: 10
	IssueCap int `yaml:"issue_cap"`

	// PageSizeBytes is the byte threshold at which a log page is cut
	// and queued for upload. Pages cut on line boundaries, so actual
	// pages run slightly over.
	// Default: 1048576 (1 MiB)
	PageSizeBytes int `yaml:"page_size_bytes"`
}

// Default returns the default configuration. Defaults exist so every
// field has a sensible value before the config file is merged in; the
// config file itself is still required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "drover")

	return &Config{
		Coordinator: CoordinatorConfig{
			RequestTimeout: Duration(60 * time.Second),
		},
		Staging: StagingConfig{
			Root: filepath.Join(defaultRoot, "staging"),
		},
		Delivery: DeliveryConfig{
			ConsoleFlushInterval:  Duration(500 * time.Millisecond),
			LogFlushInterval:      Duration(time.Second),
			TimelineFlushInterval: Duration(2 * time.Second),
			LeaseInterval:         Duration(60 * time.Second),
			IssueCap:              10,
			PageSizeBytes:         1 << 20,
		},
	}
}

// Load loads configuration from the DROVER_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit
// path. There are no fallbacks or defaults: if DROVER_CONFIG is not
// set, Load fails. This keeps configuration deterministic and
// auditable with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("DROVER_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("DROVER_CONFIG environment variable not set; " +
			"set it to the path of your drover.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment
// variables do not override config values. The only expansion
// performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()

	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Staging.Root = expandVars(c.Staging.Root, vars)
	vars["DROVER_STAGING"] = c.Staging.Root

	c.Coordinator.TokenPath = expandVars(c.Coordinator.TokenPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Coordinator.URL == "" {
		errs = append(errs, fmt.Errorf("coordinator.url is required"))
	}
	if c.Coordinator.TokenPath == "" {
		errs = append(errs, fmt.Errorf("coordinator.token_path is required"))
	}
	if c.Coordinator.RequestTimeout.Std() <= 0 {
		errs = append(errs, fmt.Errorf("coordinator.request_timeout must be positive"))
	}

	if c.Staging.Root == "" {
		errs = append(errs, fmt.Errorf("staging.root is required"))
	}

	intervals := []struct {
		name  string
		value Duration
	}{
		{"delivery.console_flush_interval", c.Delivery.ConsoleFlushInterval},
		{"delivery.log_flush_interval", c.Delivery.LogFlushInterval},
		{"delivery.timeline_flush_interval", c.Delivery.TimelineFlushInterval},
		{"delivery.lease_interval", c.Delivery.LeaseInterval},
	}
	for _, interval := range intervals {
		if interval.value.Std() <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", interval.name))
		}
	}

	if c.Delivery.IssueCap < 1 {
		errs = append(errs, fmt.Errorf("delivery.issue_cap must be at least 1, got %d", c.Delivery.IssueCap))
	}
	if c.Delivery.PageSizeBytes < 4096 {
		errs = append(errs, fmt.Errorf("delivery.page_size_bytes must be at least 4096, got %d", c.Delivery.PageSizeBytes))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured scratch directories if they
// don't exist.
func (c *Config) EnsurePaths() error {
	if c.Staging.Root == "" {
		return nil
	}
	if err := os.MkdirAll(c.Staging.Root, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Staging.Root, err)
	}
	return nil
}
