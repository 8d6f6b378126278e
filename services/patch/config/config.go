// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates patch cache configuration.
//
// Configuration is read from YAML (.yaml, .yml) or TOML (.toml) on top of
// DefaultConfig, so a file only needs the settings it changes:
//
//	diff:
//	  timeout: 10s
//	  merge_strategy: resolve
//	intraline:
//	  enabled: false
//	cache:
//	  directory: /var/cache/patchcache
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/patchcache/services/patch/telemetry"
	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxFileSize is the largest configuration file accepted (1MB).
const MaxFileSize = 1024 * 1024

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "PATCHCACHE_CONFIG"

var (
	// ErrFileTooLarge is returned for files above MaxFileSize.
	ErrFileTooLarge = errors.New("config file too large")

	// ErrUnsupportedFormat is returned for unknown file extensions.
	ErrUnsupportedFormat = errors.New("unsupported config format")

	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("invalid config")
)

// Config is the complete patch cache configuration.
type Config struct {
	// Repositories locates the projects.
	Repositories RepositoriesConfig `yaml:"repositories" toml:"repositories"`

	// Diff configures patch list computation.
	Diff DiffConfig `yaml:"diff" toml:"diff"`

	// Intraline configures character-level refinement.
	Intraline IntralineConfig `yaml:"intraline" toml:"intraline"`

	// Cache configures the in-memory caches and the persistent tier.
	Cache CacheConfig `yaml:"cache" toml:"cache"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging" toml:"logging"`

	// Telemetry configures tracing and metrics export.
	Telemetry telemetry.Config `yaml:"telemetry" toml:"telemetry"`

	// Server configures the admin HTTP server.
	Server ServerConfig `yaml:"server" toml:"server"`
}

// RepositoriesConfig locates repositories by project name.
type RepositoriesConfig struct {
	// BasePath holds one repository per project, as "<project>" or
	// "<project>.git".
	BasePath string `yaml:"base_path" toml:"base_path" validate:"required"`
}

// DiffConfig configures patch list computation.
type DiffConfig struct {
	// Timeout bounds one file diff before the fallback-free retry.
	Timeout time.Duration `yaml:"timeout" toml:"timeout" validate:"gt=0"`

	// HeaderWorkers caps concurrent file diffs. Zero means GOMAXPROCS.
	HeaderWorkers int `yaml:"header_workers" toml:"header_workers" validate:"gte=0"`

	// MaxObjectSize rejects larger blobs. Zero disables the limit.
	MaxObjectSize int64 `yaml:"max_object_size" toml:"max_object_size" validate:"gte=0"`

	// MergeStrategy combines merge bases: "recursive" or "resolve".
	MergeStrategy string `yaml:"merge_strategy" toml:"merge_strategy" validate:"oneof=recursive resolve"`

	// CacheAutoMerge stores auto-merge commits in the repository.
	CacheAutoMerge bool `yaml:"cache_automerge" toml:"cache_automerge"`

	// RenameScore is the minimum rename similarity in percent.
	RenameScore int `yaml:"rename_score" toml:"rename_score" validate:"gte=0,lte=100"`
}

// IntralineConfig configures character-level refinement.
type IntralineConfig struct {
	// Enabled turns refinement on.
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Timeout is how long a caller waits for a worker.
	Timeout time.Duration `yaml:"timeout" toml:"timeout" validate:"gt=0"`

	// MaxIdleWorkers is the configured idle cap.
	MaxIdleWorkers int `yaml:"max_idle_workers" toml:"max_idle_workers" validate:"gte=0"`

	// Fuel is the step budget per request. Zero means unlimited.
	Fuel int64 `yaml:"fuel" toml:"fuel" validate:"gte=0"`
}

// CacheConfig configures the caches.
type CacheConfig struct {
	// Directory is the persistent tier location.
	Directory string `yaml:"directory" toml:"directory" validate:"required_if=Persist true"`

	// Persist enables the persistent tier.
	Persist bool `yaml:"persist" toml:"persist"`

	// PatchListMemory bounds the patch list cache in bytes.
	PatchListMemory int64 `yaml:"patch_list_memory" toml:"patch_list_memory" validate:"gt=0"`

	// IntralineMemory bounds the intraline cache in bytes.
	IntralineMemory int64 `yaml:"intraline_memory" toml:"intraline_memory" validate:"gt=0"`

	// SummaryMemory bounds the diff summary cache in bytes.
	SummaryMemory int64 `yaml:"summary_memory" toml:"summary_memory" validate:"gt=0"`

	// ErrorTTL bounds how long remembered failures are served.
	ErrorTTL time.Duration `yaml:"error_ttl" toml:"error_ttl" validate:"gte=0"`

	// EntryTTL expires persisted entries. Zero keeps them.
	EntryTTL time.Duration `yaml:"entry_ttl" toml:"entry_ttl" validate:"gte=0"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" toml:"level" validate:"oneof=debug info warn warning error"`

	// Format is auto, text or json.
	Format string `yaml:"format" toml:"format" validate:"oneof=auto text json"`

	// Dir enables file logging.
	Dir string `yaml:"dir" toml:"dir"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	// Listen is the host:port to bind.
	Listen string `yaml:"listen" toml:"listen" validate:"hostname_port"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" validate:"gt=0"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Repositories: RepositoriesConfig{BasePath: "."},
		Diff: DiffConfig{
			Timeout:        5 * time.Second,
			MergeStrategy:  "recursive",
			CacheAutoMerge: true,
			RenameScore:    60,
		},
		Intraline: IntralineConfig{
			Enabled: true,
			Timeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			PatchListMemory: 10 << 20,
			IntralineMemory: 10 << 20,
			SummaryMemory:   10 << 20,
			ErrorTTL:        time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Telemetry: telemetry.DefaultConfig(),
		Server: ServerConfig{
			Listen:          "127.0.0.1:8086",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Load reads a configuration file over DefaultConfig and validates it.
//
// Description:
//
//	An empty path falls back to $PATCHCACHE_CONFIG. When neither is set
//	the defaults are returned. The format follows the file extension.
//
// Inputs:
//
//	path - The file to read, or "".
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, cfg.Validate()
	}

	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := Parse(data, filepath.Ext(path), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes data in the format named by ext into cfg. Fields absent
// from data keep their current values.
func Parse(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("unmarshaling YAML: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("unmarshaling TOML: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return data, nil
}
