// Package config provides unified configuration for the Rangekeeper service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rangekeeper/rangekeeper/pkg/types"
)

// Mode represents the service mode to run.
type Mode string

const (
	// ModeAll runs the admin API and the maintenance daemon.
	ModeAll Mode = "all"
	// ModeServe runs only the admin API.
	ModeServe Mode = "serve"
	// ModeMaintain runs only the maintenance daemon.
	ModeMaintain Mode = "maintain"
)

// Config holds the unified configuration for the Rangekeeper service.
type Config struct {
	// Mode specifies which services to run: all, serve, maintain
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Keyspace configuration
	Keyspace KeyspaceConfig `json:"keyspace" yaml:"keyspace"`

	// Frontier configuration
	Frontier FrontierConfig `json:"frontier" yaml:"frontier"`

	// Retention configuration
	Retention RetentionConfig `json:"retention" yaml:"retention"`

	// Archive configuration
	Archive ArchiveConfig `json:"archive" yaml:"archive"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP address for the admin API
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// KeyspaceConfig describes the partition key space.
type KeyspaceConfig struct {
	// Unit is the partition period granularity: day or month
	Unit types.PeriodUnit `json:"unit" yaml:"unit"`

	// Origin is the lower bound of the key space (YYYY-MM-DD). The overflow
	// partition initially spans [origin, +inf).
	Origin string `json:"origin" yaml:"origin"`

	// OverflowName is the name of the always-present overflow partition
	OverflowName string `json:"overflow_name" yaml:"overflow_name"`
}

// FrontierConfig holds frontier advancement configuration.
type FrontierConfig struct {
	// LookaheadPeriods is how many periods ahead of now to keep bounded
	LookaheadPeriods int `json:"lookahead_periods" yaml:"lookahead_periods"`

	// CheckInterval is how often the daemon runs a maintenance cycle
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`
}

// RetentionConfig holds retention enforcement configuration.
type RetentionConfig struct {
	// Enabled controls whether the daemon applies retention
	Enabled bool `json:"enabled" yaml:"enabled"`

	// HorizonUnits is how many trailing units of history to keep
	HorizonUnits int `json:"horizon_units" yaml:"horizon_units"`

	// Unit is the period unit of the horizon: day or month
	Unit types.PeriodUnit `json:"unit" yaml:"unit"`
}

// ArchiveConfig holds change-archive configuration.
type ArchiveConfig struct {
	// Enabled controls whether change events are archived to object storage
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Type is the storage backend: local or s3
	Type string `json:"type" yaml:"type"`

	// Path is the base directory for local archive storage
	Path string `json:"path" yaml:"path"`

	// Prefix is the object-path prefix for archive batches
	Prefix string `json:"prefix" yaml:"prefix"`

	// BatchSize is the number of change events per archive object
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// S3 holds S3 backend settings
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 settings for the change archive.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/rangekeeper",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Keyspace: KeyspaceConfig{
			Unit:         types.UnitMonth,
			OverflowName: "p_overflow",
		},
		Frontier: FrontierConfig{
			LookaheadPeriods: 2,
			CheckInterval:    time.Hour,
		},
		Retention: RetentionConfig{
			Enabled:      false,
			HorizonUnits: 12,
			Unit:         types.UnitMonth,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Type:      "local",
			Prefix:    "changes/",
			BatchSize: 64,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/rangekeeper"
	}
	if c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(c.DataDir, "archive")
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "changes/"
	}
	if c.Archive.BatchSize <= 0 {
		c.Archive.BatchSize = 64
	}
}

// ManifestPath returns the path to the manifest database.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.DataDir, "manifest.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeServe, ModeMaintain:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be all, serve, or maintain)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if !c.Keyspace.Unit.Valid() {
		return fmt.Errorf("invalid keyspace.unit: %s (must be day or month)", c.Keyspace.Unit)
	}
	if c.Keyspace.OverflowName == "" {
		return fmt.Errorf("keyspace.overflow_name is required")
	}
	if c.Keyspace.Origin != "" {
		if _, err := types.NewTimeKeySpace().Decode(c.Keyspace.Origin); err != nil {
			return fmt.Errorf("invalid keyspace.origin: %w", err)
		}
	}

	if c.Frontier.LookaheadPeriods < 0 {
		return fmt.Errorf("frontier.lookahead_periods must be >= 0, got %d", c.Frontier.LookaheadPeriods)
	}

	if c.Retention.Enabled {
		if c.Retention.HorizonUnits <= 0 {
			return fmt.Errorf("retention.horizon_units must be > 0, got %d", c.Retention.HorizonUnits)
		}
		if !c.Retention.Unit.Valid() {
			return fmt.Errorf("invalid retention.unit: %s (must be day or month)", c.Retention.Unit)
		}
	}

	if c.Archive.Enabled {
		if c.Archive.Type != "local" && c.Archive.Type != "s3" {
			return fmt.Errorf("invalid archive.type: %s (must be local or s3)", c.Archive.Type)
		}
		if c.Archive.Type == "s3" && c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when archive type is s3")
		}
	}

	return nil
}

// RetentionPolicy converts the retention section into a policy value.
func (c *Config) RetentionPolicy() types.RetentionPolicy {
	if !c.Retention.Enabled {
		return types.RetentionPolicy{}
	}
	return types.RetentionPolicy{Horizon: c.Retention.HorizonUnits, Unit: c.Retention.Unit}
}

// ShouldServe returns true if the admin API should run.
func (c *Config) ShouldServe() bool {
	return c.Mode == ModeAll || c.Mode == ModeServe
}

// ShouldMaintain returns true if the maintenance daemon should run.
func (c *Config) ShouldMaintain() bool {
	return c.Mode == ModeAll || c.Mode == ModeMaintain
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the RANGEKEEPER_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("RANGEKEEPER_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("RANGEKEEPER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("RANGEKEEPER_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// Keyspace configuration
	if v := os.Getenv("RANGEKEEPER_KEYSPACE_UNIT"); v != "" {
		cfg.Keyspace.Unit = types.PeriodUnit(v)
	}
	if v := os.Getenv("RANGEKEEPER_KEYSPACE_ORIGIN"); v != "" {
		cfg.Keyspace.Origin = v
	}
	if v := os.Getenv("RANGEKEEPER_OVERFLOW_NAME"); v != "" {
		cfg.Keyspace.OverflowName = v
	}

	// Frontier configuration
	if v := os.Getenv("RANGEKEEPER_FRONTIER_LOOKAHEAD"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Frontier.LookaheadPeriods)
	}
	if v := os.Getenv("RANGEKEEPER_FRONTIER_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Frontier.CheckInterval = d
		}
	}

	// Retention configuration
	if v := os.Getenv("RANGEKEEPER_RETENTION_ENABLED"); v != "" {
		cfg.Retention.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RANGEKEEPER_RETENTION_HORIZON"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Retention.HorizonUnits)
	}
	if v := os.Getenv("RANGEKEEPER_RETENTION_UNIT"); v != "" {
		cfg.Retention.Unit = types.PeriodUnit(v)
	}

	// Archive configuration
	if v := os.Getenv("RANGEKEEPER_ARCHIVE_ENABLED"); v != "" {
		cfg.Archive.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RANGEKEEPER_ARCHIVE_TYPE"); v != "" {
		cfg.Archive.Type = v
	}
	if v := os.Getenv("RANGEKEEPER_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("RANGEKEEPER_S3_BUCKET"); v != "" {
		cfg.Archive.S3.Bucket = v
	}
	if v := os.Getenv("RANGEKEEPER_S3_REGION"); v != "" {
		cfg.Archive.S3.Region = v
	}
	if v := os.Getenv("RANGEKEEPER_S3_ENDPOINT"); v != "" {
		cfg.Archive.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Archive.Enabled && c.Archive.Type == "local" {
		dirs = append(dirs, c.Archive.Path)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
