// Package config provides NervusDB engine configuration.
//
// Configuration can be loaded from:
//   - Environment variables (recommended for Docker/K8s)
//   - YAML configuration file
//   - Programmatic defaults
//
// Environment Variables:
//
//	NERVUSDB_DATA_DIR              - Directory holding the .ndb/.wal files
//	NERVUSDB_WAL_SYNC              - WAL durability mode: full, batched, none (default: full; see WALSyncMode)
//	NERVUSDB_WAL_BATCH_MS          - Fsync batching interval in ms when WAL_SYNC=batched (default: 5; see WALSyncMode)
//	NERVUSDB_LIMIT_MAX_ROWS        - Runtime guard: max rows per pipeline stage and per correlated-subquery outer row (default: 1000000)
//	NERVUSDB_LIMIT_MAX_EXPANSIONS  - Runtime guard: max items in one collection (range, collect, comprehension) (default: 5000000)
//	NERVUSDB_LIMIT_MAX_DEPTH       - Loaded and validated only; no part of the engine applies it (default: 32)
//	NERVUSDB_LIMIT_TIMEOUT_MS      - Runtime guard: wall-clock query timeout in ms (default: 30000)
//
// Example Docker Usage:
//
//	docker run -e NERVUSDB_DATA_DIR=/data \
//	           -e NERVUSDB_WAL_SYNC=batched \
//	           -v ./graph:/data \
//	           nervusdb/nervusdb
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// WALSyncMode names a WAL durability mode. The mode (and WALBatchMS) is
// loaded and validated here, but pkg/nervusdb does not pass it to the
// storage engine: the engine fsyncs the WAL once at every commit whichever
// mode is set, so batched and none behave like full.
type WALSyncMode string

const (
	// WALSyncFull fsyncs on every commit.
	WALSyncFull WALSyncMode = "full"
	// WALSyncBatched names fsyncs coalesced over WALBatchMS; the storage
	// engine does not implement batching (see WALSyncMode).
	WALSyncBatched WALSyncMode = "batched"
	// WALSyncNone names a mode with no explicit fsync; the storage engine
	// does not implement it (see WALSyncMode).
	WALSyncNone WALSyncMode = "none"
)

// Limits bounds the resources a single query may consume. pkg/nervusdb
// hands MaxRows (as the per-stage row cap and the per-outer-row apply cap),
// MaxExpansions (as the collection-item cap) and TimeoutMS to the
// executor's runtime guard wrapping every PlanIterator. MaxDepth is not
// passed on and limits nothing.
type Limits struct {
	MaxRows       int `yaml:"max_rows"`
	MaxExpansions int `yaml:"max_expansions"`
	MaxDepth      int `yaml:"max_depth"`
	TimeoutMS     int `yaml:"timeout_ms"`
}

// Config is NervusDB's top-level engine configuration.
//
// Example:
//
//	// Load from environment (Docker/K8s friendly)
//	cfg := config.LoadFromEnv()
//
//	// Or load from YAML file
//	cfg, err := config.LoadConfig("./nervusdb.yaml")
//
//	// Or use defaults
//	cfg := config.DefaultConfig()
type Config struct {
	DataDir     string      `yaml:"data_dir"`
	WALSync     WALSyncMode `yaml:"wal_sync"`
	WALBatchMS  int         `yaml:"wal_batch_ms"`
	Limits      Limits      `yaml:"limits"`
}

// DefaultConfig returns NervusDB's out-of-the-box configuration: full WAL
// durability and conservative runtime-guard defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "./data",
		WALSync:    WALSyncFull,
		WALBatchMS: 5,
		Limits: Limits{
			MaxRows:       1_000_000,
			MaxExpansions: 5_000_000,
			MaxDepth:      32,
			TimeoutMS:     30_000,
		},
	}
}

// Validate checks for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	switch c.WALSync {
	case WALSyncFull, WALSyncBatched, WALSyncNone:
	default:
		return fmt.Errorf("config: unknown wal_sync mode %q", c.WALSync)
	}
	if c.WALSync == WALSyncBatched && c.WALBatchMS <= 0 {
		return fmt.Errorf("config: wal_batch_ms must be positive when wal_sync=batched")
	}
	if c.Limits.MaxRows < 0 || c.Limits.MaxExpansions < 0 || c.Limits.MaxDepth < 0 || c.Limits.TimeoutMS < 0 {
		return fmt.Errorf("config: limits must not be negative")
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables, falling
// back to DefaultConfig for anything unset.
//
// This is the recommended approach for Docker/Kubernetes deployments.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if dir := os.Getenv("NERVUSDB_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if val := os.Getenv("NERVUSDB_WAL_SYNC"); val != "" {
		cfg.WALSync = parseWALSync(val, cfg.WALSync)
	}
	if val := os.Getenv("NERVUSDB_WAL_BATCH_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			cfg.WALBatchMS = ms
		}
	}
	if val := os.Getenv("NERVUSDB_LIMIT_MAX_ROWS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Limits.MaxRows = n
		}
	}
	if val := os.Getenv("NERVUSDB_LIMIT_MAX_EXPANSIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Limits.MaxExpansions = n
		}
	}
	if val := os.Getenv("NERVUSDB_LIMIT_MAX_DEPTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Limits.MaxDepth = n
		}
	}
	if val := os.Getenv("NERVUSDB_LIMIT_TIMEOUT_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Limits.TimeoutMS = n
		}
	}

	return cfg
}

func parseWALSync(s string, defaultVal WALSyncMode) WALSyncMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full":
		return WALSyncFull
	case "batched":
		return WALSyncBatched
	case "none":
		return WALSyncNone
	default:
		return defaultVal
	}
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigOrDefault loads config from file, or returns DefaultConfig if
// the file doesn't exist or fails to parse.
func LoadConfigOrDefault(path string) *Config {
	cfg, err := LoadConfig(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// LoadFromEnvOrFile loads config from a YAML file (or defaults if absent),
// then overrides it with any environment variables that are set.
// Environment variables take precedence over file settings.
func LoadFromEnvOrFile(filePath string) *Config {
	cfg := LoadConfigOrDefault(filePath)

	if dir := os.Getenv("NERVUSDB_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if val := os.Getenv("NERVUSDB_WAL_SYNC"); val != "" {
		cfg.WALSync = parseWALSync(val, cfg.WALSync)
	}
	if val := os.Getenv("NERVUSDB_WAL_BATCH_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			cfg.WALBatchMS = ms
		}
	}
	if val := os.Getenv("NERVUSDB_LIMIT_MAX_ROWS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Limits.MaxRows = n
		}
	}
	if val := os.Getenv("NERVUSDB_LIMIT_MAX_EXPANSIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Limits.MaxExpansions = n
		}
	}
	if val := os.Getenv("NERVUSDB_LIMIT_MAX_DEPTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Limits.MaxDepth = n
		}
	}
	if val := os.Getenv("NERVUSDB_LIMIT_TIMEOUT_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Limits.TimeoutMS = n
		}
	}

	return cfg
}
