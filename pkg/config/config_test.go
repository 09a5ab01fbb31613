package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, WALSyncFull, cfg.WALSync)
	assert.Equal(t, 1_000_000, cfg.Limits.MaxRows)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("NERVUSDB_DATA_DIR", "/tmp/graphdata")
	t.Setenv("NERVUSDB_WAL_SYNC", "batched")
	t.Setenv("NERVUSDB_LIMIT_MAX_ROWS", "500")

	cfg := LoadFromEnv()
	assert.Equal(t, "/tmp/graphdata", cfg.DataDir)
	assert.Equal(t, WALSyncBatched, cfg.WALSync)
	assert.Equal(t, 500, cfg.Limits.MaxRows)
	// Unset values keep their defaults.
	assert.Equal(t, 30_000, cfg.Limits.TimeoutMS)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nervusdb.yaml")
	yaml := `
data_dir: /data/graph
wal_sync: none
limits:
  max_rows: 42
  timeout_ms: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/graph", cfg.DataDir)
	assert.Equal(t, WALSyncNone, cfg.WALSync)
	assert.Equal(t, 42, cfg.Limits.MaxRows)
	assert.Equal(t, 1000, cfg.Limits.TimeoutMS)
}

func TestEnvTakesPrecedenceOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nervusdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /from/file\n"), 0o644))
	t.Setenv("NERVUSDB_DATA_DIR", "/from/env")

	cfg := LoadFromEnvOrFile(path)
	assert.Equal(t, "/from/env", cfg.DataDir)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.WALSync = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Limits.MaxRows = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.WALSync = WALSyncBatched
	cfg.WALBatchMS = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigOrDefaultFallsBack(t *testing.T) {
	cfg := LoadConfigOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, DefaultConfig().DataDir, cfg.DataDir)
}
