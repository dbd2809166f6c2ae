package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9200", cfg.ListenAddr)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, 5, cfg.Analytics.TopN)
	assert.Equal(t, 10*time.Minute, cfg.Analytics.CacheTTL.Std())
	assert.Equal(t, 30, cfg.Analytics.HalfLifeDays)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":8080"
redis_addr: "localhost:6379"
ingest:
  workers: 8
analytics:
  top_n: 3
  cache_ttl: 5m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, 3, cfg.Analytics.TopN)
	assert.Equal(t, 5*time.Minute, cfg.Analytics.CacheTTL.Std())
	// Unset keys keep their defaults.
	assert.Equal(t, 30, cfg.Analytics.HalfLifeDays)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`listen_addr: ":8080"`), 0o644))

	t.Setenv("CMG_LISTEN_ADDR", ":7070")
	t.Setenv("CMG_INGEST_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, 2, cfg.Ingest.Workers)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
