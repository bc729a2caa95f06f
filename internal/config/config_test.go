package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 30, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.True(t, cfg.Fetch.RespectRobots)
	assert.Equal(t, 50, cfg.Crawl.MaxPages)
	assert.Equal(t, 300, cfg.Crawl.BudgetSecs)
	assert.Equal(t, 10000, cfg.Normalize.MaxRows)
	assert.Equal(t, 10, cfg.Jobs.MaxConcurrentFetches)
	assert.Equal(t, "data/processed", cfg.Export.DataDir)
	assert.Equal(t, []string{"csv", "json"}, cfg.Export.Formats)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `
store:
  driver: sqlite
  database_url: jobs.db
fetch:
  timeout_secs: 5
  respect_robots: false
server:
  port: 9090
export:
  formats: [csv, xlsx]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "jobs.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 5, cfg.Fetch.TimeoutSecs)
	assert.False(t, cfg.Fetch.RespectRobots)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"csv", "xlsx"}, cfg.Export.Formats)
	// Untouched sections keep their defaults.
	assert.Equal(t, 50, cfg.Crawl.MaxPages)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{:"), 0o644))
	t.Chdir(dir)

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "bogus", Format: "json"}))
}
