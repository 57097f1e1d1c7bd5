package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "migrations"), 0755))
	require.NoError(t, os.Chdir(dir))
	return path
}

func TestLoadDefaults(t *testing.T) {
	orig, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(orig) })

	path := writeConfig(t, "env: test\n")

	cfg, err := LoadFrom(path, "1.2.3")
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "https://api.scryfall.com", cfg.Scryfall.BaseURL)
	assert.Equal(t, "100ms", cfg.Scryfall.MinInterval.String())
	assert.Equal(t, "30s", cfg.Scryfall.RequestTimeout.String())
	assert.Equal(t, 3, cfg.Scryfall.MaxAttempts)
	assert.Equal(t, 500, cfg.Sync.BatchSize)
	assert.Equal(t, "55s", cfg.Sync.RuntimeBudget.String())
	assert.Empty(t, cfg.Sync.Schedule)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	orig, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(orig) })

	path := writeConfig(t, "scryfall:\n  base_url: \"https://catalog.example.com\"\n")

	t.Setenv("SCRYFALL_BASE_URL", "https://override.example.com")
	t.Setenv("SYNC_BATCH_SIZE", "250")

	cfg, err := LoadFrom(path, "dev")
	require.NoError(t, err)

	assert.Equal(t, "https://override.example.com", cfg.Scryfall.BaseURL)
	assert.Equal(t, 250, cfg.Sync.BatchSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	orig, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(orig) })

	path := writeConfig(t, "scryfall:\n  min_interval: -1s\n")

	_, err = LoadFrom(path, "dev")
	assert.Error(t, err)
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.example.com",
		Port:     5432,
		User:     "arbiter",
		Password: "secret",
		Database: "arbiter_engine",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.example.com port=5432 user=arbiter password=secret dbname=arbiter_engine sslmode=require",
		db.ConnectionString())
}
