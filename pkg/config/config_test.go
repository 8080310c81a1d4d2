package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: sqlite
  path: /tmp/puns.db
ingest:
  batch_size: 50
  source_policy: fingerprint
resolver:
  timeout: 3s
`), 0o644))
	t.Setenv("PUNDB_QUERY_MODE", "phrase")
	t.Setenv("PUNDB_DATABASE_PATH", "/tmp/env.db")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, 50, cfg.Ingest.BatchSize)
	assert.Equal(t, "fingerprint", cfg.Ingest.SourcePolicy)
	assert.Equal(t, 3*time.Second, cfg.Resolver.Timeout)
	assert.Equal(t, "phrase", cfg.Query.Mode)
	// untouched keys keep their defaults
	assert.Equal(t, Default().Resolver.BaseURL, cfg.Resolver.BaseURL)
	assert.Equal(t, 4, cfg.Ingest.Workers)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "postgres"
	cfg.Ingest.Workers = 0
	cfg.Query.Mode = "sentence"
	cfg.Ingest.Tokenizer = "fuzzy"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, key := range []string{"database.driver", "ingest.workers", "query.mode", "ingest.tokenizer", "log.format"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	require.NoError(t, WriteDefault(path))
	require.Error(t, WriteDefault(path), "existing file must not be overwritten")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
