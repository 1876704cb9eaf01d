package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/curator/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.5, cfg.Search.TextWeight)
	assert.Equal(t, 0.5, cfg.Search.VectorWeight)
	assert.False(t, cfg.AI.Enabled)
	assert.Nil(t, cfg.AIConfig(), "enrichment is off by default")
	assert.Equal(t, ai.DefaultConfig().EmbeddingModel, cfg.AI.EmbeddingModel)
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
library = "/srv/assets"

[ingestion]
workers = 3

[search]
text_weight = 0.7
vector_weight = 0.3

[watch]
debounce = "2s"

[ai]
enabled = true
embedding_model = "text-embedding-3-small"
embedding_host = "http://embed:8080"
requests_per_second = 4.0
burst = 2
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/srv/assets", cfg.Library)
		assert.Equal(t, 3, cfg.Ingestion.Workers)
		assert.Equal(t, 64, cfg.Ingestion.QueueDepth, "unset keys keep defaults")
		assert.Equal(t, 0.7, cfg.Search.TextWeight)

		d, err := cfg.debounce()
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, d)

		aiCfg := cfg.AIConfig()
		require.NotNil(t, aiCfg)
		assert.Equal(t, "text-embedding-3-small", aiCfg.EmbeddingModel)
		assert.Equal(t, "http://embed:8080/v1", aiCfg.EmbeddingHost, "hosts are normalized")
		assert.Equal(t, 4.0, aiCfg.RequestsPerSecond)
		assert.Equal(t, 2, aiCfg.Burst)
	})

	t.Run("token from environment", func(t *testing.T) {
		t.Setenv(TokenEnv, "secret")
		cfg, err := Load(writeConfig(t, "[ai]\nenabled = true\n"))
		require.NoError(t, err)
		assert.Equal(t, "secret", cfg.AIConfig().Token)
	})

	t.Run("malformed file", func(t *testing.T) {
		_, err := Load(writeConfig(t, "library = [unterminated"))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "[search]\ntext_weight = -1\n"))
		assert.ErrorContains(t, err, "fusion weights")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty library", func(c *Config) { c.Library = "" }, "library is required"},
		{"negative workers", func(c *Config) { c.Ingestion.Workers = -1 }, "worker counts"},
		{"negative queue", func(c *Config) { c.Ingestion.QueueDepth = -1 }, "queue_depth"},
		{"zero weights", func(c *Config) { c.Search.TextWeight, c.Search.VectorWeight = 0, 0 }, "fusion weights"},
		{"zero cache", func(c *Config) { c.Search.CacheSize = 0 }, "cache_size"},
		{"negative staging", func(c *Config) { c.Text.StagingLimit = -5 }, "staging_limit"},
		{"tiny graph", func(c *Config) { c.Vector.M = 1 }, "vector m"},
		{"bad debounce", func(c *Config) { c.Watch.Debounce = "soon" }, "debounce"},
		{"bad ai section", func(c *Config) { c.AI.Enabled = true; c.AI.MaxTags = 0 }, "MaxTags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	t.Run("disabled ai is not validated", func(t *testing.T) {
		cfg := Default()
		cfg.AI.MaxTags = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Library = "/data/library"
	cfg.AI.Enabled = true
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLibraryDir(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := Default()
	dir, err := cfg.LibraryDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".curator"), dir)

	cfg.Library = "/abs/lib"
	dir, err = cfg.LibraryDir()
	require.NoError(t, err)
	assert.Equal(t, "/abs/lib", dir)
}

func TestLibraryOptions(t *testing.T) {
	cfg := Default()
	assert.Len(t, cfg.LibraryOptions(), 6, "weights, cache, staging, vector, queue depth and debounce")

	cfg.Ingestion.Workers = 2
	cfg.Ingestion.EnrichmentWorkers = 1
	cfg.Watch.Debounce = ""
	assert.Len(t, cfg.LibraryOptions(), 7)
}
