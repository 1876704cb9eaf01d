// Package config loads the curator TOML configuration file.
//
// Every section is optional; missing keys keep their defaults:
//
//	library = "~/.curator"
//
//	[ingestion]
//	workers = 4
//	enrichment_workers = 4
//	queue_depth = 64
//
//	[search]
//	text_weight = 0.5
//	vector_weight = 0.5
//	cache_size = 256
//
//	[text]
//	staging_limit = 512
//
//	[vector]
//	m = 16
//	ef_construction = 200
//	ef_search = 64
//
//	[watch]
//	debounce = "500ms"
//
//	[ai]
//	enabled = true
//	embedding_host = "http://localhost:11434/v1"
//	embedding_model = "embeddinggemma"
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/curator"
	"github.com/poiesic/curator/ai"
	"github.com/poiesic/curator/vector"
)

// TokenEnv overrides ai.token when set.
const TokenEnv = "CURATOR_AI_TOKEN"

// Config is the file format.
type Config struct {
	Library   string          `toml:"library"`
	Ingestion IngestionConfig `toml:"ingestion"`
	Search    SearchConfig    `toml:"search"`
	Text      TextConfig      `toml:"text"`
	Vector    VectorConfig    `toml:"vector"`
	Watch     WatchConfig     `toml:"watch"`
	AI        AIConfig        `toml:"ai"`
}

type IngestionConfig struct {
	Workers           int `toml:"workers"`
	EnrichmentWorkers int `toml:"enrichment_workers"`
	QueueDepth        int `toml:"queue_depth"`
}

type SearchConfig struct {
	TextWeight   float64 `toml:"text_weight"`
	VectorWeight float64 `toml:"vector_weight"`
	CacheSize    int     `toml:"cache_size"`
}

type TextConfig struct {
	StagingLimit int `toml:"staging_limit"`
}

type VectorConfig struct {
	M              int `toml:"m"`
	EFConstruction int `toml:"ef_construction"`
	EFSearch       int `toml:"ef_search"`
}

type WatchConfig struct {
	Debounce string `toml:"debounce"`
}

// AIConfig mirrors ai.Config. Enrichment is off unless Enabled is set.
type AIConfig struct {
	Enabled            bool    `toml:"enabled"`
	EmbeddingHost      string  `toml:"embedding_host"`
	TaggerHost         string  `toml:"tagger_host"`
	EmbeddingModel     string  `toml:"embedding_model"`
	TaggerModel        string  `toml:"tagger_model"`
	Token              string  `toml:"token"`
	MaxTags            int     `toml:"max_tags"`
	RequestsPerSecond  float64 `toml:"requests_per_second"`
	Burst              int     `toml:"burst"`
	SidecarTranscripts bool    `toml:"sidecar_transcripts"`
}

// DefaultPath returns ~/.curator/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".curator", "config.toml"), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		Library: filepath.Join("~", ".curator"),
		Ingestion: IngestionConfig{
			QueueDepth: 64,
		},
		Search: SearchConfig{
			TextWeight:   0.5,
			VectorWeight: 0.5,
			CacheSize:    256,
		},
		Text: TextConfig{
			StagingLimit: 512,
		},
		Vector: VectorConfig{
			M:              vector.DefaultOptions.M,
			EFConstruction: vector.DefaultOptions.EFConstruction,
			EFSearch:       vector.DefaultOptions.EFSearch,
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
		AI: AIConfig{
			EmbeddingHost:      aiDefaults.EmbeddingHost,
			TaggerHost:         aiDefaults.TaggerHost,
			EmbeddingModel:     aiDefaults.EmbeddingModel,
			TaggerModel:        aiDefaults.TaggerModel,
			Token:              aiDefaults.Token,
			MaxTags:            aiDefaults.MaxTags,
			Burst:              aiDefaults.Burst,
			SidecarTranscripts: aiDefaults.SidecarTranscripts,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if token := os.Getenv(TokenEnv); token != "" {
		cfg.AI.Token = token
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating its directory.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Library == "" {
		return errors.New("config: library is required")
	}
	if c.Ingestion.Workers < 0 || c.Ingestion.EnrichmentWorkers < 0 {
		return errors.New("config: worker counts cannot be negative")
	}
	if c.Ingestion.QueueDepth < 0 {
		return errors.New("config: queue_depth cannot be negative")
	}
	if c.Search.TextWeight < 0 || c.Search.VectorWeight < 0 || c.Search.TextWeight+c.Search.VectorWeight == 0 {
		return errors.New("config: fusion weights must be non-negative and not both zero")
	}
	if c.Search.CacheSize < 1 {
		return errors.New("config: cache_size must be at least 1")
	}
	if c.Text.StagingLimit < 0 {
		return errors.New("config: staging_limit cannot be negative")
	}
	if c.Vector.M < 2 || c.Vector.EFConstruction < 1 || c.Vector.EFSearch < 1 {
		return errors.New("config: vector m must be at least 2 and ef values at least 1")
	}
	if _, err := c.debounce(); err != nil {
		return err
	}
	if c.AI.Enabled {
		if err := c.aiConfig().Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) debounce() (time.Duration, error) {
	if c.Watch.Debounce == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: invalid watch debounce %q", c.Watch.Debounce)
	}
	return d, nil
}

// LibraryDir returns the library directory with a leading ~ expanded.
func (c *Config) LibraryDir() (string, error) {
	dir := c.Library
	if dir == "~" || strings.HasPrefix(dir, "~/") || strings.HasPrefix(dir, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, dir[1:])
	}
	return filepath.Abs(dir)
}

// LibraryOptions translates the file into library options. The enricher is
// not included; build it from AIConfig when enrichment is enabled.
func (c *Config) LibraryOptions() []curator.Option {
	opts := []curator.Option{
		curator.WithFusionWeights(c.Search.TextWeight, c.Search.VectorWeight),
		curator.WithQueryCacheSize(c.Search.CacheSize),
		curator.WithStagingLimit(c.Text.StagingLimit),
		curator.WithVectorOptions(
			vector.WithM(c.Vector.M),
			vector.WithEF(c.Vector.EFConstruction, c.Vector.EFSearch),
		),
	}
	if c.Ingestion.Workers > 0 {
		opts = append(opts, curator.WithPoolSize(c.Ingestion.Workers))
	}
	if c.Ingestion.EnrichmentWorkers > 0 {
		opts = append(opts, curator.WithEnrichmentPoolSize(c.Ingestion.EnrichmentWorkers))
	}
	if c.Ingestion.QueueDepth > 0 {
		opts = append(opts, curator.WithQueueDepth(c.Ingestion.QueueDepth))
	}
	if d, err := c.debounce(); err == nil && d > 0 {
		opts = append(opts, curator.WithWatchDebounce(d))
	}
	return opts
}

// AIConfig returns the enrichment settings, or nil when enrichment is off.
func (c *Config) AIConfig() *ai.Config {
	if !c.AI.Enabled {
		return nil
	}
	return c.aiConfig()
}

func (c *Config) aiConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithTaggerHost(c.AI.TaggerHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithTaggerModel(c.AI.TaggerModel),
		ai.WithToken(c.AI.Token),
		ai.WithMaxTags(c.AI.MaxTags),
		ai.WithRateLimit(c.AI.RequestsPerSecond, c.AI.Burst),
		ai.WithSidecarTranscripts(c.AI.SidecarTranscripts),
	)
}
