// Package config loads and validates pipeline configuration.
//
// Configuration is resolved in three layers, later layers winning:
//  1. Built-in defaults
//  2. YAML config file (.codesearch.yaml in the project root)
//  3. Environment variables (CODESEARCH_*)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the per-project config file name.
const DefaultConfigFile = ".codesearch.yaml"

// Config represents the complete configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Search     SearchConfig     `yaml:"search"`
	Cache      CacheConfig      `yaml:"cache"`
	Context    ContextConfig    `yaml:"context"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Reranker   RerankerConfig   `yaml:"reranker"`
}

// SearchConfig configures hybrid search and ranking.
type SearchConfig struct {
	// Alpha is the dense-score weight in hybrid fusion (0.0-1.0).
	// The sparse side receives 1-alpha.
	Alpha float64 `yaml:"alpha"`

	// Hybrid enables sparse+dense fusion. When false only the dense
	// source is queried.
	Hybrid bool `yaml:"hybrid"`

	// DefaultLimit is the default number of results.
	DefaultLimit int `yaml:"default_limit"`

	// MaxLimit is the maximum allowed results per query.
	MaxLimit int `yaml:"max_limit"`

	// MinScore drops results scoring below this threshold (0 disables).
	MinScore float64 `yaml:"min_score"`

	// Timeout is the per-request wall-clock budget. The rerank stage
	// receives whatever remains of it when the stage starts.
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig configures the query result cache.
type CacheConfig struct {
	// TTL is the entry lifetime. Entries older than this are never served.
	TTL time.Duration `yaml:"ttl"`

	// Capacity is the maximum number of cached queries.
	Capacity int `yaml:"capacity"`

	// MaxCacheableResults rejects result lists larger than this from caching.
	MaxCacheableResults int `yaml:"max_cacheable_results"`

	// SweepInterval is how often the background sweep removes expired entries.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ContextConfig configures context assembly.
type ContextConfig struct {
	// TokenBudget is the default assembled-context ceiling.
	TokenBudget int `yaml:"token_budget"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
}

// RerankerConfig configures the external relevance reranker.
type RerankerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			Alpha:        0.7,
			Hybrid:       true,
			DefaultLimit: 10,
			MaxLimit:     100,
			MinScore:     0,
			Timeout:      5 * time.Second,
		},
		Cache: CacheConfig{
			TTL:                 5 * time.Minute,
			Capacity:            100,
			MaxCacheableResults: 100,
			SweepInterval:       time.Minute,
		},
		Context: ContextConfig{
			TokenBudget: 8000,
		},
		Embeddings: EmbeddingsConfig{
			Endpoint:  "http://localhost:11434",
			Model:     "nomic-embed-text",
			Timeout:   30 * time.Second,
			CacheSize: 1000,
		},
		Reranker: RerankerConfig{
			Enabled:  false,
			Endpoint: "http://localhost:9659",
			Model:    "reranker-small",
			Timeout:  30 * time.Second,
		},
	}
}

// Load reads configuration from path, layering it over defaults and
// applying environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return fmt.Errorf("search.alpha must be in [0,1], got %v", c.Search.Alpha)
	}
	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search.max_limit (%d) must be >= search.default_limit (%d)",
			c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %v", c.Cache.TTL)
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Context.TokenBudget <= 0 {
		return fmt.Errorf("context.token_budget must be positive, got %d", c.Context.TokenBudget)
	}
	return nil
}

// applyEnvOverrides applies CODESEARCH_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CODESEARCH_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.Alpha = f
		}
	}
	if v := os.Getenv("CODESEARCH_EMBED_ENDPOINT"); v != "" {
		cfg.Embeddings.Endpoint = v
	}
	if v := os.Getenv("CODESEARCH_RERANK_ENDPOINT"); v != "" {
		cfg.Reranker.Endpoint = v
	}
	if v := os.Getenv("CODESEARCH_RERANK_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Reranker.Enabled = b
		}
	}
	if v := os.Getenv("CODESEARCH_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
}
