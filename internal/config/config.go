// Package config loads corpusd configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024

// ErrInvalidConfig indicates a configuration value out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete corpusd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Index      IndexConfig      `koanf:"index"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Analysis   AnalysisConfig   `koanf:"analysis"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds conversation store settings.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// IndexConfig holds knowledge index settings.
type IndexConfig struct {
	Dir          string `koanf:"dir"`
	EmbeddingDim int    `koanf:"embedding_dim"`
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	CacheDir string `koanf:"cache_dir"`
}

// AnalysisConfig holds intelligence extraction settings. The API key is
// only read from the environment, never from the YAML file.
type AnalysisConfig struct {
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
	APIKey  string        `koanf:"-"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 9180
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(".", "data", "corpusd.db")
	}
	if c.Index.Dir == "" {
		c.Index.Dir = filepath.Join(".", "data", "rag_index")
	}
	if c.Index.EmbeddingDim == 0 {
		c.Index.EmbeddingDim = 384
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "fastembed"
	}
	if c.Analysis.BaseURL == "" {
		c.Analysis.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Analysis.Model == "" {
		c.Analysis.Model = "google/gemini-2.5-flash"
	}
	if c.Analysis.Timeout == 0 {
		c.Analysis.Timeout = 60 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Index.EmbeddingDim < 1 {
		return fmt.Errorf("%w: embedding_dim must be >= 1, got %d", ErrInvalidConfig, c.Index.EmbeddingDim)
	}
	switch c.Embeddings.Provider {
	case "fastembed", "hash":
	default:
		return fmt.Errorf("%w: unknown embeddings provider %q", ErrInvalidConfig, c.Embeddings.Provider)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// Load reads configuration from the given YAML file (if it exists), then
// overrides with CORPUSD_* environment variables, then applies defaults.
//
// Environment variables map to config keys by stripping the prefix and
// lowercasing, with the first underscore-separated segment as the section:
//
//	CORPUSD_SERVER_PORT          -> server.port
//	CORPUSD_INDEX_EMBEDDING_DIM  -> index.embedding_dim
//	CORPUSD_EMBEDDINGS_PROVIDER  -> embeddings.provider
//
// The analysis credential comes from OPENROUTER_API_KEY only.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		info, err := os.Stat(configPath)
		switch {
		case err == nil:
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("%w: config file exceeds %d bytes", ErrInvalidConfig, maxConfigFileSize)
			}
			content, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		case os.IsNotExist(err):
			// Missing file falls through to env and defaults.
		default:
			return nil, fmt.Errorf("checking config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("CORPUSD_", ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Analysis.APIKey = os.Getenv("OPENROUTER_API_KEY")

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// transformEnv maps CORPUSD_SECTION_FIELD_NAME to section.field_name.
func transformEnv(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "CORPUSD_"))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}
