package embeddings

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrBackendUnavailable indicates the learned-embedding backend cannot
	// be used in this build or environment. Callers recover by selecting
	// the hash provider.
	ErrBackendUnavailable = errors.New("embedding backend unavailable")
)

// Provider generates embeddings for documents and queries.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	// Provider is "fastembed" or "hash".
	Provider string
	// Model is the embedding model name (fastembed only).
	Model string
	// CacheDir is the model cache directory (fastembed only).
	CacheDir string
	// Dimension is the vector dimension (hash only; fastembed derives it
	// from the model).
	Dimension int
}

// NewProvider creates a provider from config. The choice is explicit at
// construction time: there is no import-and-catch fallback, so tests
// exercise the hash path identically on every build.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "hash":
		return NewHashProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
