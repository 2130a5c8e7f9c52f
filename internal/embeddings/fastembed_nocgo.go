//go:build !cgo

package embeddings

import (
	"context"
	"fmt"
)

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider is a stub for builds without cgo; the ONNX runtime
// requires it. Construction fails with ErrBackendUnavailable and callers
// fall back to the hash provider.
type FastEmbedProvider struct{}

// NewFastEmbedProvider returns ErrBackendUnavailable without cgo.
func NewFastEmbedProvider(_ FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, fmt.Errorf("%w: fastembed requires a cgo build", ErrBackendUnavailable)
}

// EmbedDocuments returns ErrBackendUnavailable without cgo.
func (p *FastEmbedProvider) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: fastembed requires a cgo build", ErrBackendUnavailable)
}

// EmbedQuery returns ErrBackendUnavailable without cgo.
func (p *FastEmbedProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("%w: fastembed requires a cgo build", ErrBackendUnavailable)
}

// Dimension returns 0 without cgo.
func (p *FastEmbedProvider) Dimension() int {
	return 0
}

// Close is a no-op without cgo.
func (p *FastEmbedProvider) Close() error {
	return nil
}
