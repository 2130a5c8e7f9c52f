package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// HashProvider produces deterministic hashed bag-of-words embeddings.
//
// Each whitespace token maps through a stable hash into one of Dimension
// buckets; the bucket accumulates 1/(position+1), rewarding earlier tokens,
// and the vector is L2-normalized at the end. Identical text always yields
// an identical vector, across calls and across process restarts.
type HashProvider struct {
	dim int
}

// NewHashProvider creates a hash provider with the given dimension.
func NewHashProvider(dim int) (*HashProvider, error) {
	if dim < 1 {
		return nil, fmt.Errorf("%w: dimension must be >= 1, got %d", ErrInvalidConfig, dim)
	}
	return &HashProvider{dim: dim}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vectors[i] = p.embed(text)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return p.embed(text), nil
}

func (p *HashProvider) embed(text string) []float32 {
	vec := make([]float32, p.dim)
	for i, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		bucket := binary.BigEndian.Uint64(sum[:8]) % uint64(p.dim)
		vec[bucket] += float32(1.0 / float64(i+1))
	}

	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	// All-zero input (no tokens) stays all-zero.
	if magnitude > 0 {
		norm := float32(math.Sqrt(magnitude))
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// Dimension returns the embedding dimension.
func (p *HashProvider) Dimension() int {
	return p.dim
}

// Close is a no-op for the hash provider.
func (p *HashProvider) Close() error {
	return nil
}
