// Package index owns the set of indexed knowledge chunks and their vector
// representations. Chunk ids are assigned monotonically on insertion and
// never reused; the Indexer is their sole writer.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/consolidate"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
)

var tracer = otel.Tracer("corpusd.index")

var (
	// ErrInvalidConfig indicates invalid indexer configuration.
	ErrInvalidConfig = errors.New("invalid indexer configuration")

	// ErrLoadFailed indicates the on-disk index could not be restored.
	// The in-memory index is left untouched when load fails.
	ErrLoadFailed = errors.New("index load failed")
)

const (
	chunksFile   = "chunks.json"
	metadataFile = "metadata.json"
	vectorsDir   = "vectors"
	collection   = "corpusd_chunks"
)

// IndexedChunk is a knowledge chunk accepted into the index.
type IndexedChunk struct {
	ChunkID        int       `json:"chunk_id"`
	Text           string    `json:"text"`
	Source         string    `json:"source"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	Embedding      []float32 `json:"-"`
}

// Stats summarizes the index. Always computed fresh from in-memory state.
type Stats struct {
	TotalChunks        int            `json:"total_chunks"`
	TotalConversations int            `json:"total_conversations"`
	Sources            map[string]int `json:"sources"`
	EmbeddingDim       int            `json:"embedding_dim"`
	VectorBackend      bool           `json:"vector_backend"`
	LastUpdated        string         `json:"last_updated"`
}

// VectorHit is a nearest-neighbor match from the vector backend.
type VectorHit struct {
	Chunk    IndexedChunk
	Distance float64
}

// Config holds indexer configuration.
type Config struct {
	// Dir is the index artifact directory.
	Dir string

	// EmbeddingDim is the vector dimension; must match the provider.
	EmbeddingDim int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Dir == "" {
		c.Dir = filepath.Join(".", "data", "rag_index")
	}
	if c.EmbeddingDim == 0 {
		c.EmbeddingDim = 384
	}
}

// Validate validates the configuration. Out-of-range dimensions are
// rejected, never clamped.
func (c *Config) Validate() error {
	if c.EmbeddingDim < 1 {
		return fmt.Errorf("%w: embedding_dim must be >= 1, got %d", ErrInvalidConfig, c.EmbeddingDim)
	}
	return nil
}

// Indexer owns indexed chunks and the vector backend.
//
// When the chromem backend initializes and an embedding provider is
// supplied, chunks get embeddings and vector search is available. When
// either is missing the indexer runs in simple mode: chunks are still
// indexed and keyword search works, vector search does not.
//
// AddChunks is the only writer of chunk ids and serializes concurrent
// additions; reads see a consistent prior snapshot. Save and Load must not
// be interleaved with an in-flight AddChunks.
type Indexer struct {
	config   Config
	provider embeddings.Provider
	logger   *zap.Logger

	mu         sync.RWMutex
	chunks     []IndexedChunk
	nextID     int
	db         *chromem.DB
	collection *chromem.Collection
}

// NewIndexer creates an Indexer. Backend initialization failure is not
// fatal: the indexer degrades to simple mode and logs the cause.
func NewIndexer(cfg Config, provider embeddings.Provider, logger *zap.Logger) (*Indexer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	idx := &Indexer{
		config:   cfg,
		provider: provider,
		logger:   logger,
	}

	if provider == nil {
		logger.Info("no embedding provider, using simple mode")
		return idx, nil
	}
	if provider.Dimension() != cfg.EmbeddingDim {
		return nil, fmt.Errorf("%w: provider dimension %d != embedding_dim %d",
			ErrInvalidConfig, provider.Dimension(), cfg.EmbeddingDim)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(cfg.Dir, vectorsDir), false)
	if err != nil {
		logger.Warn("vector backend unavailable, using simple mode", zap.Error(err))
		return idx, nil
	}
	col, err := db.GetOrCreateCollection(collection, nil, idx.embeddingFunc())
	if err != nil {
		logger.Warn("vector collection unavailable, using simple mode", zap.Error(err))
		return idx, nil
	}

	idx.db = db
	idx.collection = col
	logger.Info("vector backend initialized",
		zap.String("dir", cfg.Dir),
		zap.Int("dim", cfg.EmbeddingDim))
	return idx, nil
}

func (idx *Indexer) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return idx.provider.EmbedQuery(ctx, text)
	}
}

// VectorActive reports whether the vector backend is usable.
func (idx *Indexer) VectorActive() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.collection != nil
}

// AddChunks accepts chunks into the index, assigning each the next
// sequential chunk id. Chunks with empty text are silently skipped and not
// counted. Returns the number of chunks added.
func (idx *Indexer) AddChunks(ctx context.Context, chunks []consolidate.Chunk, computeEmbeddings bool) (int, error) {
	ctx, span := tracer.Start(ctx, "Indexer.AddChunks")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	idx.mu.Lock()
	defer idx.mu.Unlock()

	added := 0
	for _, chunk := range chunks {
		if chunk.Text == "" {
			continue
		}

		indexed := IndexedChunk{
			ChunkID:        idx.nextID,
			Text:           chunk.Text,
			Source:         chunk.Source,
			ConversationID: chunk.ConversationID,
			Title:          chunk.Title,
		}

		if computeEmbeddings && idx.collection != nil {
			vectors, err := idx.provider.EmbedDocuments(ctx, []string{chunk.Text})
			if err != nil {
				return added, fmt.Errorf("embedding chunk %d: %w", indexed.ChunkID, err)
			}
			embedding := vectors[0]
			indexed.Embedding = embedding

			doc := chromem.Document{
				ID:      strconv.Itoa(indexed.ChunkID),
				Content: chunk.Text,
				Metadata: map[string]string{
					"source":          chunk.Source,
					"conversation_id": chunk.ConversationID,
				},
				Embedding: embedding,
			}
			if err := idx.collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
				return added, fmt.Errorf("adding chunk %d to vector backend: %w", indexed.ChunkID, err)
			}
		}

		idx.chunks = append(idx.chunks, indexed)
		idx.nextID++
		added++
	}

	span.SetAttributes(attribute.Int("chunks_added", added))
	idx.logger.Info("added chunks to index", zap.Int("added", added))
	return added, nil
}

// Chunks returns a snapshot of the indexed chunks in insertion order.
func (idx *Indexer) Chunks() []IndexedChunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]IndexedChunk, len(idx.chunks))
	copy(out, idx.chunks)
	return out
}

// VectorSearch embeds the query with the same provider used for chunks and
// returns up to k nearest neighbors by cosine distance.
func (idx *Indexer) VectorSearch(ctx context.Context, query string, k int) ([]VectorHit, error) {
	ctx, span := tracer.Start(ctx, "Indexer.VectorSearch")
	defer span.End()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.collection == nil {
		return nil, fmt.Errorf("%w: vector backend inactive", embeddings.ErrBackendUnavailable)
	}

	count := idx.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := idx.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	byID := make(map[int]IndexedChunk, len(idx.chunks))
	for _, c := range idx.chunks {
		byID[c.ChunkID] = c
	}

	hits := make([]VectorHit, 0, len(results))
	for _, r := range results {
		id, err := strconv.Atoi(r.ID)
		if err != nil {
			continue
		}
		chunk, ok := byID[id]
		if !ok {
			continue
		}
		hits = append(hits, VectorHit{
			Chunk:    chunk,
			Distance: 1 - float64(r.Similarity),
		})
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

// chunkRecord is the on-disk chunk shape; embeddings live in the vector
// backend's own artifact, not here.
type chunkRecord struct {
	ChunkID        int    `json:"chunk_id"`
	Text           string `json:"text"`
	Source         string `json:"source"`
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}

type indexMetadata struct {
	TotalChunks   int            `json:"total_chunks"`
	EmbeddingDim  int            `json:"embedding_dim"`
	VectorBackend bool           `json:"vector_backend"`
	LastUpdated   string         `json:"last_updated"`
	Sources       map[string]int `json:"sources"`
}

// Save writes chunk metadata and index statistics to the index directory.
// The vector backend persists its own artifact incrementally as documents
// are added.
func (idx *Indexer) Save() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := os.MkdirAll(idx.config.Dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	records := make([]chunkRecord, len(idx.chunks))
	for i, c := range idx.chunks {
		records[i] = chunkRecord{
			ChunkID:        c.ChunkID,
			Text:           c.Text,
			Source:         c.Source,
			ConversationID: c.ConversationID,
			Title:          c.Title,
		}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding chunks: %w", err)
	}
	if err := os.WriteFile(filepath.Join(idx.config.Dir, chunksFile), data, 0o644); err != nil {
		return fmt.Errorf("writing chunks: %w", err)
	}

	stats := idx.statsLocked()
	meta := indexMetadata{
		TotalChunks:   stats.TotalChunks,
		EmbeddingDim:  stats.EmbeddingDim,
		VectorBackend: stats.VectorBackend,
		LastUpdated:   stats.LastUpdated,
		Sources:       stats.Sources,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(idx.config.Dir, metadataFile), metaData, 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	idx.logger.Info("index saved",
		zap.String("dir", idx.config.Dir),
		zap.Int("chunks", len(idx.chunks)))
	return nil
}

// Load restores the chunk list from disk. The vector backend reloads its
// own artifact at construction, so Load verifies the two are consistent.
// On any failure the previously loaded in-memory state is left intact.
func (idx *Indexer) Load() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	path := filepath.Join(idx.config.Dir, chunksFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrLoadFailed, path, err)
	}
	var records []chunkRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrLoadFailed, path, err)
	}

	chunks := make([]IndexedChunk, len(records))
	maxID := -1
	for i, r := range records {
		chunks[i] = IndexedChunk{
			ChunkID:        r.ChunkID,
			Text:           r.Text,
			Source:         r.Source,
			ConversationID: r.ConversationID,
			Title:          r.Title,
		}
		if r.ChunkID > maxID {
			maxID = r.ChunkID
		}
	}

	if idx.collection != nil {
		if got := idx.collection.Count(); got != len(chunks) {
			return fmt.Errorf("%w: vector backend holds %d documents, chunk file holds %d",
				ErrLoadFailed, got, len(chunks))
		}
	}

	idx.chunks = chunks
	idx.nextID = maxID + 1

	idx.logger.Info("index loaded",
		zap.String("dir", idx.config.Dir),
		zap.Int("chunks", len(chunks)))
	return nil
}

// Stats returns fresh statistics for the current in-memory index.
func (idx *Indexer) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.statsLocked()
}

func (idx *Indexer) statsLocked() Stats {
	sources := make(map[string]int)
	convIDs := make(map[string]struct{})
	for _, c := range idx.chunks {
		sources[c.Source]++
		if c.ConversationID != "" {
			convIDs[c.ConversationID] = struct{}{}
		}
	}
	return Stats{
		TotalChunks:        len(idx.chunks),
		TotalConversations: len(convIDs),
		Sources:            sources,
		EmbeddingDim:       idx.config.EmbeddingDim,
		VectorBackend:      idx.collection != nil,
		LastUpdated:        time.Now().UTC().Format(time.RFC3339),
	}
}

// Close releases the embedding provider.
func (idx *Indexer) Close() error {
	if idx.provider != nil {
		return idx.provider.Close()
	}
	return nil
}
