// Package consolidate merges conversation exports from multiple origin
// scanners into one corpus, deduplicates near-identical transcripts by a
// content fingerprint, and splits conversations into bounded-size chunks
// ready for indexing.
package consolidate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/platform"
)

// ErrInvalidArgument indicates an out-of-range argument. Arguments are
// rejected, never clamped.
var ErrInvalidArgument = errors.New("invalid argument")

// fingerprintPrefixLen is how much of the first message feeds the dedup
// hash. Near-duplicate transcripts (re-exports, partial re-saves) share an
// identical opening exchange even when later content diverges, so a short
// prefix is a cheap fingerprint. False negatives (distinct conversations
// with identical openings) are accepted over full-text comparison.
const fingerprintPrefixLen = 200

// ExportMessage is one turn of a conversation export.
type ExportMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Export is a conversation as produced by an origin scanner.
type Export struct {
	Source         string          `json:"source"`
	ConversationID string          `json:"conversation_id"`
	Title          string          `json:"title"`
	Messages       []ExportMessage `json:"messages"`
}

// ExportFromConversation adapts a normalized conversation into an Export
// attributed to the given source.
func ExportFromConversation(conv platform.Conversation, source string) Export {
	e := Export{
		Source:         source,
		ConversationID: conv.ConversationID,
		Title:          conv.Title,
	}
	for _, m := range conv.Messages {
		e.Messages = append(e.Messages, ExportMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return e
}

// UnifiedConversation is the corpus-internal conversation format.
type UnifiedConversation struct {
	ConversationID string          `json:"conversation_id"`
	Source         string          `json:"source"`
	Title          string          `json:"title"`
	MessageCount   int             `json:"message_count"`
	Messages       []ExportMessage `json:"messages"`
}

// Corpus is the aggregate of many exports. Built once per consolidation
// run; it is a disposable artifact, not an authoritative store.
type Corpus struct {
	Timestamp          string                `json:"timestamp"`
	TotalConversations int                   `json:"total_conversations"`
	TotalMessages      int                   `json:"total_messages"`
	Sources            map[string]int        `json:"sources"`
	Conversations      []UnifiedConversation `json:"conversations"`
	Deduplicated       int                   `json:"deduplicated"`
}

// Chunk is a bounded-size slice of a conversation used as the retrieval
// unit. A chunk never spans two conversations.
type Chunk struct {
	Text           string `json:"text"`
	Source         string `json:"source"`
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	MessageCount   int    `json:"message_count"`
}

// Consolidator merges exports and produces chunks.
type Consolidator struct {
	logger *zap.Logger
}

// NewConsolidator creates a Consolidator.
func NewConsolidator(logger *zap.Logger) *Consolidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{logger: logger}
}

// fingerprint hashes the opening of a transcript for dedup.
func fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// Consolidate merges exports into one corpus, dropping exports whose
// opening-content fingerprint was already seen in this run.
func (c *Consolidator) Consolidate(exports []Export) *Corpus {
	corpus := &Corpus{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Sources:   make(map[string]int),
	}

	seen := make(map[string]struct{})
	for _, export := range exports {
		if len(export.Messages) > 0 {
			first := export.Messages[0].Content
			if len(first) > fingerprintPrefixLen {
				first = first[:fingerprintPrefixLen]
			}
			key := fingerprint(first)
			if _, dup := seen[key]; dup {
				corpus.Deduplicated++
				continue
			}
			seen[key] = struct{}{}
		}

		corpus.Conversations = append(corpus.Conversations, UnifiedConversation{
			ConversationID: export.ConversationID,
			Source:         export.Source,
			Title:          export.Title,
			MessageCount:   len(export.Messages),
			Messages:       export.Messages,
		})
		corpus.TotalConversations++
		corpus.TotalMessages += len(export.Messages)
		corpus.Sources[export.Source]++
	}

	c.logger.Info("consolidated exports",
		zap.Int("conversations", corpus.TotalConversations),
		zap.Int("deduplicated", corpus.Deduplicated))
	return corpus
}

// ExtractChunks splits every corpus conversation into chunks of at most
// maxChunkChars characters. Lines are "[role]: content\n"; a line that
// would overflow the running buffer flushes it and starts the next chunk.
// A single message longer than the budget occupies its own oversized chunk.
func (c *Consolidator) ExtractChunks(corpus *Corpus, maxChunkChars int) ([]Chunk, error) {
	if maxChunkChars < 1 {
		return nil, fmt.Errorf("%w: max_chunk_chars must be >= 1, got %d", ErrInvalidArgument, maxChunkChars)
	}

	var chunks []Chunk
	for _, conv := range corpus.Conversations {
		var (
			current  strings.Builder
			messages int
		)
		flush := func() {
			text := strings.TrimSpace(current.String())
			if text == "" {
				return
			}
			chunks = append(chunks, Chunk{
				Text:           text,
				Source:         conv.Source,
				ConversationID: conv.ConversationID,
				Title:          conv.Title,
				MessageCount:   messages,
			})
		}

		for _, msg := range conv.Messages {
			line := fmt.Sprintf("[%s]: %s\n", msg.Role, msg.Content)
			if current.Len()+len(line) > maxChunkChars {
				flush()
				current.Reset()
				current.WriteString(line)
				messages = 1
				continue
			}
			current.WriteString(line)
			messages++
		}
		flush()
	}

	c.logger.Info("extracted knowledge chunks",
		zap.Int("chunks", len(chunks)),
		zap.Int("conversations", corpus.TotalConversations))
	return chunks, nil
}

// SaveCorpus writes the corpus to path as indented JSON.
func (c *Consolidator) SaveCorpus(corpus *Corpus, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating corpus directory: %w", err)
	}
	data, err := json.MarshalIndent(corpus, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding corpus: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing corpus: %w", err)
	}

	c.logger.Info("corpus saved",
		zap.String("path", path),
		zap.Int("conversations", corpus.TotalConversations),
		zap.Int("messages", corpus.TotalMessages))
	return nil
}

// LoadCorpus reads a previously saved corpus. It fails if path does not
// exist; every Corpus field round-trips exactly.
func (c *Consolidator) LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus %s: %w", path, err)
	}
	var corpus Corpus
	if err := json.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("decoding corpus %s: %w", path, err)
	}
	if corpus.Sources == nil {
		corpus.Sources = make(map[string]int)
	}
	return &corpus, nil
}
