// Package retrieve ranks indexed knowledge chunks against natural-language
// queries. Vector similarity is used when the index has an active backend;
// keyword scoring covers every other case.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/index"
)

var tracer = otel.Tracer("corpusd.retrieve")

// ErrInvalidArgument indicates an out-of-range search argument.
var ErrInvalidArgument = errors.New("invalid retrieval argument")

// Search methods.
const (
	MethodAuto    = "auto"
	MethodVector  = "vector"
	MethodKeyword = "keyword"
	MethodNone    = "none"
)

var wordPattern = regexp.MustCompile(`\w+`)

// Result is a single retrieval hit with its relevance score.
type Result struct {
	ChunkID        int     `json:"chunk_id"`
	Text           string  `json:"text"`
	Score          float64 `json:"score"`
	Source         string  `json:"source"`
	ConversationID string  `json:"conversation_id"`
	Title          string  `json:"title"`
}

// Response is the outcome of a retrieval query. Method records the
// strategy that actually produced the results, which may differ from the
// one requested when a fallback occurred.
type Response struct {
	Query         string   `json:"query"`
	Results       []Result `json:"results"`
	TotalSearched int      `json:"total_searched"`
	Method        string   `json:"method"`
}

// TopResult returns the highest-scored result, or nil if there are none.
func (r *Response) TopResult() *Result {
	if len(r.Results) == 0 {
		return nil
	}
	return &r.Results[0]
}

// HasResults reports whether any results were returned.
func (r *Response) HasResults() bool {
	return len(r.Results) > 0
}

// SearchOptions control a retrieval query.
type SearchOptions struct {
	// TopK is the maximum number of results. Must be >= 1.
	TopK int

	// Method selects the search strategy: auto, vector, or keyword.
	// Unrecognized values fall back to keyword.
	Method string

	// MinScore filters out results scoring below it. Must be >= 0.
	MinScore float64
}

// Retriever searches the knowledge index.
type Retriever struct {
	indexer *index.Indexer
	logger  *zap.Logger
}

// NewRetriever creates a Retriever over the given index.
func NewRetriever(indexer *index.Indexer, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{indexer: indexer, logger: logger}
}

// Search ranks chunks against the query and returns up to TopK results.
//
// Method auto resolves to vector when the vector backend is active, else
// keyword. A vector search that fails at the backend transparently falls
// back to keyword; the response's Method reflects what actually ran. An
// empty index yields an empty response with method "none".
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) (*Response, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Int("top_k", opts.TopK),
		attribute.String("method", opts.Method),
	)

	if opts.TopK < 1 {
		return nil, fmt.Errorf("%w: top_k must be >= 1, got %d", ErrInvalidArgument, opts.TopK)
	}
	if opts.MinScore < 0 {
		return nil, fmt.Errorf("%w: min_score must be >= 0, got %g", ErrInvalidArgument, opts.MinScore)
	}

	method := opts.Method
	switch method {
	case MethodAuto, MethodVector, MethodKeyword:
	case "":
		method = MethodAuto
	default:
		r.logger.Warn("unknown search method, falling back to keyword",
			zap.String("method", method))
		method = MethodKeyword
	}

	chunks := r.indexer.Chunks()
	if len(chunks) == 0 {
		return &Response{Query: query, Method: MethodNone}, nil
	}

	if method == MethodAuto {
		if r.indexer.VectorActive() {
			method = MethodVector
		} else {
			method = MethodKeyword
		}
	}

	var resp *Response
	if method == MethodVector {
		resp = r.vectorSearch(ctx, query, opts.TopK, chunks)
	} else {
		resp = r.keywordSearch(query, opts.TopK, chunks)
	}

	if opts.MinScore > 0 {
		filtered := resp.Results[:0]
		for _, res := range resp.Results {
			if res.Score >= opts.MinScore {
				filtered = append(filtered, res)
			}
		}
		resp.Results = filtered
	}

	span.SetAttributes(
		attribute.String("resolved_method", resp.Method),
		attribute.Int("results", len(resp.Results)),
	)
	return resp, nil
}

func (r *Retriever) vectorSearch(ctx context.Context, query string, topK int, chunks []index.IndexedChunk) *Response {
	hits, err := r.indexer.VectorSearch(ctx, query, topK)
	if err != nil {
		r.logger.Warn("vector search failed, falling back to keyword", zap.Error(err))
		return r.keywordSearch(query, topK, chunks)
	}

	resp := &Response{
		Query:         query,
		TotalSearched: len(chunks),
		Method:        MethodVector,
	}
	for _, hit := range hits {
		resp.Results = append(resp.Results, Result{
			ChunkID:        hit.Chunk.ChunkID,
			Text:           hit.Chunk.Text,
			Score:          1.0 / (1.0 + hit.Distance),
			Source:         hit.Chunk.Source,
			ConversationID: hit.Chunk.ConversationID,
			Title:          hit.Chunk.Title,
		})
	}
	return resp
}

func (r *Retriever) keywordSearch(query string, topK int, chunks []index.IndexedChunk) *Response {
	resp := &Response{
		Query:         query,
		TotalSearched: len(chunks),
		Method:        MethodKeyword,
	}

	queryLower := strings.ToLower(query)
	queryTerms := tokenSet(queryLower)
	if len(queryTerms) == 0 {
		return resp
	}

	type scoredChunk struct {
		score float64
		chunk index.IndexedChunk
	}
	var scored []scoredChunk

	for _, chunk := range chunks {
		textLower := strings.ToLower(chunk.Text)
		chunkTerms := tokenSet(textLower)
		if len(chunkTerms) == 0 {
			continue
		}

		matched := 0
		for term := range queryTerms {
			if _, ok := chunkTerms[term]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}

		// Fraction of query terms matched; deliberately asymmetric and
		// unbounded after the boosts so existing thresholds keep working.
		score := float64(matched) / float64(len(queryTerms))

		if strings.Contains(textLower, queryLower) {
			score *= 1.5
		}
		if chunk.Title != "" {
			titleLower := strings.ToLower(chunk.Title)
			for term := range queryTerms {
				if strings.Contains(titleLower, term) {
					score *= 1.2
					break
				}
			}
		}

		scored = append(scored, scoredChunk{score: score, chunk: chunk})
	}

	// Ties keep original chunk order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	for _, sc := range scored {
		resp.Results = append(resp.Results, Result{
			ChunkID:        sc.chunk.ChunkID,
			Text:           sc.chunk.Text,
			Score:          sc.score,
			Source:         sc.chunk.Source,
			ConversationID: sc.chunk.ConversationID,
			Title:          sc.chunk.Title,
		})
	}
	return resp
}

func tokenSet(lowered string) map[string]struct{} {
	tokens := wordPattern.FindAllString(lowered, -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// GetContextForPrompt retrieves relevant chunks and formats them for
// injection into an LLM prompt. Result texts are concatenated greedily
// until the approximate character budget (maxTokens * 4) would be
// exceeded. Returns an empty string when nothing matches.
func (r *Retriever) GetContextForPrompt(ctx context.Context, query string, maxTokens, topK int) (string, error) {
	resp, err := r.Search(ctx, query, SearchOptions{TopK: topK, Method: MethodAuto})
	if err != nil {
		return "", err
	}
	if !resp.HasResults() {
		return "", nil
	}

	maxChars := maxTokens * 4
	var parts []string
	totalChars := 0

	for _, res := range resp.Results {
		if totalChars+len(res.Text) > maxChars {
			break
		}
		parts = append(parts, fmt.Sprintf("[Source: %s | %s]\n%s\n", res.Source, res.Title, res.Text))
		totalChars += len(res.Text)
	}
	return strings.Join(parts, "\n---\n"), nil
}

// FormatResponse renders a retrieval response for display.
func FormatResponse(resp *Response) string {
	lines := []string{
		fmt.Sprintf("Query: %s", resp.Query),
		fmt.Sprintf("Method: %s", resp.Method),
		fmt.Sprintf("Results: %d/%d", len(resp.Results), resp.TotalSearched),
		"",
	}
	for i, res := range resp.Results {
		lines = append(lines, fmt.Sprintf("  [%d] Score: %.3f | %s | %s", i+1, res.Score, res.Source, res.Title))
		preview := res.Text
		if len(preview) > 100 {
			preview = preview[:100]
		}
		preview = strings.ReplaceAll(preview, "\n", " ")
		lines = append(lines, fmt.Sprintf("      %s...", preview), "")
	}
	return strings.Join(lines, "\n")
}
