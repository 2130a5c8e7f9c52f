// Package main implements the corpusctl CLI for offline corpus operations:
// consolidating exports, building the knowledge index, and querying it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/consolidate"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/index"
	"github.com/fyrsmithlabs/corpusd/internal/platform"
	"github.com/fyrsmithlabs/corpusd/internal/retrieve"
)

var (
	version = "dev"

	indexDir     string
	embedderName string
	embeddingDim int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "corpusctl",
	Short: "CLI for corpus consolidation and knowledge retrieval",
	Long: `corpusctl operates on the chat corpus offline: it merges platform
exports into a deduplicated corpus file, builds the retrieval index from
it, and answers queries against that index.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&indexDir, "index-dir",
		filepath.Join("data", "rag_index"), "knowledge index directory")
	rootCmd.PersistentFlags().StringVar(&embedderName, "embeddings", "hash",
		"embedding provider (fastembed or hash)")
	rootCmd.PersistentFlags().IntVar(&embeddingDim, "dim", 384,
		"embedding dimension for the hash provider")

	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
}

var consolidateFlags struct {
	out      string
	platform string
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate [export files...]",
	Short: "Merge platform exports into one deduplicated corpus file",
	Long: `Parse each export file, merge the conversations into a unified
corpus, deduplicate near-identical transcripts, and write the corpus JSON.

Examples:
  corpusctl consolidate --out corpus.json chatgpt.json claude.json
  corpusctl consolidate --platform chatgpt --out corpus.json conversations.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConsolidate,
}

var indexFlags struct {
	corpus        string
	maxChunkChars int
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the knowledge index from a corpus file",
	Long: `Load a consolidated corpus, split it into retrieval chunks, embed
them, and persist the index.

Examples:
  corpusctl index --corpus corpus.json
  corpusctl index --corpus corpus.json --embeddings fastembed`,
	RunE: runIndex,
}

var searchFlags struct {
	topK     int
	method   string
	minScore float64
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Query the knowledge index",
	Long: `Search the persisted knowledge index and print ranked results.

Examples:
  corpusctl search "docker compose networking"
  corpusctl search --method keyword --top-k 10 "terraform state"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print knowledge index statistics",
	RunE:  runStats,
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidateFlags.out, "out", "corpus.json", "output corpus file")
	consolidateCmd.Flags().StringVar(&consolidateFlags.platform, "platform", "", "platform hint for all export files")

	indexCmd.Flags().StringVar(&indexFlags.corpus, "corpus", "corpus.json", "consolidated corpus file")
	indexCmd.Flags().IntVar(&indexFlags.maxChunkChars, "max-chunk-chars", 2000, "maximum characters per chunk")

	searchCmd.Flags().IntVar(&searchFlags.topK, "top-k", 5, "maximum results")
	searchCmd.Flags().StringVar(&searchFlags.method, "method", "auto", "search method (auto, vector, keyword)")
	searchCmd.Flags().Float64Var(&searchFlags.minScore, "min-score", 0, "minimum result score")
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()
	consolidator := consolidate.NewConsolidator(logger)

	var exports []consolidate.Export
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		conv := platform.Parse(string(content), platform.Platform(consolidateFlags.platform), "")
		if len(conv.Messages) == 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: no messages extracted\n", path)
			continue
		}

		source := string(conv.Platform)
		if source == "" || conv.Platform == platform.PlatformGeneric {
			source = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		exports = append(exports, consolidate.ExportFromConversation(conv, source))
	}
	if len(exports) == 0 {
		return fmt.Errorf("no usable exports among %d file(s)", len(args))
	}

	corpus := consolidator.Consolidate(exports)
	if err := consolidator.SaveCorpus(corpus, consolidateFlags.out); err != nil {
		return fmt.Errorf("writing corpus: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"wrote %s: %d conversation(s), %d message(s), %d deduplicated\n",
		consolidateFlags.out, corpus.TotalConversations, corpus.TotalMessages, corpus.Deduplicated)
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()
	consolidator := consolidate.NewConsolidator(logger)

	corpus, err := consolidator.LoadCorpus(indexFlags.corpus)
	if err != nil {
		return fmt.Errorf("loading corpus: %w", err)
	}
	chunks, err := consolidator.ExtractChunks(corpus, indexFlags.maxChunkChars)
	if err != nil {
		return fmt.Errorf("extracting chunks: %w", err)
	}

	idx, err := openIndexer(logger)
	if err != nil {
		return err
	}
	defer idx.Close()

	// Continue from a previous run when index artifacts already exist.
	if err := idx.Load(); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "resuming existing index with %d chunk(s)\n", len(idx.Chunks()))
	}

	added, err := idx.AddChunks(context.Background(), chunks, true)
	if err != nil {
		return fmt.Errorf("indexing chunks: %w", err)
	}
	if err := idx.Save(); err != nil {
		return fmt.Errorf("saving index: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunk(s) into %s\n", added, indexDir)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()

	idx, err := openIndexer(logger)
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.Load(); err != nil {
		return fmt.Errorf("loading index from %s: %w", indexDir, err)
	}

	retriever := retrieve.NewRetriever(idx, logger)
	resp, err := retriever.Search(context.Background(), args[0], retrieve.SearchOptions{
		TopK:     searchFlags.topK,
		Method:   searchFlags.method,
		MinScore: searchFlags.minScore,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), retrieve.FormatResponse(resp))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	idx, err := openIndexer(zap.NewNop())
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.Load(); err != nil {
		return fmt.Errorf("loading index from %s: %w", indexDir, err)
	}

	out, err := json.MarshalIndent(idx.Stats(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// openIndexer builds the embedding provider and indexer from the global
// flags. A failed fastembed init degrades to the hash provider.
func openIndexer(logger *zap.Logger) (*index.Indexer, error) {
	var provider embeddings.Provider

	if embedderName == "fastembed" {
		p, err := embeddings.NewFastEmbedProvider(embeddings.FastEmbedConfig{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "fastembed unavailable (%v), using hash embeddings\n", err)
		} else {
			provider = p
		}
	}
	if provider == nil {
		p, err := embeddings.NewHashProvider(embeddingDim)
		if err != nil {
			return nil, fmt.Errorf("creating hash provider: %w", err)
		}
		provider = p
	}

	return index.NewIndexer(index.Config{
		Dir:          indexDir,
		EmbeddingDim: provider.Dimension(),
	}, provider, logger)
}
