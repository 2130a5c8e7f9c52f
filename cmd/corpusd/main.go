// Corpusd is a daemon serving the chat-corpus ingestion and knowledge
// retrieval API over HTTP.
//
// Conversations are ingested under /api/chat, scanned for leaked secrets
// and PII, persisted in SQLite, and served back for search. The knowledge
// index under /api/knowledge answers ranked retrieval queries over the
// consolidated corpus.
//
// Usage:
//
//	# Start with defaults
//	corpusd
//
//	# Configure via file and environment
//	corpusd -config /etc/corpusd/config.yaml
//	CORPUSD_SERVER_PORT=8080 corpusd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/analyze"
	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/index"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/retrieve"
	"github.com/fyrsmithlabs/corpusd/internal/security"
	"github.com/fyrsmithlabs/corpusd/internal/server"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("corpusd\nVersion:    %s\nCommit:     %s\nBuild Date: %s\n",
			version, gitCommit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down gracefully", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Println("server shutdown complete")
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting corpusd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port))

	provider := newProvider(cfg, logger)

	st, err := store.NewStore(store.Config{Path: cfg.Store.Path}, logger)
	if err != nil {
		return fmt.Errorf("opening conversation store: %w", err)
	}
	defer st.Close()

	dim := cfg.Index.EmbeddingDim
	if provider != nil {
		dim = provider.Dimension()
	}
	indexer, err := index.NewIndexer(index.Config{
		Dir:          cfg.Index.Dir,
		EmbeddingDim: dim,
	}, provider, logger)
	if err != nil {
		return fmt.Errorf("creating knowledge index: %w", err)
	}
	defer indexer.Close()

	if err := indexer.Load(); err != nil {
		if errors.Is(err, index.ErrLoadFailed) {
			logger.Info("no existing index to restore", zap.Error(err))
		} else {
			return fmt.Errorf("restoring knowledge index: %w", err)
		}
	}

	var analyzer *analyze.Service
	if cfg.Analysis.APIKey != "" {
		analyzer = analyze.NewService(analyze.Config{
			BaseURL: cfg.Analysis.BaseURL,
			APIKey:  cfg.Analysis.APIKey,
			Model:   cfg.Analysis.Model,
			Timeout: cfg.Analysis.Timeout,
		}, logger)
	} else {
		logger.Info("no analysis credential configured, intelligence extraction disabled")
	}

	pipeline := ingest.NewPipeline(st, security.NewScanner(logger), analyzer, cfg.Analysis.Timeout, logger)
	retriever := retrieve.NewRetriever(indexer, logger)

	srv, err := server.NewServer(pipeline, st, indexer, retriever, logger, &server.Config{
		Host: "0.0.0.0",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// newProvider builds the embedding provider. The learned backend is
// preferred; any construction failure degrades to the deterministic hash
// provider with a warning.
func newProvider(cfg *config.Config, logger *zap.Logger) embeddings.Provider {
	if cfg.Embeddings.Provider == "fastembed" {
		provider, err := embeddings.NewFastEmbedProvider(embeddings.FastEmbedConfig{
			Model:    cfg.Embeddings.Model,
			CacheDir: cfg.Embeddings.CacheDir,
		})
		if err == nil {
			logger.Info("using fastembed embeddings",
				zap.Int("dim", provider.Dimension()))
			return provider
		}
		logger.Warn("fastembed unavailable, falling back to hash embeddings",
			zap.Error(err))
	}

	provider, err := embeddings.NewHashProvider(cfg.Index.EmbeddingDim)
	if err != nil {
		logger.Warn("hash provider unavailable, index runs in keyword-only mode",
			zap.Error(err))
		return nil
	}
	logger.Info("using deterministic hash embeddings",
		zap.Int("dim", provider.Dimension()))
	return provider
}
