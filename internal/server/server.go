// Package server exposes the corpusd HTTP API: conversation ingestion and
// lookup under /api/chat, knowledge retrieval under /api/knowledge.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/index"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/platform"
	"github.com/fyrsmithlabs/corpusd/internal/retrieve"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

const maxUploadBytes = 32 << 20

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the corpusd HTTP endpoints.
type Server struct {
	echo      *echo.Echo
	pipeline  *ingest.Pipeline
	store     *store.Store
	indexer   *index.Indexer
	retriever *retrieve.Retriever
	metrics   *Metrics
	logger    *zap.Logger
	config    *Config
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(pipeline *ingest.Pipeline, st *store.Store, indexer *index.Indexer, retriever *retrieve.Retriever, logger *zap.Logger, cfg *Config) (*Server, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9180}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		pipeline:  pipeline,
		store:     st,
		indexer:   indexer,
		retriever: retriever,
		metrics:   NewMetrics(),
		logger:    logger,
		config:    cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.observe)

	s.registerRoutes()
	return s, nil
}

func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				status = httpErr.Code
			}
		}

		s.metrics.requestsTotal.WithLabelValues(
			c.Request().Method, c.Path(), strconv.Itoa(status)).Inc()
		s.logger.Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	chat := s.echo.Group("/api/chat")
	chat.POST("/ingest", s.handleIngest)
	chat.POST("/ingest/upload", s.handleIngestUpload)
	chat.POST("/detect", s.handleDetect)
	chat.GET("/platforms", s.handlePlatforms)
	chat.GET("/conversations", s.handleListConversations)
	chat.GET("/conversations/:id", s.handleGetConversation)
	chat.GET("/search", s.handleSearchConversations)

	knowledge := s.echo.Group("/api/knowledge")
	knowledge.POST("/search", s.handleKnowledgeSearch)
	knowledge.POST("/context", s.handleKnowledgeContext)
	knowledge.GET("/stats", s.handleKnowledgeStats)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// IngestRequest is the request body for POST /api/chat/ingest. Content
// accepts either a JSON string or structured JSON, which is re-serialized
// before parsing. Analyze defaults to true when absent.
type IngestRequest struct {
	Content   json.RawMessage `json:"content"`
	Platform  string          `json:"platform"`
	SourceURL string          `json:"source_url"`
	Analyze   *bool           `json:"analyze"`
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Content) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	content := normalizeContent(req.Content)
	result, err := s.pipeline.Ingest(c.Request().Context(), ingest.Request{
		Content:   content,
		Platform:  req.Platform,
		SourceURL: req.SourceURL,
		Analyze:   req.Analyze == nil || *req.Analyze,
	})
	if err != nil {
		s.metrics.ingestTotal.WithLabelValues(req.Platform, "rejected").Inc()
		if errors.Is(err, platform.ErrNoMessages) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity,
				"no messages extracted, check format or platform")
		}
		s.logger.Error("ingestion failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "ingestion failed")
	}

	s.metrics.ingestTotal.WithLabelValues(result.Platform, "ok").Inc()
	s.metrics.findingsTotal.Add(float64(result.SecurityFindings))
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleIngestUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}
	if fileHeader.Size > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}

	f, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot open uploaded file")
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	content := string(raw)
	if !utf8.ValidString(content) {
		return echo.NewHTTPError(http.StatusBadRequest, "file must be UTF-8 encoded")
	}

	// Analysis is opted out of, not into.
	analyze := c.FormValue("analyze") != "false"
	result, err := s.pipeline.Ingest(c.Request().Context(), ingest.Request{
		Content:   content,
		Platform:  c.FormValue("platform"),
		SourceURL: "upload://" + fileHeader.Filename,
		Analyze:   analyze,
	})
	if err != nil {
		s.metrics.ingestTotal.WithLabelValues(c.FormValue("platform"), "rejected").Inc()
		if errors.Is(err, platform.ErrNoMessages) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity,
				"no messages extracted, check format or platform")
		}
		s.logger.Error("upload ingestion failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "ingestion failed")
	}

	s.metrics.ingestTotal.WithLabelValues(result.Platform, "ok").Inc()
	s.metrics.findingsTotal.Add(float64(result.SecurityFindings))
	return c.JSON(http.StatusOK, result)
}

// DetectRequest is the request body for POST /api/chat/detect.
type DetectRequest struct {
	URL           string `json:"url"`
	ContentSample string `json:"content_sample"`
}

// PlatformInfo describes one registered platform.
type PlatformInfo struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	Instructions string `json:"instructions"`
}

// DetectResponse is the response body for POST /api/chat/detect.
type DetectResponse struct {
	Detected           bool           `json:"detected"`
	Platform           string         `json:"platform,omitempty"`
	DisplayName        string         `json:"display_name,omitempty"`
	Confidence         float64        `json:"confidence"`
	Instructions       string         `json:"instructions,omitempty"`
	AvailablePlatforms []PlatformInfo `json:"available_platforms,omitempty"`
}

func (s *Server) handleDetect(c echo.Context) error {
	var req DetectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	name, confidence := platform.Detect(req.URL, req.ContentSample)
	if name != "" {
		for _, cfg := range platform.Registry() {
			if cfg.Name == name {
				return c.JSON(http.StatusOK, DetectResponse{
					Detected:     true,
					Platform:     string(name),
					DisplayName:  cfg.DisplayName,
					Confidence:   confidence,
					Instructions: cfg.ExportInstructions,
				})
			}
		}
	}

	return c.JSON(http.StatusOK, DetectResponse{
		Detected:           false,
		Confidence:         0,
		AvailablePlatforms: platformInfos(),
	})
}

func (s *Server) handlePlatforms(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]PlatformInfo{
		"platforms": platformInfos(),
	})
}

func platformInfos() []PlatformInfo {
	configs := platform.Registry()
	out := make([]PlatformInfo, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, PlatformInfo{
			Name:         string(cfg.Name),
			DisplayName:  cfg.DisplayName,
			Instructions: cfg.ExportInstructions,
		})
	}
	return out
}

func (s *Server) handleListConversations(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		limit = parsed
	}

	convs, err := s.store.List(c.Request().Context(), limit, c.QueryParam("platform"))
	if err != nil {
		if errors.Is(err, store.ErrInvalidArgument) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("listing conversations failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing failed")
	}
	if convs == nil {
		convs = []store.Summary{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversations": convs,
		"total":         len(convs),
	})
}

func (s *Server) handleGetConversation(c echo.Context) error {
	rec, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		s.logger.Error("getting conversation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleSearchConversations(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		limit = parsed
	}

	results, err := s.store.Search(c.Request().Context(), query, limit)
	if err != nil {
		if errors.Is(err, store.ErrInvalidArgument) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("conversation search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	if results == nil {
		results = []store.Summary{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}

// KnowledgeSearchRequest is the request body for POST /api/knowledge/search.
type KnowledgeSearchRequest struct {
	Query    string  `json:"query"`
	TopK     int     `json:"top_k"`
	Method   string  `json:"method"`
	MinScore float64 `json:"min_score"`
}

func (s *Server) handleKnowledgeSearch(c echo.Context) error {
	if s.retriever == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "knowledge index not configured")
	}

	var req KnowledgeSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if req.TopK == 0 {
		req.TopK = 5
	}

	resp, err := s.retriever.Search(c.Request().Context(), req.Query, retrieve.SearchOptions{
		TopK:     req.TopK,
		Method:   req.Method,
		MinScore: req.MinScore,
	})
	if err != nil {
		if errors.Is(err, retrieve.ErrInvalidArgument) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("knowledge search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	if resp.Results == nil {
		resp.Results = []retrieve.Result{}
	}

	s.metrics.searchTotal.WithLabelValues(resp.Method).Inc()
	return c.JSON(http.StatusOK, resp)
}

// KnowledgeContextRequest is the request body for POST /api/knowledge/context.
type KnowledgeContextRequest struct {
	Query     string `json:"query"`
	MaxTokens int    `json:"max_tokens"`
	TopK      int    `json:"top_k"`
}

func (s *Server) handleKnowledgeContext(c echo.Context) error {
	if s.retriever == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "knowledge index not configured")
	}

	var req KnowledgeContextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 2000
	}
	if req.TopK == 0 {
		req.TopK = 3
	}

	text, err := s.retriever.GetContextForPrompt(c.Request().Context(), req.Query, req.MaxTokens, req.TopK)
	if err != nil {
		if errors.Is(err, retrieve.ErrInvalidArgument) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("context retrieval failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "context retrieval failed")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"query":   req.Query,
		"context": text,
	})
}

func (s *Server) handleKnowledgeStats(c echo.Context) error {
	if s.indexer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "knowledge index not configured")
	}
	return c.JSON(http.StatusOK, s.indexer.Stats())
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// normalizeContent flattens the content field: a JSON string is unquoted,
// anything else is passed through as its serialized form.
func normalizeContent(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(raw)
}
