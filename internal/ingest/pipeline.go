// Package ingest orchestrates the ingestion pipeline: parse the raw
// export, scan the normalized messages, persist the record, and attach
// best-effort intelligence.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/analyze"
	"github.com/fyrsmithlabs/corpusd/internal/platform"
	"github.com/fyrsmithlabs/corpusd/internal/security"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

var tracer = otel.Tracer("corpusd.ingest")

// Request is a single ingestion submission.
type Request struct {
	// Content is the raw export text or serialized structured content.
	Content string

	// Platform is an optional platform hint.
	Platform string

	// SourceURL is the share or export origin, if known.
	SourceURL string

	// Analyze requests intelligence extraction after persistence.
	Analyze bool
}

// Result summarizes a completed ingestion.
type Result struct {
	Status           string              `json:"status"`
	ConversationID   string              `json:"conversation_id"`
	Platform         string              `json:"platform"`
	MessageCount     int                 `json:"message_count"`
	SecurityFindings int                 `json:"security_findings"`
	Warnings         []string            `json:"warnings"`
	Intelligence     *store.Intelligence `json:"intelligence,omitempty"`
}

// Pipeline wires the parser, scanner, store and analyzer together.
type Pipeline struct {
	store    *store.Store
	scanner  *security.Scanner
	analyzer *analyze.Service
	timeout  time.Duration
	logger   *zap.Logger
}

// NewPipeline creates an ingestion pipeline. The analyzer may be nil when
// intelligence extraction is not configured; analyzeTimeout bounds each
// analysis call and defaults to 60 seconds.
func NewPipeline(st *store.Store, scanner *security.Scanner, analyzer *analyze.Service, analyzeTimeout time.Duration, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if analyzeTimeout == 0 {
		analyzeTimeout = 60 * time.Second
	}
	return &Pipeline{
		store:    st,
		scanner:  scanner,
		analyzer: analyzer,
		timeout:  analyzeTimeout,
		logger:   logger,
	}
}

// Ingest runs the pipeline for one submission. Content that yields no
// messages is rejected with platform.ErrNoMessages; everything past
// parsing proceeds with best-effort degradation recorded in warnings.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("platform_hint", req.Platform))

	conv := platform.Parse(req.Content, platform.Platform(req.Platform), req.SourceURL)
	if len(conv.Messages) == 0 {
		return nil, fmt.Errorf("%w: check format or platform", platform.ErrNoMessages)
	}

	findings := p.scanner.Scan(conv.Messages)
	if len(findings) > 0 {
		conv.Warnings = append(conv.Warnings,
			fmt.Sprintf("%d security finding(s) detected", len(findings)))
	}

	id, err := p.store.Save(ctx, conv, findings)
	if err != nil {
		return nil, fmt.Errorf("persisting conversation: %w", err)
	}

	result := &Result{
		Status:           "ok",
		ConversationID:   id,
		Platform:         string(conv.Platform),
		MessageCount:     len(conv.Messages),
		SecurityFindings: len(findings),
		Warnings:         conv.Warnings,
	}
	if result.Warnings == nil {
		result.Warnings = []string{}
	}

	if req.Analyze && p.analyzer != nil {
		result.Intelligence = p.analyzeAndSave(ctx, conv)
	}

	p.logger.Info("conversation ingested",
		zap.String("conversation_id", id),
		zap.String("platform", result.Platform),
		zap.Int("messages", result.MessageCount),
		zap.Int("security_findings", result.SecurityFindings))
	return result, nil
}

// analyzeAndSave runs intelligence extraction with a bounded timeout. No
// store lock is held during the call; the result is persisted afterwards.
// Any failure degrades to absent intelligence.
func (p *Pipeline) analyzeAndSave(ctx context.Context, conv platform.Conversation) *store.Intelligence {
	analyzeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	intel, err := p.analyzer.Analyze(analyzeCtx, conv)
	if err != nil {
		p.logger.Warn("analysis unavailable, continuing without intelligence",
			zap.String("conversation_id", conv.ConversationID),
			zap.Error(err))
		return nil
	}
	if intel == nil {
		return nil
	}

	if err := p.store.SaveIntelligence(ctx, *intel); err != nil {
		p.logger.Warn("failed to persist intelligence",
			zap.String("conversation_id", conv.ConversationID),
			zap.Error(err))
	}
	return intel
}
