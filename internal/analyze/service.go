// Package analyze extracts structured intelligence from conversations via
// an OpenRouter-compatible chat-completions endpoint. Analysis is strictly
// best-effort: a missing credential, a timeout, or unparseable output all
// degrade to "no intelligence" rather than failing ingestion.
package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/platform"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

var tracer = otel.Tracer("corpusd.analyze")

// ErrAnalysisFailed indicates the intelligence call errored or returned
// content that could not be parsed. Callers treat it as "no intelligence".
var ErrAnalysisFailed = errors.New("conversation analysis failed")

const (
	maxMessages       = 60
	maxMessageChars   = 800
	maxPromptChars    = 12000
	minTranscriptSize = 50
)

const systemPrompt = `You are an expert analyst extracting intelligence from AI conversations.
Analyze the conversation and return ONLY JSON in this exact format:
{
  "summary": "2-3 sentence summary",
  "main_topics": ["topic1", "topic2"],
  "technologies_mentioned": ["Python", "FastAPI"],
  "decisions_made": ["decision1"],
  "code_artifacts": [{"language": "python", "description": "desc", "snippet": "..."}],
  "knowledge_extracted": ["insight1"],
  "osint_relevance": "why it is relevant",
  "content_type": "TECHNICAL|RESEARCH|PLANNING|CREATIVE|ANALYSIS|GENERIC"
}`

// Config holds analysis service configuration.
type Config struct {
	// BaseURL is the chat-completions API root.
	BaseURL string

	// APIKey authorizes requests. Empty disables analysis entirely.
	APIKey string

	// Model is the model identifier sent with each request.
	Model string

	// Timeout bounds each analysis call.
	Timeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Model == "" {
		c.Model = "google/gemini-2.5-flash"
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// Enabled reports whether a credential is configured.
func (c *Config) Enabled() bool {
	return c.APIKey != ""
}

// Service calls the intelligence endpoint.
type Service struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewService creates an analysis Service.
func NewService(cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	return &Service{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type analysisResult struct {
	Summary               string               `json:"summary"`
	MainTopics            []string             `json:"main_topics"`
	TechnologiesMentioned []string             `json:"technologies_mentioned"`
	DecisionsMade         []string             `json:"decisions_made"`
	CodeArtifacts         []store.CodeArtifact `json:"code_artifacts"`
	KnowledgeExtracted    []string             `json:"knowledge_extracted"`
	OSINTRelevance        string               `json:"osint_relevance"`
	ContentType           string               `json:"content_type"`
}

// Analyze extracts intelligence from a conversation. Returns (nil, nil)
// when analysis does not apply: no credential configured, or a transcript
// too short to be worth a call. Call failures return ErrAnalysisFailed.
func (s *Service) Analyze(ctx context.Context, conv platform.Conversation) (*store.Intelligence, error) {
	ctx, span := tracer.Start(ctx, "Service.Analyze")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conv.ConversationID))

	if !s.config.Enabled() {
		return nil, nil
	}

	prompt := buildPrompt(conv)
	if prompt == "" {
		s.logger.Debug("transcript too short for analysis",
			zap.String("conversation_id", conv.ConversationID))
		return nil, nil
	}

	req := chatRequest{
		Model: s.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   2000,
	}
	req.ResponseFormat.Type = "json_object"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrAnalysisFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.config.BaseURL, "/")+"/chat/completions",
		bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrAnalysisFailed, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn("analysis call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("analysis endpoint returned non-200",
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrAnalysisFailed, resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrAnalysisFailed, err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrAnalysisFailed)
	}

	var result analysisResult
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &result); err != nil {
		s.logger.Warn("analysis returned unparseable content", zap.Error(err))
		return nil, fmt.Errorf("%w: unparseable content: %v", ErrAnalysisFailed, err)
	}

	return &store.Intelligence{
		ConversationID:        conv.ConversationID,
		Platform:              string(conv.Platform),
		Summary:               result.Summary,
		MainTopics:            result.MainTopics,
		TechnologiesMentioned: result.TechnologiesMentioned,
		DecisionsMade:         result.DecisionsMade,
		CodeArtifacts:         result.CodeArtifacts,
		KnowledgeExtracted:    result.KnowledgeExtracted,
		OSINTRelevance:        result.OSINTRelevance,
		ContentType:           result.ContentType,
	}, nil
}

// buildPrompt renders the capped transcript. Returns empty when the
// rendered transcript is below the minimum worth analyzing.
func buildPrompt(conv platform.Conversation) string {
	messages := conv.Messages
	if len(messages) > maxMessages {
		messages = messages[:maxMessages]
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		label := "ASSISTANT"
		if msg.Role == platform.RoleUser {
			label = "USER"
		}
		content := msg.Content
		if len(content) > maxMessageChars {
			content = content[:maxMessageChars]
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, content))
	}
	transcript := strings.Join(lines, "\n")
	if len(transcript) < minTranscriptSize {
		return ""
	}
	if len(transcript) > maxPromptChars {
		transcript = transcript[:maxPromptChars]
	}

	title := conv.Title
	if title == "" {
		title = "Untitled"
	}
	return fmt.Sprintf("PLATFORM: %s\nTITLE: %s\nMESSAGES: %d\n\nCONVERSATION:\n%s",
		conv.Platform, title, len(conv.Messages), transcript)
}
