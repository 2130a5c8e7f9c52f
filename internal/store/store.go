package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/platform"
	"github.com/fyrsmithlabs/corpusd/internal/security"
)

var tracer = otel.Tracer("corpusd.store")

var (
	// ErrNotFound indicates the conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidArgument indicates an out-of-range argument.
	ErrInvalidArgument = errors.New("invalid store argument")
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_conversations (
    conversation_id TEXT PRIMARY KEY,
    platform TEXT NOT NULL,
    title TEXT,
    source_url TEXT,
    message_count INTEGER DEFAULT 0,
    created_at TEXT,
    ingested_at TEXT NOT NULL,
    messages_json TEXT NOT NULL,
    warnings_json TEXT,
    security_findings_json TEXT
);
CREATE TABLE IF NOT EXISTS chat_intelligence (
    conversation_id TEXT PRIMARY KEY,
    platform TEXT,
    summary TEXT,
    main_topics_json TEXT,
    technologies_json TEXT,
    decisions_json TEXT,
    code_artifacts_json TEXT,
    knowledge_json TEXT,
    osint_relevance TEXT,
    analyzed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cc_platform ON chat_conversations(platform);
CREATE INDEX IF NOT EXISTS idx_cc_ingested ON chat_conversations(ingested_at);
`

// Config holds store configuration.
type Config struct {
	// Path is the SQLite database file. Parent directories are created.
	Path string
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = filepath.Join(".", "data", "corpusd.db")
	}
}

// Summary is a conversation listing row without message bodies.
type Summary struct {
	ConversationID string `json:"conversation_id"`
	Platform       string `json:"platform"`
	Title          string `json:"title"`
	SourceURL      string `json:"source_url,omitempty"`
	MessageCount   int    `json:"message_count"`
	CreatedAt      string `json:"created_at,omitempty"`
	IngestedAt     string `json:"ingested_at"`
}

// CodeArtifact is a code snippet extracted by analysis.
type CodeArtifact struct {
	Language    string `json:"language"`
	Description string `json:"description"`
	Snippet     string `json:"snippet"`
}

// Intelligence is the analysis result attached to a conversation.
type Intelligence struct {
	ConversationID        string         `json:"conversation_id"`
	Platform              string         `json:"platform"`
	Summary               string         `json:"summary"`
	MainTopics            []string       `json:"main_topics"`
	TechnologiesMentioned []string       `json:"technologies_mentioned"`
	DecisionsMade         []string       `json:"decisions_made"`
	CodeArtifacts         []CodeArtifact `json:"code_artifacts"`
	KnowledgeExtracted    []string       `json:"knowledge_extracted"`
	OSINTRelevance        string         `json:"osint_relevance"`
	ContentType           string         `json:"content_type,omitempty"`
	AnalyzedAt            string         `json:"analyzed_at,omitempty"`
}

// Record is a fully hydrated stored conversation.
type Record struct {
	Summary
	Messages         []platform.Message `json:"messages"`
	Warnings         []string           `json:"warnings"`
	SecurityFindings []security.Finding `json:"security_findings"`
	Intelligence     *Intelligence      `json:"intelligence,omitempty"`
}

// Store persists conversations in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens (creating if needed) the database and ensures the schema.
func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=30000", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	logger.Info("conversation store ready", zap.String("path", cfg.Path))
	return &Store{db: db, logger: logger}, nil
}

// Save upserts a conversation together with its scan findings. The whole
// record is written atomically; ingested_at is set to the current time.
func (s *Store) Save(ctx context.Context, conv platform.Conversation, findings []security.Finding) (string, error) {
	ctx, span := tracer.Start(ctx, "Store.Save")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conv.ConversationID))

	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return "", fmt.Errorf("encoding messages: %w", err)
	}
	warnings := conv.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return "", fmt.Errorf("encoding warnings: %w", err)
	}
	if findings == nil {
		findings = []security.Finding{}
	}
	findingsJSON, err := json.Marshal(findings)
	if err != nil {
		return "", fmt.Errorf("encoding findings: %w", err)
	}

	var createdAt any
	if conv.CreatedAt != nil {
		createdAt = conv.CreatedAt.UTC().Format(time.RFC3339)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chat_conversations
		 (conversation_id, platform, title, source_url, message_count,
		  created_at, ingested_at, messages_json, warnings_json,
		  security_findings_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ConversationID,
		string(conv.Platform),
		conv.Title,
		conv.SourceURL,
		len(conv.Messages),
		createdAt,
		time.Now().UTC().Format(time.RFC3339),
		string(messagesJSON),
		string(warningsJSON),
		string(findingsJSON),
	)
	if err != nil {
		return "", fmt.Errorf("saving conversation %s: %w", conv.ConversationID, err)
	}

	s.logger.Debug("conversation saved",
		zap.String("conversation_id", conv.ConversationID),
		zap.String("platform", string(conv.Platform)),
		zap.Int("messages", len(conv.Messages)))
	return conv.ConversationID, nil
}

// SaveIntelligence upserts the analysis for a conversation.
func (s *Store) SaveIntelligence(ctx context.Context, intel Intelligence) error {
	ctx, span := tracer.Start(ctx, "Store.SaveIntelligence")
	defer span.End()

	topics, err := json.Marshal(orEmpty(intel.MainTopics))
	if err != nil {
		return fmt.Errorf("encoding topics: %w", err)
	}
	techs, err := json.Marshal(orEmpty(intel.TechnologiesMentioned))
	if err != nil {
		return fmt.Errorf("encoding technologies: %w", err)
	}
	decisions, err := json.Marshal(orEmpty(intel.DecisionsMade))
	if err != nil {
		return fmt.Errorf("encoding decisions: %w", err)
	}
	artifacts := intel.CodeArtifacts
	if artifacts == nil {
		artifacts = []CodeArtifact{}
	}
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("encoding code artifacts: %w", err)
	}
	knowledge, err := json.Marshal(orEmpty(intel.KnowledgeExtracted))
	if err != nil {
		return fmt.Errorf("encoding knowledge: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chat_intelligence
		 (conversation_id, platform, summary, main_topics_json,
		  technologies_json, decisions_json, code_artifacts_json,
		  knowledge_json, osint_relevance, analyzed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intel.ConversationID,
		intel.Platform,
		intel.Summary,
		string(topics),
		string(techs),
		string(decisions),
		string(artifactsJSON),
		string(knowledge),
		intel.OSINTRelevance,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving intelligence for %s: %w", intel.ConversationID, err)
	}
	return nil
}

// List returns conversation summaries, most recently ingested first,
// optionally filtered by platform. Limit must be positive.
func (s *Store) List(ctx context.Context, limit int, platformFilter string) ([]Summary, error) {
	ctx, span := tracer.Start(ctx, "Store.List")
	defer span.End()

	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be >= 1, got %d", ErrInvalidArgument, limit)
	}

	query := `SELECT conversation_id, platform, title, source_url,
	          message_count, created_at, ingested_at
	          FROM chat_conversations`
	args := []any{}
	if platformFilter != "" {
		query += " WHERE platform = ?"
		args = append(args, platformFilter)
	}
	query += " ORDER BY ingested_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var title, sourceURL, createdAt sql.NullString
		if err := rows.Scan(&sum.ConversationID, &sum.Platform, &title,
			&sourceURL, &sum.MessageCount, &createdAt, &sum.IngestedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		sum.Title = title.String
		sum.SourceURL = sourceURL.String
		sum.CreatedAt = createdAt.String
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Get returns the full conversation including messages and, when present,
// its intelligence analysis. Returns ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, conversationID string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "Store.Get")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, platform, title, source_url, message_count,
		 created_at, ingested_at, messages_json, warnings_json,
		 security_findings_json
		 FROM chat_conversations WHERE conversation_id = ?`, conversationID)

	var rec Record
	var title, sourceURL, createdAt sql.NullString
	var messagesJSON string
	var warningsJSON, findingsJSON sql.NullString
	err := row.Scan(&rec.ConversationID, &rec.Platform, &title, &sourceURL,
		&rec.MessageCount, &createdAt, &rec.IngestedAt,
		&messagesJSON, &warningsJSON, &findingsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation %s: %w", conversationID, err)
	}
	rec.Title = title.String
	rec.SourceURL = sourceURL.String
	rec.CreatedAt = createdAt.String

	if err := json.Unmarshal([]byte(messagesJSON), &rec.Messages); err != nil {
		return nil, fmt.Errorf("decoding messages for %s: %w", conversationID, err)
	}
	rec.Warnings = []string{}
	if warningsJSON.Valid && warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &rec.Warnings); err != nil {
			return nil, fmt.Errorf("decoding warnings for %s: %w", conversationID, err)
		}
	}
	rec.SecurityFindings = []security.Finding{}
	if findingsJSON.Valid && findingsJSON.String != "" {
		if err := json.Unmarshal([]byte(findingsJSON.String), &rec.SecurityFindings); err != nil {
			return nil, fmt.Errorf("decoding findings for %s: %w", conversationID, err)
		}
	}

	intel, err := s.getIntelligence(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	rec.Intelligence = intel
	return &rec, nil
}

func (s *Store) getIntelligence(ctx context.Context, conversationID string) (*Intelligence, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, platform, summary, main_topics_json,
		 technologies_json, decisions_json, code_artifacts_json,
		 knowledge_json, osint_relevance, analyzed_at
		 FROM chat_intelligence WHERE conversation_id = ?`, conversationID)

	var intel Intelligence
	var platformCol, summary, osint sql.NullString
	var topics, techs, decisions, artifacts, knowledge sql.NullString
	err := row.Scan(&intel.ConversationID, &platformCol, &summary, &topics,
		&techs, &decisions, &artifacts, &knowledge, &osint, &intel.AnalyzedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting intelligence for %s: %w", conversationID, err)
	}
	intel.Platform = platformCol.String
	intel.Summary = summary.String
	intel.OSINTRelevance = osint.String

	for _, pair := range []struct {
		col  sql.NullString
		dest any
	}{
		{topics, &intel.MainTopics},
		{techs, &intel.TechnologiesMentioned},
		{decisions, &intel.DecisionsMade},
		{artifacts, &intel.CodeArtifacts},
		{knowledge, &intel.KnowledgeExtracted},
	} {
		if pair.col.Valid && pair.col.String != "" {
			if err := json.Unmarshal([]byte(pair.col.String), pair.dest); err != nil {
				return nil, fmt.Errorf("decoding intelligence for %s: %w", conversationID, err)
			}
		}
	}
	return &intel, nil
}

// Search returns summaries of conversations whose serialized messages
// contain the query substring, most recently ingested first. This is
// deliberately coarse; ranked search belongs to the retriever.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Summary, error) {
	ctx, span := tracer.Start(ctx, "Store.Search")
	defer span.End()

	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be >= 1, got %d", ErrInvalidArgument, limit)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, platform, title, message_count, ingested_at
		 FROM chat_conversations
		 WHERE messages_json LIKE ?
		 ORDER BY ingested_at DESC LIMIT ?`,
		"%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("searching conversations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var title sql.NullString
		if err := rows.Scan(&sum.ConversationID, &sum.Platform, &title,
			&sum.MessageCount, &sum.IngestedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		sum.Title = title.String
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
