package platform

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNoMessages indicates that no extraction strategy yielded any messages.
// It is returned by callers that treat an empty conversation as a rejection.
var ErrNoMessages = errors.New("no messages extracted from content")

// Role is the normalized speaker role of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Platform identifies a supported chat platform. The set is closed: adding
// a platform means adding a parser variant and a registry entry.
type Platform string

const (
	PlatformChatGPT    Platform = "chatgpt"
	PlatformClaude     Platform = "claude"
	PlatformGemini     Platform = "gemini"
	PlatformPerplexity Platform = "perplexity"
	PlatformDeepSeek   Platform = "deepseek"
	// PlatformGeneric tags conversations recovered by the markdown
	// extractor when no structured parser matched.
	PlatformGeneric Platform = "generic"
)

// Message is a single normalized conversation turn. Immutable once parsed.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	ID        string         `json:"id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Conversation is a platform-agnostic chat transcript. Message order is
// preserved verbatim from the source.
type Conversation struct {
	ConversationID string     `json:"conversation_id"`
	Platform       Platform   `json:"platform"`
	Title          string     `json:"title,omitempty"`
	SourceURL      string     `json:"source_url,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	Messages       []Message  `json:"messages"`
	Warnings       []string   `json:"warnings,omitempty"`
}

// newConversation builds a Conversation with a generated id.
func newConversation(p Platform, sourceURL string) Conversation {
	return Conversation{
		ConversationID: uuid.NewString(),
		Platform:       p,
		SourceURL:      sourceURL,
	}
}

// roleSynonyms maps source role spellings onto the closed role set. Unknown
// spellings map to assistant, the closest catch-all for model-side turns.
var roleSynonyms = map[string]Role{
	"user":      RoleUser,
	"human":     RoleUser,
	"you":       RoleUser,
	"assistant": RoleAssistant,
	"ai":        RoleAssistant,
	"model":     RoleAssistant,
	"bot":       RoleAssistant,
	"claude":    RoleAssistant,
	"gemini":    RoleAssistant,
	"gpt":       RoleAssistant,
	"deepseek":  RoleAssistant,
	"system":    RoleSystem,
	"tool":      RoleTool,
	"function":  RoleTool,
}

// normalizeRole maps a raw role string onto the closed role set.
func normalizeRole(raw string) Role {
	if r, ok := roleSynonyms[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return r
	}
	return RoleAssistant
}
