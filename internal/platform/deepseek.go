package platform

import (
	"encoding/json"
	"strings"
)

// deepseekExport is the raw shape of a DeepSeek conversation export.
type deepseekExport struct {
	Title        string            `json:"title"`
	Name         string            `json:"name"`
	Messages     []deepseekMessage `json:"messages"`
	Conversation []deepseekMessage `json:"conversation"`
}

type deepseekMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type deepseekBlock struct {
	Text string `json:"text"`
}

// parseDeepSeek extracts messages from a DeepSeek export. System turns are
// dropped; bodies may be strings or lists of text blocks.
func parseDeepSeek(content string, sourceURL string) Conversation {
	conv := newConversation(PlatformDeepSeek, sourceURL)

	var export deepseekExport
	if err := json.Unmarshal([]byte(content), &export); err != nil {
		return parseMarkdown(content, PlatformDeepSeek, sourceURL)
	}

	conv.Title = export.Title
	if conv.Title == "" {
		conv.Title = export.Name
	}

	raw := export.Messages
	if len(raw) == 0 {
		raw = export.Conversation
	}
	for _, msg := range raw {
		role := normalizeRole(msg.Role)
		if role == RoleSystem {
			continue
		}
		text := deepseekText(msg.Content)
		if text == "" {
			continue
		}
		conv.Messages = append(conv.Messages, Message{Role: role, Content: text})
	}
	return conv
}

func deepseekText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var blocks []deepseekBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var texts []string
	for _, b := range blocks {
		if b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, " "))
}
