package platform

import (
	"encoding/json"
	"strings"
)

// claudeExport is the raw shape of a Claude conversation export.
type claudeExport struct {
	Name     string          `json:"name"`
	Title    string          `json:"title"`
	ChatMsgs []claudeMessage `json:"chat_messages"`
	Messages []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type claudeBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// parseClaude extracts messages from a Claude export. Message bodies are
// either plain strings or arrays of typed content blocks; only text blocks
// carry conversation content.
func parseClaude(content string, sourceURL string) Conversation {
	conv := newConversation(PlatformClaude, sourceURL)

	var export claudeExport
	if err := json.Unmarshal([]byte(content), &export); err != nil {
		return parseMarkdown(content, PlatformClaude, sourceURL)
	}

	conv.Title = export.Name
	if conv.Title == "" {
		conv.Title = export.Title
	}

	raw := export.ChatMsgs
	if len(raw) == 0 {
		raw = export.Messages
	}
	for _, msg := range raw {
		text := claudeText(msg.Content)
		if text == "" {
			continue
		}
		conv.Messages = append(conv.Messages, Message{
			Role:    normalizeRole(msg.Role),
			Content: text,
		})
	}
	return conv
}

// claudeText flattens a message body into a single string.
func claudeText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var texts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, " "))
}
