package platform

import (
	"encoding/json"
	"strings"
)

// geminiExport is the raw shape of a Gemini (or Takeout) export.
type geminiExport struct {
	Title    string          `json:"title"`
	Name     string          `json:"name"`
	Messages []geminiMessage `json:"messages"`
	History  []geminiMessage `json:"history"`
}

type geminiMessage struct {
	Author  string          `json:"author"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Text    json.RawMessage `json:"text"`
}

type geminiPart struct {
	Text string `json:"text"`
}

// parseGemini extracts messages from a Gemini export. Gemini labels turns
// with "author" rather than "role" and collapses everything non-user onto
// the model side.
func parseGemini(content string, sourceURL string) Conversation {
	conv := newConversation(PlatformGemini, sourceURL)

	var export geminiExport
	if err := json.Unmarshal([]byte(content), &export); err != nil {
		return parseMarkdown(content, PlatformGemini, sourceURL)
	}

	conv.Title = export.Title
	if conv.Title == "" {
		conv.Title = export.Name
	}

	raw := export.Messages
	if len(raw) == 0 {
		raw = export.History
	}
	for _, msg := range raw {
		author := msg.Author
		if author == "" {
			author = msg.Role
		}
		role := RoleAssistant
		if a := strings.ToLower(author); a == "user" || a == "human" {
			role = RoleUser
		}

		text := geminiText(msg.Content)
		if text == "" {
			text = geminiText(msg.Text)
		}
		if text == "" {
			continue
		}
		conv.Messages = append(conv.Messages, Message{Role: role, Content: text})
	}
	return conv
}

// geminiText flattens a body that is either a string or a list of parts.
func geminiText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var parts []geminiPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, " "))
}
