package platform

import (
	"encoding/json"
	"strings"
)

// parseGeneric recovers conversations that matched no registered platform.
// A flat role/content JSON transcript is tried first, then the markdown
// extractor.
func parseGeneric(content, sourceURL string) Conversation {
	if conv := parseFlatJSON(content, sourceURL); len(conv.Messages) > 0 {
		return conv
	}
	return parseMarkdown(content, PlatformGeneric, sourceURL)
}

// parseFlatJSON extracts a bare message array or an object wrapping one
// under "messages" or "conversation".
func parseFlatJSON(content, sourceURL string) Conversation {
	conv := newConversation(PlatformGeneric, sourceURL)

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return conv
	}

	var raw []map[string]any
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		var wrapper map[string]any
		if err := json.Unmarshal([]byte(trimmed), &wrapper); err != nil {
			return conv
		}
		if title, ok := wrapper["title"].(string); ok {
			conv.Title = title
		}
		list, ok := wrapper["messages"].([]any)
		if !ok {
			list, ok = wrapper["conversation"].([]any)
		}
		if !ok {
			return conv
		}
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				raw = append(raw, m)
			}
		}
	}

	for _, msg := range raw {
		role, _ := msg["role"].(string)
		text := extractText(msg["content"])
		if text == "" {
			continue
		}
		conv.Messages = append(conv.Messages, Message{
			Role:    normalizeRole(role),
			Content: text,
		})
	}
	return conv
}

// extractText accepts either a plain string or a list of text blocks.
func extractText(v any) string {
	switch content := v.(type) {
	case string:
		return strings.TrimSpace(content)
	case []any:
		var parts []string
		for _, block := range content {
			if m, ok := block.(map[string]any); ok {
				if text, ok := m["text"].(string); ok && text != "" {
					parts = append(parts, text)
				}
			}
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	default:
		return ""
	}
}
