package platform

import (
	"encoding/json"
	"strings"
)

// perplexityExport is the raw shape of a Perplexity thread export.
type perplexityExport struct {
	Title    string `json:"title"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// parsePerplexity extracts messages from a Perplexity export. The format is
// a flat role/content list; anything else falls back to markdown.
func parsePerplexity(content string, sourceURL string) Conversation {
	var export perplexityExport
	if err := json.Unmarshal([]byte(content), &export); err != nil {
		return parseMarkdown(content, PlatformPerplexity, sourceURL)
	}

	conv := newConversation(PlatformPerplexity, sourceURL)
	conv.Title = export.Title
	for _, msg := range export.Messages {
		text := strings.TrimSpace(msg.Content)
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
