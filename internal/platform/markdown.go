package platform

import (
	"regexp"
	"strings"
)

// headingPatterns are tried in order; the first one matching at least one
// heading line wins. Each pattern captures the speaker label of a heading
// line, and message bodies are the text between consecutive headings.
var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^##\s*(User|Human|You|Assistant|AI|Claude|Gemini|GPT|DeepSeek|Perplexity):\s*$`),
	regexp.MustCompile(`(?im)^\*\*(User|Human|You|Assistant|AI|Claude|Gemini|GPT|DeepSeek):\*\*\s*$`),
	regexp.MustCompile(`(?im)^(Human|User|Assistant|AI):\s*$`),
}

// parseMarkdown is the generic last-resort extractor for markdown-ish
// transcripts. Speaker labels are normalized through the role synonym
// table; anything that is not a user synonym becomes assistant.
func parseMarkdown(content string, p Platform, sourceURL string) Conversation {
	conv := newConversation(p, sourceURL)

	for _, pattern := range headingPatterns {
		matches := pattern.FindAllStringSubmatchIndex(content, -1)
		if len(matches) == 0 {
			continue
		}
		for i, m := range matches {
			speaker := content[m[2]:m[3]]
			bodyEnd := len(content)
			if i+1 < len(matches) {
				bodyEnd = matches[i+1][0]
			}
			body := strings.TrimSpace(content[m[1]:bodyEnd])
			if body == "" {
				continue
			}

			role := RoleAssistant
			switch strings.ToLower(speaker) {
			case "user", "human", "you":
				role = RoleUser
			}
			conv.Messages = append(conv.Messages, Message{Role: role, Content: body})
		}
		break
	}
	return conv
}
