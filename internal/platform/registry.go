package platform

// Config describes a registered platform: how to recognize its exports and
// how users obtain them.
type Config struct {
	Name               Platform
	DisplayName        string
	URLPatterns        []string
	ContentFingerprints []string
	ExportInstructions string
}

// registry is the closed set of supported platforms, in detection order.
var registry = []Config{
	{
		Name:        PlatformChatGPT,
		DisplayName: "ChatGPT",
		URLPatterns: []string{"chat.openai.com", "chatgpt.com"},
		ContentFingerprints: []string{
			`"mapping"`, `"create_time"`, `"model_slug"`,
		},
		ExportInstructions: "Settings > Data controls > Export data, then upload conversations.json",
	},
	{
		Name:        PlatformClaude,
		DisplayName: "Claude",
		URLPatterns: []string{"claude.ai"},
		ContentFingerprints: []string{
			`"chat_messages"`, `"attachments"`,
		},
		ExportInstructions: "Settings > Account > Export data, then upload the conversation JSON",
	},
	{
		Name:        PlatformGemini,
		DisplayName: "Gemini",
		URLPatterns: []string{"gemini.google.com", "bard.google.com"},
		ContentFingerprints: []string{
			`"history"`, `"author"`,
		},
		ExportInstructions: "Google Takeout > Gemini Apps, then upload the exported JSON",
	},
	{
		Name:        PlatformPerplexity,
		DisplayName: "Perplexity",
		URLPatterns: []string{"perplexity.ai"},
		ContentFingerprints: []string{
			`"perplexity"`, `"search_results"`,
		},
		ExportInstructions: "Thread menu > Export, then upload the JSON or markdown file",
	},
	{
		Name:        PlatformDeepSeek,
		DisplayName: "DeepSeek",
		URLPatterns: []string{"chat.deepseek.com"},
		ContentFingerprints: []string{
			`"deepseek"`, `"conversation"`,
		},
		ExportInstructions: "Chat menu > Export conversation, then upload the JSON file",
	},
}

// Registry returns the platform configs in registration order.
func Registry() []Config {
	out := make([]Config, len(registry))
	copy(out, registry)
	return out
}

// Registered reports whether name is a registered structured platform.
func Registered(name Platform) bool {
	for _, cfg := range registry {
		if cfg.Name == name {
			return true
		}
	}
	return false
}

// Parse normalizes raw export content into a Conversation.
//
// If hint names a registered platform its parser is used directly.
// Otherwise detection runs over sourceURL and a content sample; content
// matching no platform goes through the generic extractor (flat JSON,
// then markdown). If a selected structured parser yields zero messages,
// the markdown extractor is the fallback. A zero-message result is
// returned rather than an error; callers treat it as a parse failure.
func Parse(content string, hint Platform, sourceURL string) Conversation {
	selected := hint
	if !Registered(selected) {
		if detected, _ := Detect(sourceURL, sample(content, 2000)); detected != "" {
			selected = detected
		}
	}

	var conv Conversation
	switch selected {
	case PlatformChatGPT:
		conv = parseChatGPT(content, sourceURL)
	case PlatformClaude:
		conv = parseClaude(content, sourceURL)
	case PlatformGemini:
		conv = parseGemini(content, sourceURL)
	case PlatformPerplexity:
		conv = parsePerplexity(content, sourceURL)
	case PlatformDeepSeek:
		conv = parseDeepSeek(content, sourceURL)
	default:
		return parseGeneric(content, sourceURL)
	}

	if len(conv.Messages) == 0 {
		fallback := parseMarkdown(content, selected, sourceURL)
		fallback.Warnings = append(fallback.Warnings,
			"structured parse yielded no messages, used markdown extraction")
		return fallback
	}
	return conv
}

func sample(content string, n int) string {
	if len(content) > n {
		return content[:n]
	}
	return content
}
