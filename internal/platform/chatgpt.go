package platform

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// chatgptConversation is the raw shape of a ChatGPT data export. Exports
// arrive either as a single conversation object or an array of them.
type chatgptConversation struct {
	Title      string                 `json:"title"`
	CreateTime float64                `json:"create_time"`
	Mapping    map[string]chatgptNode `json:"mapping"`
}

type chatgptNode struct {
	Message *chatgptMessage `json:"message"`
}

type chatgptMessage struct {
	ID         string `json:"id"`
	Author     struct {
		Role string `json:"role"`
	} `json:"author"`
	CreateTime *float64 `json:"create_time"`
	Content    struct {
		Parts []json.RawMessage `json:"parts"`
	} `json:"content"`
	Metadata struct {
		ModelSlug string `json:"model_slug"`
	} `json:"metadata"`
}

// parseChatGPT extracts messages from a ChatGPT export. The mapping is an
// unordered tree keyed by node id; chronological order is recovered by
// sorting on each message's create_time.
func parseChatGPT(content string, sourceURL string) Conversation {
	conv := newConversation(PlatformChatGPT, sourceURL)

	var export chatgptConversation
	if err := json.Unmarshal([]byte(content), &export); err != nil {
		// Exports downloaded in bulk wrap conversations in an array.
		var many []chatgptConversation
		if err := json.Unmarshal([]byte(content), &many); err != nil || len(many) == 0 {
			return conv
		}
		export = many[0]
	}

	conv.Title = export.Title
	if export.CreateTime > 0 {
		t := time.Unix(int64(export.CreateTime), 0).UTC()
		conv.CreatedAt = &t
	}

	nodes := make([]*chatgptMessage, 0, len(export.Mapping))
	for _, node := range export.Mapping {
		if node.Message != nil {
			nodes = append(nodes, node.Message)
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return chatgptMessageTime(nodes[i]) < chatgptMessageTime(nodes[j])
	})

	for _, msg := range nodes {
		role := normalizeRole(msg.Author.Role)
		if role == RoleSystem || role == RoleTool {
			continue
		}
		text := joinChatGPTParts(msg.Content.Parts)
		if text == "" {
			continue
		}

		m := Message{
			Role:    role,
			Content: text,
			ID:      msg.ID,
		}
		if msg.CreateTime != nil && *msg.CreateTime > 0 {
			t := time.Unix(int64(*msg.CreateTime), 0).UTC()
			m.Timestamp = &t
		}
		if msg.Metadata.ModelSlug != "" {
			m.Metadata = map[string]any{"model": msg.Metadata.ModelSlug}
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv
}

func chatgptMessageTime(m *chatgptMessage) float64 {
	if m.CreateTime == nil {
		return 0
	}
	return *m.CreateTime
}

// joinChatGPTParts concatenates the string parts of a message body. Parts
// holding non-text payloads (images, tool blobs) are skipped.
func joinChatGPTParts(parts []json.RawMessage) string {
	var texts []string
	for _, raw := range parts {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if s != "" {
			texts = append(texts, s)
		}
	}
	return strings.TrimSpace(strings.Join(texts, " "))
}
