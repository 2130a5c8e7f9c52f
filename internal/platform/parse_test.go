package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChatGPT_MappingOrderAndFiltering(t *testing.T) {
	content := `{
		"title": "Test chat",
		"create_time": 1700000000,
		"mapping": {
			"c": {"message": {"id": "m3", "author": {"role": "assistant"}, "create_time": 300, "content": {"parts": ["Sure, ", "here you go"]}, "metadata": {"model_slug": "gpt-4"}}},
			"a": {"message": {"id": "m1", "author": {"role": "system"}, "create_time": 100, "content": {"parts": ["system prompt"]}}},
			"b": {"message": {"id": "m2", "author": {"role": "user"}, "create_time": 200, "content": {"parts": ["Hello"]}}},
			"d": {"message": {"id": "m4", "author": {"role": "user"}, "create_time": 400, "content": {"parts": [""]}}},
			"e": {}
		}
	}`

	conv := parseChatGPT(content, "https://chatgpt.com/c/abc")

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Test chat", conv.Title)
	assert.Equal(t, PlatformChatGPT, conv.Platform)
	require.NotNil(t, conv.CreatedAt)

	assert.Equal(t, RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Hello", conv.Messages[0].Content)
	assert.Equal(t, RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Sure,  here you go", conv.Messages[1].Content)
	assert.Equal(t, "gpt-4", conv.Messages[1].Metadata["model"])
}

func TestParseChatGPT_ArrayWrappedExport(t *testing.T) {
	content := `[{"title": "Wrapped", "mapping": {"a": {"message": {"author": {"role": "user"}, "content": {"parts": ["hi"]}}}}}]`

	conv := parseChatGPT(content, "")

	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "Wrapped", conv.Title)
}

func TestParseClaude_ContentBlocks(t *testing.T) {
	content := `{
		"name": "Refactor plan",
		"chat_messages": [
			{"role": "user", "content": "Can you refactor this?"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "Yes."},
				{"type": "tool_use", "text": ""},
				{"type": "text", "text": "Here is how."}
			]},
			{"role": "assistant", "content": [{"type": "image"}]}
		]
	}`

	conv := parseClaude(content, "")

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Refactor plan", conv.Title)
	assert.Equal(t, "Can you refactor this?", conv.Messages[0].Content)
	assert.Equal(t, "Yes. Here is how.", conv.Messages[1].Content)
}

func TestParseClaude_MalformedJSONFallsBackToMarkdown(t *testing.T) {
	content := "## User:\nhello there\n## Assistant:\nhi"

	conv := parseClaude(content, "")

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, PlatformClaude, conv.Platform)
	assert.Equal(t, RoleUser, conv.Messages[0].Role)
}

func TestParseGemini_AuthorMapping(t *testing.T) {
	content := `{
		"title": "Gemini chat",
		"history": [
			{"author": "human", "text": "question"},
			{"author": "model", "content": [{"text": "part one"}, {"text": "part two"}]},
			{"author": "model", "content": ""}
		]
	}`

	conv := parseGemini(content, "")

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, RoleUser, conv.Messages[0].Role)
	assert.Equal(t, RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "part one part two", conv.Messages[1].Content)
}

func TestParseDeepSeek_SkipsSystemTurns(t *testing.T) {
	content := `{
		"title": "ds",
		"messages": [
			{"role": "system", "content": "be helpful"},
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": [{"text": "hello"}]}
		]
	}`

	conv := parseDeepSeek(content, "")

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "hi", conv.Messages[0].Content)
	assert.Equal(t, "hello", conv.Messages[1].Content)
}

func TestParseMarkdown_PatternPrecedence(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantRoles []Role
	}{
		{
			name:      "heading style",
			content:   "## User:\nfirst question\n\n## Assistant:\nfirst answer\n",
			wantRoles: []Role{RoleUser, RoleAssistant},
		},
		{
			name:      "bold style",
			content:   "**Human:**\nquestion here\n**AI:**\nanswer here\n",
			wantRoles: []Role{RoleUser, RoleAssistant},
		},
		{
			name:      "bare label style",
			content:   "Human:\nhello\nAssistant:\nworld\n",
			wantRoles: []Role{RoleUser, RoleAssistant},
		},
		{
			name:      "no match",
			content:   "just some prose with no transcript structure",
			wantRoles: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := parseMarkdown(tt.content, PlatformGeneric, "")
			require.Len(t, conv.Messages, len(tt.wantRoles))
			for i, want := range tt.wantRoles {
				assert.Equal(t, want, conv.Messages[i].Role)
			}
		})
	}
}

func TestParseMarkdown_SkipsEmptyBodies(t *testing.T) {
	content := "## User:\n\n## Assistant:\nonly answer\n"

	conv := parseMarkdown(content, PlatformGeneric, "")

	require.Len(t, conv.Messages, 1)
	assert.Equal(t, RoleAssistant, conv.Messages[0].Role)
}

func TestParse_HintSelectsParser(t *testing.T) {
	content := `{"chat_messages": [{"role": "user", "content": "from claude"}]}`

	conv := Parse(content, PlatformClaude, "")

	require.Len(t, conv.Messages, 1)
	assert.Equal(t, PlatformClaude, conv.Platform)
}

func TestParse_UnparseableYieldsZeroMessages(t *testing.T) {
	conv := Parse("completely unstructured text", "", "")

	assert.Empty(t, conv.Messages)
	assert.NotEmpty(t, conv.ConversationID)
}

func TestParse_StructuredFailureFallsBackToMarkdown(t *testing.T) {
	content := "## User:\nrecovered from markdown\n"

	conv := Parse(content, PlatformChatGPT, "")

	require.Len(t, conv.Messages, 1)
	assert.Contains(t, conv.Warnings[0], "markdown extraction")
}

func TestDetect_URLDominatesFingerprint(t *testing.T) {
	sample := `{"mapping": {"a": {}}, "create_time": 1}`

	_, fpConfidence := Detect("", sample)
	name, urlConf := Detect("https://chat.openai.com/c/123", sample)

	assert.Equal(t, PlatformChatGPT, name)
	assert.Greater(t, urlConf, fpConfidence)
}

func TestDetect_FingerprintOnly(t *testing.T) {
	name, confidence := Detect("", `{"chat_messages": [], "attachments": []}`)

	assert.Equal(t, PlatformClaude, name)
	assert.InDelta(t, 0.70, confidence, 0.001)
}

func TestDetect_NoSignal(t *testing.T) {
	name, confidence := Detect("", "nothing recognizable")

	assert.Empty(t, string(name))
	assert.Zero(t, confidence)
}

func TestNormalizeRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"user", RoleUser},
		{"Human", RoleUser},
		{"YOU", RoleUser},
		{"assistant", RoleAssistant},
		{"model", RoleAssistant},
		{"system", RoleSystem},
		{"function", RoleTool},
		{"something-else", RoleAssistant},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeRole(tt.in), "role %q", tt.in)
	}
}

func TestParse_FlatJSONWithoutHint(t *testing.T) {
	content := `[{"role":"user","content":"first question"},{"role":"assistant","content":"an answer"}]`

	conv := Parse(content, "", "")

	assert.Equal(t, PlatformGeneric, conv.Platform)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "first question", conv.Messages[0].Content)
	assert.Equal(t, RoleAssistant, conv.Messages[1].Role)
}

func TestParse_FlatJSONWrappedMessages(t *testing.T) {
	content := `{"title":"Wrapped","messages":[{"role":"human","content":[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]}]}`

	conv := Parse(content, "", "")

	assert.Equal(t, "Wrapped", conv.Title)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "part one part two", conv.Messages[0].Content)
}
