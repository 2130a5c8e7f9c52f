package consolidate

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func export(source, id, title string, contents ...string) Export {
	e := Export{Source: source, ConversationID: id, Title: title}
	for i, c := range contents {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		e.Messages = append(e.Messages, ExportMessage{Role: role, Content: c})
	}
	return e
}

func TestConsolidate_CountsAndSources(t *testing.T) {
	c := NewConsolidator(nil)

	corpus := c.Consolidate([]Export{
		export("claude", "c1", "first", "hello", "hi"),
		export("gemini", "g1", "second", "different opening", "sure"),
	})

	assert.Equal(t, 2, corpus.TotalConversations)
	assert.Equal(t, 4, corpus.TotalMessages)
	assert.Equal(t, 0, corpus.Deduplicated)
	assert.Equal(t, map[string]int{"claude": 1, "gemini": 1}, corpus.Sources)
}

func TestConsolidate_DedupByOpeningFingerprint(t *testing.T) {
	c := NewConsolidator(nil)
	same := export("claude", "c1", "dup", "identical opening message", "a")

	corpus := c.Consolidate([]Export{same, same})

	assert.Equal(t, 1, corpus.TotalConversations)
	assert.Equal(t, 1, corpus.Deduplicated)

	single := c.Consolidate([]Export{same})
	assert.Equal(t, single.TotalConversations, corpus.TotalConversations)
}

func TestConsolidate_DedupUsesOnlyPrefix(t *testing.T) {
	c := NewConsolidator(nil)
	opening := strings.Repeat("x", fingerprintPrefixLen)
	a := export("claude", "a", "one", opening+" tail A")
	b := export("gemini", "b", "two", opening+" completely different tail B")

	corpus := c.Consolidate([]Export{a, b})

	assert.Equal(t, 1, corpus.TotalConversations)
	assert.Equal(t, 1, corpus.Deduplicated)
}

func TestConsolidate_EmptyExportNeverDeduplicated(t *testing.T) {
	c := NewConsolidator(nil)

	corpus := c.Consolidate([]Export{
		{Source: "claude", ConversationID: "e1"},
		{Source: "claude", ConversationID: "e2"},
	})

	assert.Equal(t, 2, corpus.TotalConversations)
	assert.Equal(t, 0, corpus.Deduplicated)
}

func TestExtractChunks_Boundary(t *testing.T) {
	c := NewConsolidator(nil)
	corpus := c.Consolidate([]Export{
		export("claude", "c1", "chunky",
			strings.Repeat("a", 40),
			strings.Repeat("b", 40),
			strings.Repeat("c", 40),
		),
	})

	const maxChars = 60
	chunks, err := c.ExtractChunks(corpus, maxChars)
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Text), maxChars)
		assert.Equal(t, "c1", chunk.ConversationID)
		assert.Equal(t, "chunky", chunk.Title)
		assert.Equal(t, 1, chunk.MessageCount)
	}
	assert.True(t, strings.HasPrefix(chunks[0].Text, "[user]: "))
}

func TestExtractChunks_OversizedMessageGetsOwnChunk(t *testing.T) {
	c := NewConsolidator(nil)
	corpus := c.Consolidate([]Export{
		export("claude", "c1", "big", "small", strings.Repeat("z", 500), "tail"),
	})

	chunks, err := c.ExtractChunks(corpus, 100)
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Greater(t, len(chunks[1].Text), 100)
	assert.Contains(t, chunks[1].Text, strings.Repeat("z", 500))
}

func TestExtractChunks_NeverSpansConversations(t *testing.T) {
	c := NewConsolidator(nil)
	corpus := c.Consolidate([]Export{
		export("claude", "c1", "one", "aa"),
		export("gemini", "g1", "two", "bb"),
	})

	chunks, err := c.ExtractChunks(corpus, 10_000)
	require.NoError(t, err)

	require.Len(t, chunks, 2)
	assert.Equal(t, "c1", chunks[0].ConversationID)
	assert.Equal(t, "g1", chunks[1].ConversationID)
}

func TestExtractChunks_RejectsInvalidBudget(t *testing.T) {
	c := NewConsolidator(nil)

	_, err := c.ExtractChunks(&Corpus{}, 0)

	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSaveLoadCorpus_RoundTrip(t *testing.T) {
	c := NewConsolidator(nil)
	corpus := c.Consolidate([]Export{
		export("claude", "c1", "round", "trip me", "ok"),
		export("claude", "c1", "round", "trip me", "ok"),
		export("gemini", "g1", "keep", "other opening"),
	})
	path := filepath.Join(t.TempDir(), "corpus.json")

	require.NoError(t, c.SaveCorpus(corpus, path))

	loaded, err := c.LoadCorpus(path)
	require.NoError(t, err)
	assert.Equal(t, corpus, loaded)
}

func TestLoadCorpus_MissingFile(t *testing.T) {
	c := NewConsolidator(nil)

	_, err := c.LoadCorpus(filepath.Join(t.TempDir(), "absent.json"))

	assert.Error(t, err)
}
