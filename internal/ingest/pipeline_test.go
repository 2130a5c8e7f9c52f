package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/analyze"
	"github.com/fyrsmithlabs/corpusd/internal/platform"
	"github.com/fyrsmithlabs/corpusd/internal/security"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

func newTestPipeline(t *testing.T, analyzer *analyze.Service) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.NewStore(store.Config{Path: filepath.Join(t.TempDir(), "ingest.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return NewPipeline(st, security.NewScanner(nil), analyzer, 0, nil), st
}

func TestIngest_LeakedKeyEndToEnd(t *testing.T) {
	p, st := newTestPipeline(t, nil)
	ctx := context.Background()

	key := "sk-" + strings.Repeat("a", 48)
	content := `[{"role":"user","content":"My key is ` + key + `"},{"role":"assistant","content":"Noted."}]`

	result, err := p.Ingest(ctx, Request{Content: content})
	require.NoError(t, err)

	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, 2, result.MessageCount)
	assert.Equal(t, 1, result.SecurityFindings)
	assert.Contains(t, result.Warnings, "1 security finding(s) detected")

	rec, err := st.Get(ctx, result.ConversationID)
	require.NoError(t, err)
	require.Len(t, rec.SecurityFindings, 1)
	assert.Equal(t, security.LevelCritical, rec.SecurityFindings[0].Level)
	assert.Equal(t, security.TypeSecret, rec.SecurityFindings[0].Type)
	assert.Equal(t, "message_0 (user)", rec.SecurityFindings[0].Location)
}

func TestIngest_UnparseableContentIsRejected(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	_, err := p.Ingest(context.Background(), Request{Content: "completely freeform prose"})
	assert.ErrorIs(t, err, platform.ErrNoMessages)
}

func TestIngest_CleanTranscriptHasNoWarnings(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	content := `[{"role":"user","content":"What is a monad?"},{"role":"assistant","content":"A monoid in the category of endofunctors."}]`
	result, err := p.Ingest(context.Background(), Request{Content: content})
	require.NoError(t, err)

	assert.Zero(t, result.SecurityFindings)
	assert.Empty(t, result.Warnings)
}

func TestIngest_ConcurrentWithSearch(t *testing.T) {
	p, st := newTestPipeline(t, nil)
	ctx := context.Background()

	_, err := p.Ingest(ctx, Request{
		Content: `[{"role":"user","content":"seed question about terraform state"},{"role":"assistant","content":"keep state remote"}]`,
	})
	require.NoError(t, err)

	const writers = 4
	const readers = 4

	var wg sync.WaitGroup
	errs := make(chan error, writers+readers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			content := fmt.Sprintf(
				`[{"role":"user","content":"writer %d asks about terraform"},{"role":"assistant","content":"answer %d"}]`, w, w)
			_, err := p.Ingest(ctx, Request{Content: content})
			errs <- err
		}(w)
	}
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Search(ctx, "terraform", 20)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := st.List(ctx, 50, "")
	require.NoError(t, err)
	assert.Len(t, all, 1+writers)
}

func TestIngest_AnalysisAttachedAndPersisted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := `{"summary":"Monad discussion.","main_topics":["category theory"],"content_type":"TECHNICAL"}`
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	defer server.Close()

	analyzer := analyze.NewService(analyze.Config{BaseURL: server.URL, APIKey: "k"}, nil)
	p, st := newTestPipeline(t, analyzer)
	ctx := context.Background()

	content := `[{"role":"user","content":"Please explain monads in painstaking detail with examples."},{"role":"assistant","content":"A monad wraps a value and sequences computations over it."}]`
	result, err := p.Ingest(ctx, Request{Content: content, Analyze: true})
	require.NoError(t, err)
	require.NotNil(t, result.Intelligence)
	assert.Equal(t, "Monad discussion.", result.Intelligence.Summary)

	rec, err := st.Get(ctx, result.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, rec.Intelligence)
	assert.Equal(t, []string{"category theory"}, rec.Intelligence.MainTopics)
}

func TestIngest_AnalysisFailureDoesNotFailIngestion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	analyzer := analyze.NewService(analyze.Config{BaseURL: server.URL, APIKey: "k"}, nil)
	p, st := newTestPipeline(t, analyzer)
	ctx := context.Background()

	content := `[{"role":"user","content":"Please explain monads in painstaking detail with examples."},{"role":"assistant","content":"A monad wraps a value and sequences computations over it."}]`
	result, err := p.Ingest(ctx, Request{Content: content, Analyze: true})
	require.NoError(t, err)
	assert.Nil(t, result.Intelligence)

	rec, err := st.Get(ctx, result.ConversationID)
	require.NoError(t, err)
	assert.Nil(t, rec.Intelligence)
}
