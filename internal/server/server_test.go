package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/analyze"
	"github.com/fyrsmithlabs/corpusd/internal/consolidate"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/index"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/retrieve"
	"github.com/fyrsmithlabs/corpusd/internal/security"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	st, err := store.NewStore(store.Config{Path: filepath.Join(t.TempDir(), "api.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	provider, err := embeddings.NewHashProvider(64)
	require.NoError(t, err)
	idx, err := index.NewIndexer(index.Config{Dir: t.TempDir(), EmbeddingDim: 64}, provider, nil)
	require.NoError(t, err)

	pipeline := ingest.NewPipeline(st, security.NewScanner(nil), nil, 0, nil)
	retriever := retrieve.NewRetriever(idx, nil)

	srv, err := NewServer(pipeline, st, idx, retriever, nil, nil)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, newTestServer(t), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIngest_StringContent(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/chat/ingest", map[string]any{
		"content": `[{"role":"user","content":"hello there"},{"role":"assistant","content":"hi"}]`,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, 2, result.MessageCount)
	assert.NotEmpty(t, result.ConversationID)
}

func TestIngest_StructuredContent(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/chat/ingest", map[string]any{
		"content": []map[string]string{
			{"role": "user", "content": "structured body"},
			{"role": "assistant", "content": "received"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.MessageCount)
}

func TestIngest_UnparseableRejected(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/chat/ingest", map[string]any{
		"content": "free-form prose with no structure",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestIngest_MissingContentRejected(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/chat/ingest", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestUpload(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "chat.json")
	require.NoError(t, err)
	_, err = part.Write([]byte(`[{"role":"user","content":"uploaded body"},{"role":"assistant","content":"ack"}]`))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chat/ingest/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.MessageCount)

	// The stored record carries the upload pseudo-URL.
	getRec := doJSON(t, srv, http.MethodGet, "/api/chat/conversations/"+result.ConversationID, nil)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Contains(t, getRec.Body.String(), "upload://chat.json")
}

// newAnalyzingTestServer wires a server whose pipeline talks to a fake
// intelligence backend. The returned counter tracks backend calls.
func newAnalyzingTestServer(t *testing.T) (*Server, *atomic.Int32) {
	t.Helper()

	calls := new(atomic.Int32)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		content := `{"summary":"Terraform state discussion.","main_topics":["terraform"],"content_type":"TECHNICAL"}`
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(upstream.Close)

	st, err := store.NewStore(store.Config{Path: filepath.Join(t.TempDir(), "api.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	analyzer := analyze.NewService(analyze.Config{BaseURL: upstream.URL, APIKey: "test-key"}, nil)
	pipeline := ingest.NewPipeline(st, security.NewScanner(nil), analyzer, 0, nil)

	srv, err := NewServer(pipeline, st, nil, nil, nil, nil)
	require.NoError(t, err)
	return srv, calls
}

const analyzableContent = `[{"role":"user","content":"How should remote terraform state locking be configured for a team?"},{"role":"assistant","content":"Use a backend with native locking and scope state per environment."}]`

func TestIngest_AnalyzeDefaultsOn(t *testing.T) {
	srv, calls := newAnalyzingTestServer(t)

	// No analyze field in the request body.
	rec := doJSON(t, srv, http.MethodPost, "/api/chat/ingest", map[string]any{
		"content": analyzableContent,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Intelligence)
	assert.Equal(t, "Terraform state discussion.", result.Intelligence.Summary)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIngest_AnalyzeFalseOptsOut(t *testing.T) {
	srv, calls := newAnalyzingTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/chat/ingest", map[string]any{
		"content": analyzableContent,
		"analyze": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Nil(t, result.Intelligence)
	assert.Zero(t, calls.Load())
}

func TestIngestUpload_AnalyzeDefaultsOn(t *testing.T) {
	srv, calls := newAnalyzingTestServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "chat.json")
	require.NoError(t, err)
	_, err = part.Write([]byte(analyzableContent))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chat/ingest/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Intelligence)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDetect_KnownURL(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/chat/detect", map[string]any{
		"url": "https://chat.openai.com/c/abc123",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DetectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Detected)
	assert.Equal(t, "chatgpt", resp.Platform)
	assert.Equal(t, "ChatGPT", resp.DisplayName)
	assert.InDelta(t, 0.95, resp.Confidence, 0.001)
	assert.NotEmpty(t, resp.Instructions)
}

func TestDetect_UnknownListsPlatforms(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/chat/detect", map[string]any{
		"content_sample": "nothing identifiable",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DetectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Detected)
	assert.Len(t, resp.AvailablePlatforms, 5)
}

func TestPlatforms(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/chat/platforms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatgpt")
	assert.Contains(t, rec.Body.String(), "deepseek")
}

func TestConversations_ListGetSearch(t *testing.T) {
	srv := newTestServer(t)

	ingestRec := doJSON(t, srv, http.MethodPost, "/api/chat/ingest", map[string]any{
		"content": `[{"role":"user","content":"talk about zeppelins"},{"role":"assistant","content":"airships it is"}]`,
	})
	require.Equal(t, http.StatusOK, ingestRec.Code)
	var result ingest.Result
	require.NoError(t, json.Unmarshal(ingestRec.Body.Bytes(), &result))

	listRec := doJSON(t, srv, http.MethodGet, "/api/chat/conversations", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	assert.Contains(t, listRec.Body.String(), result.ConversationID)

	badLimit := doJSON(t, srv, http.MethodGet, "/api/chat/conversations?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, badLimit.Code)

	missing := doJSON(t, srv, http.MethodGet, "/api/chat/conversations/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	searchRec := doJSON(t, srv, http.MethodGet, "/api/chat/search?q=zeppelins", nil)
	require.Equal(t, http.StatusOK, searchRec.Code)
	assert.Contains(t, searchRec.Body.String(), result.ConversationID)

	noQ := doJSON(t, srv, http.MethodGet, "/api/chat/search", nil)
	assert.Equal(t, http.StatusBadRequest, noQ.Code)
}

func TestKnowledgeSearchAndContext(t *testing.T) {
	srv := newTestServer(t)

	chunks := []consolidate.Chunk{
		{Text: "grafana dashboards for node exporter", Source: "chatgpt", ConversationID: "c1", Title: "Grafana"},
		{Text: "sourdough starter maintenance", Source: "claude", ConversationID: "c2", Title: "Baking"},
	}
	_, err := srv.indexer.AddChunks(context.Background(), chunks, true)
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/api/knowledge/search", map[string]any{
		"query": "grafana dashboards",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp retrieve.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "grafana dashboards for node exporter", resp.Results[0].Text)

	badReq := doJSON(t, srv, http.MethodPost, "/api/knowledge/search", map[string]any{
		"query": "x", "top_k": -2,
	})
	assert.Equal(t, http.StatusBadRequest, badReq.Code)

	ctxRec := doJSON(t, srv, http.MethodPost, "/api/knowledge/context", map[string]any{
		"query": "grafana",
	})
	require.Equal(t, http.StatusOK, ctxRec.Code)
	assert.Contains(t, ctxRec.Body.String(), "grafana dashboards for node exporter")

	statsRec := doJSON(t, srv, http.MethodGet, "/api/knowledge/stats", nil)
	require.Equal(t, http.StatusOK, statsRec.Code)
	var stats index.Stats
	require.NoError(t, json.Unmarshal(statsRec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalChunks)
	assert.True(t, stats.VectorBackend)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, srv, http.MethodGet, "/health", nil)
	rec := doJSON(t, srv, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "corpusd_http_requests_total"))
}
