package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/graphbuilder/internal/frontier"
	"github.com/JakeFAU/graphbuilder/internal/ingest"
	storemem "github.com/JakeFAU/graphbuilder/internal/storage/memory"
)

type fakeFrontier struct {
	stats frontier.Statistics
}

func (f fakeFrontier) Statistics() frontier.Statistics { return f.stats }

type brokenStore struct {
	*storemem.GraphStore
}

func (brokenStore) ListDocuments(context.Context) ([]ingest.SourceDocument, error) {
	return nil, errors.New("connection reset")
}

func (brokenStore) GetDocument(context.Context, string) (ingest.SourceDocument, error) {
	return ingest.SourceDocument{}, errors.New("connection reset")
}

func seedStore(t *testing.T, docs ...ingest.SourceDocument) *storemem.GraphStore {
	t.Helper()
	store := storemem.NewGraphStore()
	for _, doc := range docs {
		require.NoError(t, store.UpsertDocument(context.Background(), doc))
	}
	return store
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	srv := NewServer(storemem.NewGraphStore())
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	notReady := NewServer(storemem.NewGraphStore(), WithReadiness(func(context.Context) error {
		return errors.New("graph store unreachable")
	}))
	rec = do(t, notReady, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "graph store unreachable", decode(t, rec)["error"])
}

func TestRequestIDPropagates(t *testing.T) {
	t.Parallel()

	srv := NewServer(storemem.NewGraphStore())
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestDocumentRoutes(t *testing.T) {
	t.Parallel()

	store := seedStore(t,
		ingest.SourceDocument{FileName: "https://example.com/a b", Status: ingest.StatusProcessing, TotalChunks: 4, ProcessedChunk: 2},
		ingest.SourceDocument{FileName: "report.pdf", Status: ingest.StatusCompleted, NodeCount: 7},
	)
	srv := NewServer(store)

	rec := do(t, srv, http.MethodGet, "/v1/documents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	docs, ok := decode(t, rec)["documents"].([]any)
	require.True(t, ok)
	assert.Len(t, docs, 2)

	rec = do(t, srv, http.MethodGet, "/v1/documents/report.pdf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 7, decode(t, rec)["nodeCount"], 0)

	rec = do(t, srv, http.MethodGet, "/v1/documents/https%3A%2F%2Fexample.com%2Fa%20b/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Processing", body["status"])
	assert.InDelta(t, 2, body["processedChunk"], 0)

	rec = do(t, srv, http.MethodGet, "/v1/documents/missing.txt", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentRoutesStoreErrors(t *testing.T) {
	t.Parallel()

	srv := NewServer(brokenStore{GraphStore: storemem.NewGraphStore()})
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodGet, "/v1/documents", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodGet, "/v1/documents/a.txt", "").Code)
}

func TestCancelDocument(t *testing.T) {
	t.Parallel()

	store := seedStore(t,
		ingest.SourceDocument{FileName: "running.txt", Status: ingest.StatusProcessing},
		ingest.SourceDocument{FileName: "done.txt", Status: ingest.StatusCompleted},
	)
	srv := NewServer(store)

	tests := []struct {
		name string
		file string
		want int
	}{
		{name: "running", file: "running.txt", want: http.StatusAccepted},
		{name: "terminal", file: "done.txt", want: http.StatusConflict},
		{name: "unknown", file: "nope.txt", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/v1/documents/"+tt.file+"/cancel", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	state, err := store.GetDocumentStatus(context.Background(), "running.txt")
	require.NoError(t, err)
	assert.True(t, state.IsCancelled)
	state, err = store.GetDocumentStatus(context.Background(), "done.txt")
	require.NoError(t, err)
	assert.False(t, state.IsCancelled)
}

func TestFrontierStats(t *testing.T) {
	t.Parallel()

	rec := do(t, NewServer(storemem.NewGraphStore()), http.MethodGet, "/v1/frontier/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	srv := NewServer(storemem.NewGraphStore(), WithFrontier(fakeFrontier{stats: frontier.Statistics{
		Visited: 3, Processed: 2, CrawlLimit: 10, Remaining: 8,
	}}))
	rec = do(t, srv, http.MethodGet, "/v1/frontier/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.InDelta(t, 2, body["processedCount"], 0)
	assert.InDelta(t, 8, body["remainingCapacity"], 0)
}

func TestSubmitCrawl(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []CrawlRequest
	)
	srv := NewServer(storemem.NewGraphStore(), WithCrawler(context.Background(), func(_ context.Context, req CrawlRequest) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, req)
		return nil
	}))

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "accepted", body: `{"urls":["https://example.com"],"maxUrls":3,"allowedNodes":"Person,Place"}`, want: http.StatusAccepted},
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "no urls", body: `{"urls":[]}`, want: http.StatusBadRequest},
		{name: "bad type list", body: `{"urls":["https://example.com"],"allowedNodes":"Person,,"}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := do(t, srv, http.MethodPost, "/v1/crawls", tt.body)
		assert.Equal(t, tt.want, rec.Code, tt.name)
	}
	srv.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, 3, seen[0].MaxURLs)
	assert.Equal(t, "Person,Place", seen[0].AllowedNodes)
}

func TestSubmitCrawlDisabled(t *testing.T) {
	t.Parallel()

	rec := do(t, NewServer(storemem.NewGraphStore()), http.MethodPost, "/v1/crawls", `{"urls":["https://example.com"]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	srv := NewServer(storemem.NewGraphStore())
	h := srv.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
