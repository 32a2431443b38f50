package httpextract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

func TestNewRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.ErrorIs(t, err, ingest.ErrValidation)

	c, err := New(Config{Endpoint: "http://localhost"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.Model())
}

func TestExtractSendsBatch(t *testing.T) {
	t.Parallel()

	var got extractRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(extractResponse{Results: []ingest.ExtractionResult{{
			ChunkID:       "c1",
			Nodes:         []ingest.Node{{ID: "ada", Type: "Person"}},
			Relationships: []ingest.Relationship{{SourceID: "ada", TargetID: "engine", Type: "BUILT"}},
		}}})
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, APIKey: "secret", Model: "test-model"}, srv.Client())
	require.NoError(t, err)

	nodes, err := ingest.ParseTypeSet("Person,Machine")
	require.NoError(t, err)
	results, err := c.Extract(context.Background(),
		[]ingest.ExtractionInput{{ChunkID: "c1", Text: "Ada built the engine"}},
		nodes, ingest.TypeSet{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ada", results[0].Nodes[0].ID)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, []string{"Machine", "Person"}, got.AllowedNodes)
	assert.Empty(t, got.AllowedRelationships)
	assert.Equal(t, "c1", got.Chunks[0].ChunkID)
}

func TestExtractErrorsAreProcessingErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/garbage" {
			_, _ = w.Write([]byte("{not json"))
			return
		}
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	batch := []ingest.ExtractionInput{{ChunkID: "c1", Text: "x"}}
	for _, path := range []string{"/down", "/garbage"} {
		c, err := New(Config{Endpoint: srv.URL + path}, srv.Client())
		require.NoError(t, err)
		_, err = c.Extract(context.Background(), batch, ingest.TypeSet{}, ingest.TypeSet{})
		require.ErrorIs(t, err, ingest.ErrProcessing, path)
	}
}

func TestExtractEmptyBatch(t *testing.T) {
	t.Parallel()

	c, err := New(Config{Endpoint: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	results, err := c.Extract(context.Background(), nil, ingest.TypeSet{}, ingest.TypeSet{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestExtractRequestsEmbeddings(t *testing.T) {
	t.Parallel()

	var got extractRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results":[{"chunkId":"c1","nodes":[],"relationships":[],"embedding":[0.25,-1.5]}]}`))
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Embeddings: true}, srv.Client())
	require.NoError(t, err)
	results, err := c.Extract(context.Background(),
		[]ingest.ExtractionInput{{ChunkID: "c1", Text: "x"}}, ingest.TypeSet{}, ingest.TypeSet{})
	require.NoError(t, err)

	assert.True(t, got.Embeddings)
	require.Len(t, results, 1)
	assert.Equal(t, []float32{0.25, -1.5}, results[0].Embedding)
}
