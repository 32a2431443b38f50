package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByStatusCode(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/documents/{file_name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Post("/v1/crawls", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	accepted := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "202"))
	conflict := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "409"))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/v1/documents/a.pdf", nil),
		httptest.NewRequest(http.MethodGet, "/v1/documents/b.pdf", nil),
		httptest.NewRequest(http.MethodPost, "/v1/crawls", nil),
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.NotZero(t, rec.Code)
	}

	assert.InDelta(t, accepted+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "202")), 0)
	assert.InDelta(t, conflict+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "409")), 0)
	assert.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareDefaultsToOK(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")), 0)
}
