package detector

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

func htmlHeaders() http.Header {
	return http.Header{"Content-Type": []string{"text/html; charset=utf-8"}}
}

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("readable words ", 40)
	tests := []struct {
		name string
		page ingest.Page
		want bool
	}{
		{
			name: "empty text",
			page: ingest.Page{StatusCode: 200, Headers: htmlHeaders(), Bytes: 900},
			want: true,
		},
		{
			name: "short text without links",
			page: ingest.Page{StatusCode: 200, Headers: htmlHeaders(), Text: "Loading...", Bytes: 900},
			want: true,
		},
		{
			name: "short text with links",
			page: ingest.Page{StatusCode: 200, Headers: htmlHeaders(), Text: "Home", Links: []string{"https://a/"}, Bytes: 900},
			want: false,
		},
		{
			name: "script shell",
			page: ingest.Page{StatusCode: 200, Headers: htmlHeaders(), Text: long, Links: []string{"https://a/"}, Bytes: 200 << 10},
			want: true,
		},
		{
			name: "content page",
			page: ingest.Page{StatusCode: 200, Headers: htmlHeaders(), Text: long, Bytes: 2 << 10},
			want: false,
		},
		{
			name: "not found",
			page: ingest.Page{StatusCode: 404, Headers: htmlHeaders()},
			want: false,
		},
		{
			name: "plain text",
			page: ingest.Page{StatusCode: 200, Headers: http.Header{"Content-Type": []string{"text/plain"}}},
			want: false,
		},
		{
			name: "already rendered",
			page: ingest.Page{StatusCode: 200, Headers: htmlHeaders(), Headless: true},
			want: false,
		},
	}

	h := NewHeuristic(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, h.ShouldPromote(tt.page))
		})
	}
}

type stubFetcher struct {
	page  ingest.Page
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, string) (ingest.Page, error) {
	s.calls++
	return s.page, s.err
}

type fixedPromoter bool

func (p fixedPromoter) ShouldPromote(ingest.Page) bool { return bool(p) }

func TestFetcherPromotes(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{page: ingest.Page{URL: "https://a/", Text: "shell"}}
	headless := &stubFetcher{page: ingest.Page{URL: "https://a/", Text: "rendered"}}

	page, err := NewFetcher(plain, headless, fixedPromoter(true), nil).Fetch(context.Background(), "https://a/")
	require.NoError(t, err)
	assert.Equal(t, "rendered", page.Text)
	assert.True(t, page.Headless)

	page, err = NewFetcher(plain, headless, fixedPromoter(false), nil).Fetch(context.Background(), "https://a/")
	require.NoError(t, err)
	assert.Equal(t, "shell", page.Text)
	assert.Equal(t, 1, headless.calls)
}

func TestFetcherFallsBackToPlainPage(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{page: ingest.Page{Text: "shell"}}
	headless := &stubFetcher{err: errors.New("chrome crashed")}
	page, err := NewFetcher(plain, headless, fixedPromoter(true), nil).Fetch(context.Background(), "https://a/")
	require.NoError(t, err)
	assert.Equal(t, "shell", page.Text)
	assert.False(t, page.Headless)

	failing := &stubFetcher{err: ingest.ErrNetwork}
	_, err = NewFetcher(failing, headless, fixedPromoter(true), nil).Fetch(context.Background(), "https://a/")
	require.ErrorIs(t, err, ingest.ErrNetwork)
}
