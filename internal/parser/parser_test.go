package parser

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html>
<head><title> Graph Notes </title><script>var x = 1;</script></head>
<body>
<nav><a href="/nav-only">Menu</a></nav>
<main>
<h1>Knowledge graphs</h1>
<p>Chunks link to <a href="/docs/entities#top">entities</a> and
<a href="https://other.example.org/page">other pages</a>.</p>
<p><a href="mailto:team@example.com">mail</a> <a href="#local">jump</a>
<a href="/docs/entities">again</a></p>
</main>
<footer>copyright</footer>
</body></html>`

func TestParseExtractsTitleTextAndLinks(t *testing.T) {
	t.Parallel()

	res, err := New().Parse("https://example.com/start", []byte(samplePage))
	require.NoError(t, err)

	assert.Equal(t, "Graph Notes", res.Title)
	assert.Contains(t, res.Text, "Knowledge graphs")
	assert.Contains(t, res.Text, "entities")
	assert.NotContains(t, res.Text, "var x")
	assert.NotContains(t, res.Text, "copyright")
	assert.Equal(t, []string{
		"https://example.com/nav-only",
		"https://example.com/docs/entities",
		"https://other.example.org/page",
	}, res.Links)
}

func TestParseFallsBackToBody(t *testing.T) {
	t.Parallel()

	res, err := New().Parse("https://example.com", []byte(`<html><body><p>plain body</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "plain body", res.Text)
	assert.Empty(t, res.Links)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/a/b")
	require.NoError(t, err)

	tests := []struct {
		href string
		want string
		ok   bool
	}{
		{href: "c", want: "https://example.com/a/c", ok: true},
		{href: "/x#frag", want: "https://example.com/x", ok: true},
		{href: "http://other.org", want: "http://other.org", ok: true},
		{href: "#frag"},
		{href: ""},
		{href: "javascript:void(0)"},
		{href: "ftp://files.example.com/f"},
	}
	for _, tt := range tests {
		got, ok := Normalize(base, tt.href)
		assert.Equal(t, tt.ok, ok, tt.href)
		assert.Equal(t, tt.want, got, tt.href)
	}
}
