// Package parser turns fetched HTML into readable text and outgoing links.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
)

var (
	excessiveLines = regexp.MustCompile(`\n{3,}`)

	noiseSelectors = "script, style, noscript, iframe, object, embed, form, nav, header, footer, aside"
	mainSelectors  = []string{"main", "article", "[role=main]"}
)

// Result is what the parser extracts from one HTML document.
type Result struct {
	Title string
	Text  string
	Links []string
}

// Parser extracts main content as markdown and collects absolute links.
type Parser struct {
	converter *md.Converter
}

// New builds a Parser with GitHub-flavored markdown output.
func New() *Parser {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Parser{converter: converter}
}

// Parse reads body as HTML. Links are resolved against pageURL, limited to
// http(s), stripped of fragments and deduplicated in document order.
func (p *Parser) Parse(pageURL string, body []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse page url: %w", err)
	}

	res := Result{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Links: extractLinks(doc, base),
	}

	doc.Find(noiseSelectors).Remove()
	content := mainContent(doc)
	res.Text = strings.TrimSpace(excessiveLines.ReplaceAllString(p.converter.Convert(content), "\n\n"))
	return res, nil
}

func mainContent(doc *goquery.Document) *goquery.Selection {
	for _, sel := range mainSelectors {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	if body := doc.Find("body"); body.Length() > 0 {
		return body
	}
	return doc.Selection
}

func extractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, ok := Normalize(base, href)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// Normalize resolves href against base and drops the fragment. It reports
// false for empty, non-http(s) or unparsable references.
func Normalize(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Host == "" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}
