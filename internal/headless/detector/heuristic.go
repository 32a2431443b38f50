// Package detector decides when a page fetched over plain HTTP needs a
// headless browser render before its text can be chunked.
package detector

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

// Defaults applied when the heuristic is built with zero values.
const (
	DefaultMinTextRunes   = 200
	DefaultMinTextPercent = 2
)

// Heuristic implements a handful of rule-based promotions on parsed pages.
type Heuristic struct {
	// MinTextRunes promotes link-less pages with less readable text than this.
	MinTextRunes int
	// MinTextPercent promotes pages whose text is under this share of the raw body.
	MinTextPercent int
}

// NewHeuristic creates a new detector.
func NewHeuristic(minTextRunes int) *Heuristic {
	if minTextRunes <= 0 {
		minTextRunes = DefaultMinTextRunes
	}
	return &Heuristic{MinTextRunes: minTextRunes, MinTextPercent: DefaultMinTextPercent}
}

// ShouldPromote decides whether a headless fetch is required. Only successful
// HTML responses are considered.
func (h *Heuristic) ShouldPromote(page ingest.Page) bool {
	if page.StatusCode != http.StatusOK || page.Headless {
		return false
	}
	if ct := page.Headers.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return false
	}
	text := strings.TrimSpace(page.Text)
	if text == "" {
		return true
	}
	runes := utf8.RuneCountInString(text)
	if len(page.Links) == 0 && runes < h.MinTextRunes {
		return true
	}
	return textStarved(len(text), page.Bytes, h.MinTextPercent)
}

// textStarved reports whether readable text covers less than minPercent of a
// body large enough for the ratio to matter, the signature of script shells.
func textStarved(textBytes, bodyBytes, minPercent int) bool {
	const minBody = 16 << 10
	if bodyBytes < minBody || minPercent <= 0 {
		return false
	}
	return textBytes*100/bodyBytes < minPercent
}
