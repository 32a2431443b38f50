// Package chunker splits document text into overlapping windows and links the
// resulting chunks into a content-addressed, ordered list.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

// Unit selects what ChunkSize and Overlap count.
type Unit string

// Supported units.
const (
	UnitRunes Unit = "runes"
	UnitWords Unit = "words"
)

// Default sizing matches the extraction service's expected context window.
const (
	DefaultChunkSize = 200
	DefaultOverlap   = 20
	DefaultMaxChunks = 1000
)

// Config controls window sizing.
type Config struct {
	ChunkSize int
	Overlap   int
	// MaxChunks truncates the output when > 0.
	MaxChunks int
	Unit      Unit
}

// Splitter cuts text into windows of ChunkSize units sharing Overlap units.
type Splitter struct {
	cfg Config
}

// NewSplitter validates cfg and returns a Splitter.
func NewSplitter(cfg Config) (*Splitter, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0: %w", ingest.ErrValidation)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("overlap must be in [0, chunk size): %w", ingest.ErrValidation)
	}
	if cfg.MaxChunks < 0 {
		return nil, fmt.Errorf("max chunks must be >= 0: %w", ingest.ErrValidation)
	}
	switch cfg.Unit {
	case "":
		cfg.Unit = UnitRunes
	case UnitRunes, UnitWords:
	default:
		return nil, fmt.Errorf("unknown chunk unit %q: %w", cfg.Unit, ingest.ErrValidation)
	}
	return &Splitter{cfg: cfg}, nil
}

// Split returns unlinked chunks. When doc has pages each page is split on its
// own, so no chunk spans two pages, and chunks carry a 1-based PageNumber.
func (s *Splitter) Split(doc ingest.RawDocument) []ingest.Chunk {
	var out []ingest.Chunk
	if len(doc.Pages) == 0 {
		for _, content := range s.windows(doc.Text) {
			out = append(out, newChunk(doc.FileName, content, 0))
		}
		return s.truncate(out)
	}
	for i, page := range doc.Pages {
		for _, content := range s.windows(page) {
			out = append(out, newChunk(doc.FileName, content, i+1))
		}
	}
	return s.truncate(out)
}

func (s *Splitter) windows(text string) []string {
	if s.cfg.Unit == UnitWords {
		words := strings.Fields(text)
		ws := spans(len(words), s.cfg.ChunkSize, s.cfg.Overlap)
		out := make([]string, 0, len(ws))
		for _, sp := range ws {
			out = append(out, strings.Join(words[sp[0]:sp[1]], " "))
		}
		return out
	}
	runes := []rune(text)
	ws := spans(len(runes), s.cfg.ChunkSize, s.cfg.Overlap)
	out := make([]string, 0, len(ws))
	for _, sp := range ws {
		out = append(out, string(runes[sp[0]:sp[1]]))
	}
	return out
}

func (s *Splitter) truncate(chunks []ingest.Chunk) []ingest.Chunk {
	if s.cfg.MaxChunks > 0 && len(chunks) > s.cfg.MaxChunks {
		return chunks[:s.cfg.MaxChunks]
	}
	return chunks
}

// spans returns [start, end) windows over n units. The last window always ends at n.
func spans(n, size, overlap int) [][2]int {
	if n == 0 {
		return nil
	}
	step := size - overlap
	var out [][2]int
	for start := 0; start < n; start += step {
		end := min(start+size, n)
		out = append(out, [2]int{start, end})
		if end == n {
			break
		}
	}
	return out
}

func newChunk(fileName, content string, page int) ingest.Chunk {
	return ingest.Chunk{
		Content:    content,
		Length:     utf8.RuneCountInString(content),
		PageNumber: page,
		FileName:   fileName,
	}
}

var noise = strings.NewReplacer(`"`, "", "'", "", "\n", " ")

// Clean strips quote characters and flattens embedded newlines.
func Clean(text string) string {
	return noise.Replace(text)
}
