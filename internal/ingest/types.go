// Package ingest defines the core types shared by the crawl, chunking and processing subsystems.
package ingest

import (
	"net/http"
	"time"
)

// DocumentStatus represents the lifecycle state of a source document.
type DocumentStatus string

// Document status values persisted in the graph store.
const (
	StatusNew        DocumentStatus = "New"
	StatusProcessing DocumentStatus = "Processing"
	StatusCompleted  DocumentStatus = "Completed"
	StatusFailed     DocumentStatus = "Failed"
	StatusCancelled  DocumentStatus = "Cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// SourceType records where a document came from.
type SourceType string

// Supported source types.
const (
	SourceFile      SourceType = "file"
	SourceURL       SourceType = "url"
	SourceWikipedia SourceType = "wikipedia"
	SourceYouTube   SourceType = "youtube"
)

// SourceDocument is the document record owned by the graph store.
type SourceDocument struct {
	FileName          string         `json:"fileName"`
	SourceType        SourceType     `json:"sourceType"`
	URL               string         `json:"url,omitempty"`
	FileSize          int64          `json:"fileSize"`
	TotalPages        int            `json:"totalPages"`
	TotalChunks       int            `json:"totalChunks"`
	ProcessedChunk    int            `json:"processedChunk"`
	Status            DocumentStatus `json:"status"`
	ErrorMessage      string         `json:"errorMessage,omitempty"`
	NodeCount         int            `json:"nodeCount"`
	RelationshipCount int            `json:"relationshipCount"`
	ProcessingTime    float64        `json:"processingTime"`
	Model             string         `json:"model,omitempty"`
	IsCancelled       bool           `json:"isCancelled"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// DocumentState is the subset of a document read between batches.
type DocumentState struct {
	Status       DocumentStatus `json:"status"`
	IsCancelled  bool           `json:"isCancelled"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// Page is one unit of raw text, either a fetched web page or a page of a file.
type Page struct {
	URL        string        `json:"url,omitempty"`
	Title      string        `json:"title,omitempty"`
	Text       string        `json:"text"`
	StatusCode int           `json:"statusCode,omitempty"`
	Headers    http.Header   `json:"-"`
	Links      []string      `json:"links,omitempty"`
	Bytes      int           `json:"bytes,omitempty"`
	Duration   time.Duration `json:"-"`
	Headless   bool          `json:"headless,omitempty"`
}

// RawDocument is the pre-chunking input: plain text, optionally split into pages.
type RawDocument struct {
	FileName string
	Text     string
	// Pages, when non-empty, take precedence over Text and bound every chunk.
	Pages []string
}

// Chunk is an immutable, content-addressed slice of document text.
type Chunk struct {
	ID            string  `json:"id"`
	Content       string  `json:"text"`
	Position      int     `json:"position"`
	Length        int     `json:"length"`
	ContentOffset int     `json:"contentOffset"`
	PageNumber    int     `json:"pageNumber,omitempty"`
	StartTime     *string `json:"startTime,omitempty"`
	EndTime       *string `json:"endTime,omitempty"`
	PreviousID    string  `json:"previousId,omitempty"`
	FileName      string  `json:"fileName"`
}

// LinkType enumerates the typed edges produced by the linker.
type LinkType string

// Supported edge types.
const (
	LinkFirstChunk LinkType = "FIRST_CHUNK"
	LinkNextChunk  LinkType = "NEXT_CHUNK"
	LinkPartOf     LinkType = "PART_OF"
)

// ChunkLink is a typed edge between a document and a chunk or two chunks.
type ChunkLink struct {
	Type   LinkType `json:"type"`
	FromID string   `json:"fromId"`
	ToID   string   `json:"toId"`
}

// EntityEdge attaches an extracted entity to the chunk it was found in.
type EntityEdge struct {
	ChunkID    string `json:"chunkId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

// ExtractionInput is the per-chunk payload sent to the extraction service.
type ExtractionInput struct {
	ChunkID string `json:"chunkId"`
	Text    string `json:"text"`
}

// Node is an entity returned by the extraction service.
type Node struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Relationship is an edge between two extracted entities.
type Relationship struct {
	SourceID string `json:"source"`
	TargetID string `json:"target"`
	Type     string `json:"type"`
}

// ExtractionResult is the graph fragment extracted from one chunk.
type ExtractionResult struct {
	ChunkID       string         `json:"chunkId"`
	Nodes         []Node         `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
	Embedding     []float32      `json:"embedding,omitempty"`
}

// ChunkEmbedding is the vector stored on a chunk record.
type ChunkEmbedding struct {
	ChunkID string
	Vector  []float32
}

// FrontierSnapshot is the durable form of the crawl frontier.
type FrontierSnapshot struct {
	VisitedURLs   []string `json:"visitedURLs"`
	ProcessedURLs []string `json:"processedURLs"`
}
