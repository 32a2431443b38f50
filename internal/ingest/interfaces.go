package ingest

import (
	"context"
	"time"
)

// GraphStore persists documents, chunks and their edges.
type GraphStore interface {
	UpsertDocument(ctx context.Context, doc SourceDocument) error
	GetDocument(ctx context.Context, fileName string) (SourceDocument, error)
	GetDocumentStatus(ctx context.Context, fileName string) (DocumentState, error)
	ListDocuments(ctx context.Context) ([]SourceDocument, error)
	SetCancelled(ctx context.Context, fileName string, cancelled bool) error
	CreateChunks(ctx context.Context, chunks []Chunk) error
	LinkChunks(ctx context.Context, links []ChunkLink) error
	AttachEntities(ctx context.Context, edges []EntityEdge) error
	// SaveGraph merges entity nodes by (id, type) and relationships by
	// (source, target, type).
	SaveGraph(ctx context.Context, nodes []Node, rels []Relationship) error
	SetChunkEmbeddings(ctx context.Context, embeddings []ChunkEmbedding) error
}

// Extractor turns chunk text into graph fragments.
type Extractor interface {
	Extract(ctx context.Context, batch []ExtractionInput, nodes, relationships TypeSet) ([]ExtractionResult, error)
	Model() string
}

// StateStore loads and saves the frontier's visited/processed sets.
type StateStore interface {
	Load(ctx context.Context) (FrontierSnapshot, error)
	Save(ctx context.Context, snapshot FrontierSnapshot) error
}

// Fetcher fetches a URL and returns its parsed text and outgoing links.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Publisher pushes completion events to Pub/Sub, NATS or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests used as chunk identity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces pipeline and task IDs.
type IDGenerator interface {
	NewID() (string, error)
}
