package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

// GraphStore is an in-memory ingest.GraphStore.
type GraphStore struct {
	mu       sync.RWMutex
	docs     map[string]ingest.SourceDocument
	chunks   map[string]ingest.Chunk
	order    map[string][]string
	links    []ingest.ChunkLink
	entities []ingest.EntityEdge
	nodes    map[nodeKey]ingest.Node
	rels     map[ingest.Relationship]struct{}
	vectors  map[string][]float32
	now      func() time.Time
}

type nodeKey struct {
	id, typ string
}

// NewGraphStore constructs an empty GraphStore.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		docs:    make(map[string]ingest.SourceDocument),
		chunks:  make(map[string]ingest.Chunk),
		order:   make(map[string][]string),
		nodes:   make(map[nodeKey]ingest.Node),
		rels:    make(map[ingest.Relationship]struct{}),
		vectors: make(map[string][]float32),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// UpsertDocument inserts or replaces a document record. CreatedAt and the
// cancellation flag of an existing record are kept; only SetCancelled changes
// the flag once the record exists.
func (s *GraphStore) UpsertDocument(_ context.Context, doc ingest.SourceDocument) error {
	if doc.FileName == "" {
		return fmt.Errorf("file name is required: %w", ingest.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if prev, ok := s.docs[doc.FileName]; ok {
		doc.CreatedAt = prev.CreatedAt
		doc.IsCancelled = prev.IsCancelled
	} else if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	s.docs[doc.FileName] = doc
	return nil
}

// GetDocument returns the full record for fileName.
func (s *GraphStore) GetDocument(_ context.Context, fileName string) (ingest.SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[fileName]
	if !ok {
		return ingest.SourceDocument{}, fmt.Errorf("document %q: %w", fileName, ingest.ErrNotFound)
	}
	return doc, nil
}

// GetDocumentStatus returns the status fields read between batches.
func (s *GraphStore) GetDocumentStatus(ctx context.Context, fileName string) (ingest.DocumentState, error) {
	doc, err := s.GetDocument(ctx, fileName)
	if err != nil {
		return ingest.DocumentState{}, err
	}
	return ingest.DocumentState{
		Status:       doc.Status,
		IsCancelled:  doc.IsCancelled,
		ErrorMessage: doc.ErrorMessage,
	}, nil
}

// ListDocuments returns every document, newest update first.
func (s *GraphStore) ListDocuments(_ context.Context) ([]ingest.SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.SourceDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].FileName < out[j].FileName
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// SetCancelled flips the cancellation flag the controller polls between batches.
func (s *GraphStore) SetCancelled(_ context.Context, fileName string, cancelled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[fileName]
	if !ok {
		return fmt.Errorf("document %q: %w", fileName, ingest.ErrNotFound)
	}
	doc.IsCancelled = cancelled
	doc.UpdatedAt = s.now()
	s.docs[fileName] = doc
	return nil
}

// CreateChunks merges chunks by id. Identical text in two documents maps to
// one chunk record, the last writer's fields win.
func (s *GraphStore) CreateChunks(_ context.Context, chunks []ingest.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk at position %d has no id: %w", c.Position, ingest.ErrValidation)
		}
		if _, seen := s.chunks[c.ID]; !seen || !contains(s.order[c.FileName], c.ID) {
			s.order[c.FileName] = append(s.order[c.FileName], c.ID)
		}
		s.chunks[c.ID] = c
	}
	return nil
}

// LinkChunks records FIRST_CHUNK, NEXT_CHUNK and PART_OF edges.
func (s *GraphStore) LinkChunks(_ context.Context, links []ingest.ChunkLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, links...)
	return nil
}

// AttachEntities records HAS_ENTITY edges.
func (s *GraphStore) AttachEntities(_ context.Context, edges []ingest.EntityEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = append(s.entities, edges...)
	return nil
}

// SaveGraph merges nodes by (id, type) and relationships by (source, target,
// type). Properties of a repeated node are merged, later values win.
func (s *GraphStore) SaveGraph(_ context.Context, nodes []ingest.Node, rels []ingest.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		if n.ID == "" || n.Type == "" {
			return fmt.Errorf("node %q of type %q: %w", n.ID, n.Type, ingest.ErrValidation)
		}
		key := nodeKey{id: n.ID, typ: n.Type}
		merged := s.nodes[key]
		merged.ID, merged.Type = n.ID, n.Type
		if len(n.Properties) > 0 && merged.Properties == nil {
			merged.Properties = make(map[string]string, len(n.Properties))
		}
		for k, v := range n.Properties {
			merged.Properties[k] = v
		}
		s.nodes[key] = merged
	}
	for _, r := range rels {
		if r.SourceID == "" || r.TargetID == "" || r.Type == "" {
			return fmt.Errorf("relationship %q-%q-%q: %w", r.SourceID, r.Type, r.TargetID, ingest.ErrValidation)
		}
		s.rels[r] = struct{}{}
	}
	return nil
}

// SetChunkEmbeddings stores a vector per chunk id.
func (s *GraphStore) SetChunkEmbeddings(_ context.Context, embeddings []ingest.ChunkEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range embeddings {
		if _, ok := s.chunks[e.ChunkID]; !ok {
			return fmt.Errorf("chunk %q: %w", e.ChunkID, ingest.ErrNotFound)
		}
		s.vectors[e.ChunkID] = append([]float32(nil), e.Vector...)
	}
	return nil
}

// Nodes returns every stored entity node ordered by type then id.
func (s *GraphStore) Nodes() []ingest.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Relationships returns every stored relationship ordered by source, type, target.
func (s *GraphStore) Relationships() []ingest.Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Relationship, 0, len(s.rels))
	for r := range s.rels {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.TargetID < b.TargetID
	})
	return out
}

// Embedding returns the vector stored for chunkID, if any.
func (s *GraphStore) Embedding(chunkID string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vectors[chunkID]
	return v, ok
}

// Chunks returns the chunks created for fileName in insertion order.
func (s *GraphStore) Chunks(fileName string) []ingest.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[fileName]
	out := make([]ingest.Chunk, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.chunks[id])
	}
	return out
}

// Links returns every recorded chunk edge.
func (s *GraphStore) Links() []ingest.ChunkLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ingest.ChunkLink(nil), s.links...)
}

// Entities returns every recorded entity edge.
func (s *GraphStore) Entities() []ingest.EntityEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ingest.EntityEdge(nil), s.entities...)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
