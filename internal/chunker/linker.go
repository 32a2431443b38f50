package chunker

import (
	"fmt"
	"unicode/utf8"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

// LinkResult is a document's chunk batch plus its edges, ready for bulk persistence.
type LinkResult struct {
	Chunks []ingest.Chunk
	// Links holds one FIRST_CHUNK edge followed by N-1 NEXT_CHUNK edges.
	Links []ingest.ChunkLink
	// Membership holds one PART_OF edge per chunk.
	Membership []ingest.ChunkLink
}

// Linker assigns content-addressed identity and ordering to chunks.
type Linker struct {
	hasher ingest.Hasher
}

// NewLinker builds a Linker around the supplied digest.
func NewLinker(hasher ingest.Hasher) *Linker {
	return &Linker{hasher: hasher}
}

// Link numbers chunks, computes offsets and emits the linked-list edges.
// ContentOffset accumulates the raw rune length of the previous chunk, so
// overlapping text is counted twice. Identical consecutive chunks share an id,
// so their NEXT_CHUNK edge is a self-loop.
func (l *Linker) Link(fileName string, chunks []ingest.Chunk) (LinkResult, error) {
	res := LinkResult{
		Chunks:     make([]ingest.Chunk, 0, len(chunks)),
		Links:      make([]ingest.ChunkLink, 0, len(chunks)),
		Membership: make([]ingest.ChunkLink, 0, len(chunks)),
	}
	offset := 0
	prevID := ""
	for i, in := range chunks {
		id, err := l.hasher.Hash([]byte(in.Content))
		if err != nil {
			return LinkResult{}, fmt.Errorf("hash chunk %d: %w", i+1, err)
		}
		if i > 0 {
			offset += res.Chunks[i-1].Length
		}
		c := in
		c.ID = id
		c.Length = utf8.RuneCountInString(c.Content)
		c.Position = i + 1
		c.ContentOffset = offset
		c.PreviousID = prevID
		c.FileName = fileName
		res.Chunks = append(res.Chunks, c)

		if i == 0 {
			res.Links = append(res.Links, ingest.ChunkLink{Type: ingest.LinkFirstChunk, FromID: fileName, ToID: id})
		} else {
			res.Links = append(res.Links, ingest.ChunkLink{Type: ingest.LinkNextChunk, FromID: prevID, ToID: id})
		}
		res.Membership = append(res.Membership, ingest.ChunkLink{Type: ingest.LinkPartOf, FromID: id, ToID: fileName})
		prevID = id
	}
	return res, nil
}

// Edges returns the ordering and membership edges in one slice.
func (r LinkResult) Edges() []ingest.ChunkLink {
	out := make([]ingest.ChunkLink, 0, len(r.Links)+len(r.Membership))
	out = append(out, r.Links...)
	return append(out, r.Membership...)
}
