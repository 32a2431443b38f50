// Package postgres provides the Postgres-backed document graph store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table naming.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

type tables struct {
	documents     string
	chunks        string
	links         string
	entities      string
	nodes         string
	relationships string
}

// GraphStore persists documents, chunks and their edges as relational rows.
type GraphStore struct {
	pool   pgxPool
	tables tables
	psql   sq.StatementBuilderType
	now    func() time.Time
}

var documentColumns = []string{
	"file_name", "source_type", "url", "file_size", "total_pages", "total_chunks",
	"processed_chunk", "status", "error_message", "node_count", "relationship_count",
	"processing_time", "model", "is_cancelled", "created_at", "updated_at",
}

// NewGraphStore connects a pgx pool and returns a GraphStore.
func NewGraphStore(ctx context.Context, cfg Config) (*GraphStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("graph.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewGraphStoreWithPool(pool, cfg.TablePrefix)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewGraphStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewGraphStoreWithPool(pool pgxPool, prefix string) (*GraphStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	t := tables{
		documents:     prefix + "documents",
		chunks:        prefix + "chunks",
		links:         prefix + "chunk_links",
		entities:      prefix + "chunk_entities",
		nodes:         prefix + "entities",
		relationships: prefix + "relationships",
	}
	for _, name := range []string{t.documents, t.chunks, t.links, t.entities, t.nodes, t.relationships} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &GraphStore{
		pool:   pool,
		tables: t,
		psql:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying pool resources.
func (s *GraphStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when they do not exist.
func (s *GraphStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	file_name TEXT PRIMARY KEY,
	source_type TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	total_pages INTEGER NOT NULL DEFAULT 0,
	total_chunks INTEGER NOT NULL DEFAULT 0,
	processed_chunk INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	node_count INTEGER NOT NULL DEFAULT 0,
	relationship_count INTEGER NOT NULL DEFAULT 0,
	processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
	model TEXT NOT NULL DEFAULT '',
	is_cancelled BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, s.tables.documents),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	position INTEGER NOT NULL,
	length INTEGER NOT NULL,
	content_offset INTEGER NOT NULL,
	page_number INTEGER NOT NULL DEFAULT 0,
	start_time TEXT,
	end_time TEXT,
	previous_id TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	embedding REAL[]
)`, s.tables.chunks),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS embedding REAL[]`, s.tables.chunks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	type TEXT NOT NULL,
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	PRIMARY KEY (type, from_id, to_id)
)`, s.tables.links),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	chunk_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	PRIMARY KEY (chunk_id, entity_type, entity_id)
)`, s.tables.entities),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT NOT NULL,
	type TEXT NOT NULL,
	properties JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (id, type)
)`, s.tables.nodes),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	type TEXT NOT NULL,
	PRIMARY KEY (source_id, target_id, type)
)`, s.tables.relationships),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w: %w", ingest.ErrStore, err)
		}
	}
	return nil
}

// UpsertDocument inserts or updates a document row. created_at and
// is_cancelled are left untouched on conflict; SetCancelled owns the flag.
func (s *GraphStore) UpsertDocument(ctx context.Context, doc ingest.SourceDocument) error {
	if doc.FileName == "" {
		return fmt.Errorf("file name is required: %w", ingest.ErrValidation)
	}
	now := s.now()
	created := doc.CreatedAt
	if created.IsZero() {
		created = now
	}
	query, args, err := s.psql.Insert(s.tables.documents).
		Columns(documentColumns...).
		Values(
			doc.FileName, string(doc.SourceType), doc.URL, doc.FileSize, doc.TotalPages, doc.TotalChunks,
			doc.ProcessedChunk, string(doc.Status), doc.ErrorMessage, doc.NodeCount, doc.RelationshipCount,
			doc.ProcessingTime, doc.Model, doc.IsCancelled, created, now,
		).
		Suffix(`ON CONFLICT (file_name) DO UPDATE SET
	source_type = EXCLUDED.source_type,
	url = EXCLUDED.url,
	file_size = EXCLUDED.file_size,
	total_pages = EXCLUDED.total_pages,
	total_chunks = EXCLUDED.total_chunks,
	processed_chunk = EXCLUDED.processed_chunk,
	status = EXCLUDED.status,
	error_message = EXCLUDED.error_message,
	node_count = EXCLUDED.node_count,
	relationship_count = EXCLUDED.relationship_count,
	processing_time = EXCLUDED.processing_time,
	model = EXCLUDED.model,
	updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert document: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert document %q: %w: %w", doc.FileName, ingest.ErrStore, err)
	}
	return nil
}

// GetDocument loads one document row.
func (s *GraphStore) GetDocument(ctx context.Context, fileName string) (ingest.SourceDocument, error) {
	query, args, err := s.psql.Select(documentColumns...).
		From(s.tables.documents).
		Where(sq.Eq{"file_name": fileName}).
		ToSql()
	if err != nil {
		return ingest.SourceDocument{}, fmt.Errorf("build get document: %w", err)
	}
	doc, err := scanDocument(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.SourceDocument{}, fmt.Errorf("document %q: %w", fileName, ingest.ErrNotFound)
	}
	if err != nil {
		return ingest.SourceDocument{}, fmt.Errorf("get document %q: %w: %w", fileName, ingest.ErrStore, err)
	}
	return doc, nil
}

// GetDocumentStatus reads the status fields polled between batches.
func (s *GraphStore) GetDocumentStatus(ctx context.Context, fileName string) (ingest.DocumentState, error) {
	query, args, err := s.psql.Select("status", "is_cancelled", "error_message").
		From(s.tables.documents).
		Where(sq.Eq{"file_name": fileName}).
		ToSql()
	if err != nil {
		return ingest.DocumentState{}, fmt.Errorf("build get status: %w", err)
	}
	var (
		status    string
		cancelled bool
		errMsg    string
	)
	err = s.pool.QueryRow(ctx, query, args...).Scan(&status, &cancelled, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.DocumentState{}, fmt.Errorf("document %q: %w", fileName, ingest.ErrNotFound)
	}
	if err != nil {
		return ingest.DocumentState{}, fmt.Errorf("get status %q: %w: %w", fileName, ingest.ErrStore, err)
	}
	return ingest.DocumentState{
		Status:       ingest.DocumentStatus(status),
		IsCancelled:  cancelled,
		ErrorMessage: errMsg,
	}, nil
}

// ListDocuments returns every document, most recently updated first.
func (s *GraphStore) ListDocuments(ctx context.Context) ([]ingest.SourceDocument, error) {
	query, args, err := s.psql.Select(documentColumns...).
		From(s.tables.documents).
		OrderBy("updated_at DESC", "file_name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list documents: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w: %w", ingest.ErrStore, err)
	}
	defer rows.Close()

	var out []ingest.SourceDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w: %w", ingest.ErrStore, err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w: %w", ingest.ErrStore, err)
	}
	return out, nil
}

// SetCancelled flips the cancellation flag the controller polls between batches.
func (s *GraphStore) SetCancelled(ctx context.Context, fileName string, cancelled bool) error {
	query, args, err := s.psql.Update(s.tables.documents).
		Set("is_cancelled", cancelled).
		Set("updated_at", s.now()).
		Where(sq.Eq{"file_name": fileName}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set cancelled: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set cancelled %q: %w: %w", fileName, ingest.ErrStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %q: %w", fileName, ingest.ErrNotFound)
	}
	return nil
}

// CreateChunks merges chunk rows by content id. Repeated ids within one call
// keep the first occurrence; ON CONFLICT DO UPDATE rejects a statement that
// touches the same row twice.
func (s *GraphStore) CreateChunks(ctx context.Context, chunks []ingest.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	b := s.psql.Insert(s.tables.chunks).Columns(
		"id", "file_name", "position", "length", "content_offset",
		"page_number", "start_time", "end_time", "previous_id", "content",
	)
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk at position %d has no id: %w", c.Position, ingest.ErrValidation)
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		b = b.Values(c.ID, c.FileName, c.Position, c.Length, c.ContentOffset,
			c.PageNumber, c.StartTime, c.EndTime, c.PreviousID, c.Content)
	}
	query, args, err := b.Suffix(`ON CONFLICT (id) DO UPDATE SET
	file_name = EXCLUDED.file_name,
	position = EXCLUDED.position,
	length = EXCLUDED.length,
	content_offset = EXCLUDED.content_offset,
	page_number = EXCLUDED.page_number,
	start_time = EXCLUDED.start_time,
	end_time = EXCLUDED.end_time,
	previous_id = EXCLUDED.previous_id`).ToSql()
	if err != nil {
		return fmt.Errorf("build create chunks: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("create chunks: %w: %w", ingest.ErrStore, err)
	}
	return nil
}

// LinkChunks inserts FIRST_CHUNK, NEXT_CHUNK and PART_OF edges.
func (s *GraphStore) LinkChunks(ctx context.Context, links []ingest.ChunkLink) error {
	if len(links) == 0 {
		return nil
	}
	b := s.psql.Insert(s.tables.links).Columns("type", "from_id", "to_id")
	for _, l := range links {
		b = b.Values(string(l.Type), l.FromID, l.ToID)
	}
	query, args, err := b.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build link chunks: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("link chunks: %w: %w", ingest.ErrStore, err)
	}
	return nil
}

// AttachEntities inserts HAS_ENTITY edges.
func (s *GraphStore) AttachEntities(ctx context.Context, edges []ingest.EntityEdge) error {
	if len(edges) == 0 {
		return nil
	}
	b := s.psql.Insert(s.tables.entities).Columns("chunk_id", "entity_type", "entity_id")
	for _, e := range edges {
		b = b.Values(e.ChunkID, e.EntityType, e.EntityID)
	}
	query, args, err := b.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build attach entities: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("attach entities: %w: %w", ingest.ErrStore, err)
	}
	return nil
}

// SaveGraph merges entity nodes and relationships. Node properties are merged
// into the stored JSONB object.
func (s *GraphStore) SaveGraph(ctx context.Context, nodes []ingest.Node, rels []ingest.Relationship) error {
	if err := s.saveNodes(ctx, nodes); err != nil {
		return err
	}
	return s.saveRelationships(ctx, rels)
}

func (s *GraphStore) saveNodes(ctx context.Context, nodes []ingest.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	type key struct{ id, typ string }
	merged := make(map[key]map[string]string, len(nodes))
	var order []key
	for _, n := range nodes {
		if n.ID == "" || n.Type == "" {
			return fmt.Errorf("node %q of type %q: %w", n.ID, n.Type, ingest.ErrValidation)
		}
		k := key{id: n.ID, typ: n.Type}
		props, ok := merged[k]
		if !ok {
			props = make(map[string]string, len(n.Properties))
			order = append(order, k)
		}
		for name, v := range n.Properties {
			props[name] = v
		}
		merged[k] = props
	}
	b := s.psql.Insert(s.tables.nodes).Columns("id", "type", "properties")
	for _, k := range order {
		props, err := json.Marshal(merged[k])
		if err != nil {
			return fmt.Errorf("encode properties of %q: %w: %w", k.id, ingest.ErrValidation, err)
		}
		b = b.Values(k.id, k.typ, string(props))
	}
	query, args, err := b.Suffix(fmt.Sprintf(
		"ON CONFLICT (id, type) DO UPDATE SET properties = %s.properties || EXCLUDED.properties", s.tables.nodes,
	)).ToSql()
	if err != nil {
		return fmt.Errorf("build save nodes: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save nodes: %w: %w", ingest.ErrStore, err)
	}
	return nil
}

func (s *GraphStore) saveRelationships(ctx context.Context, rels []ingest.Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	b := s.psql.Insert(s.tables.relationships).Columns("source_id", "target_id", "type")
	for _, r := range rels {
		if r.SourceID == "" || r.TargetID == "" || r.Type == "" {
			return fmt.Errorf("relationship %q-%q-%q: %w", r.SourceID, r.Type, r.TargetID, ingest.ErrValidation)
		}
		b = b.Values(r.SourceID, r.TargetID, r.Type)
	}
	query, args, err := b.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build save relationships: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save relationships: %w: %w", ingest.ErrStore, err)
	}
	return nil
}

// SetChunkEmbeddings writes the embedding column of each chunk.
func (s *GraphStore) SetChunkEmbeddings(ctx context.Context, embeddings []ingest.ChunkEmbedding) error {
	for _, e := range embeddings {
		query, args, err := s.psql.Update(s.tables.chunks).
			Set("embedding", e.Vector).
			Where(sq.Eq{"id": e.ChunkID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build set embedding: %w", err)
		}
		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("set embedding %q: %w: %w", e.ChunkID, ingest.ErrStore, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("chunk %q: %w", e.ChunkID, ingest.ErrNotFound)
		}
	}
	return nil
}

func scanDocument(row pgx.Row) (ingest.SourceDocument, error) {
	var (
		doc        ingest.SourceDocument
		sourceType string
		status     string
	)
	err := row.Scan(
		&doc.FileName, &sourceType, &doc.URL, &doc.FileSize, &doc.TotalPages, &doc.TotalChunks,
		&doc.ProcessedChunk, &status, &doc.ErrorMessage, &doc.NodeCount, &doc.RelationshipCount,
		&doc.ProcessingTime, &doc.Model, &doc.IsCancelled, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return ingest.SourceDocument{}, err
	}
	doc.SourceType = ingest.SourceType(sourceType)
	doc.Status = ingest.DocumentStatus(status)
	return doc, nil
}
