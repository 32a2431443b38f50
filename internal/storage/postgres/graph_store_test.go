package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

func newMockStore(t *testing.T) (*GraphStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewGraphStoreWithPool(mock, "")
	require.NoError(t, err)
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

func TestNewGraphStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewGraphStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewGraphStoreWithPool(mock, "bad-prefix;")
	require.Error(t, err)

	store, err := NewGraphStoreWithPool(mock, "gb_")
	require.NoError(t, err)
	assert.Equal(t, "gb_documents", store.tables.documents)
}

func TestNewGraphStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewGraphStore(context.Background(), Config{})
	require.Error(t, err)
}

func TestUpsertDocumentInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	doc := ingest.SourceDocument{
		FileName:       "doc.pdf",
		SourceType:     ingest.SourceFile,
		TotalPages:     2,
		TotalChunks:    50,
		ProcessedChunk: 10,
		Status:         ingest.StatusProcessing,
		NodeCount:      4,
		ProcessingTime: 1.5,
		Model:          "azure_ai_gpt_4o",
	}

	mock.ExpectExec("INSERT INTO documents").
		WithArgs(
			"doc.pdf", "file", "", int64(0), 2, 50,
			10, "Processing", "", 4, 0,
			1.5, "azure_ai_gpt_4o", false, fixedNow, fixedNow,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertDocument(context.Background(), doc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDocumentWrapsStoreError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO documents").WillReturnError(errors.New("connection reset"))

	err := store.UpsertDocument(context.Background(), ingest.SourceDocument{FileName: "doc.pdf", Status: ingest.StatusNew})
	require.ErrorIs(t, err, ingest.ErrStore)
	require.ErrorIs(t, store.UpsertDocument(context.Background(), ingest.SourceDocument{}), ingest.ErrValidation)
}

func TestGetDocumentStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT status, is_cancelled, error_message FROM documents").
		WithArgs("doc.pdf").
		WillReturnRows(pgxmock.NewRows([]string{"status", "is_cancelled", "error_message"}).
			AddRow("Processing", true, ""))

	state, err := store.GetDocumentStatus(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusProcessing, state.Status)
	assert.True(t, state.IsCancelled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDocumentStatusNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT status, is_cancelled, error_message FROM documents").
		WithArgs("missing.pdf").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetDocumentStatus(context.Background(), "missing.pdf")
	require.ErrorIs(t, err, ingest.ErrNotFound)
}

func TestListDocuments(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows(documentColumns).
		AddRow("a.pdf", "file", "", int64(10), 1, 3, 3, "Completed", "", 5, 2, 0.42, "m", false, fixedNow, fixedNow).
		AddRow("b.html", "url", "https://example.com", int64(0), 1, 2, 1, "Failed", "boom", 0, 0, 0.1, "m", false, fixedNow, fixedNow)
	mock.ExpectQuery("SELECT file_name, source_type").WillReturnRows(rows)

	docs, err := store.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, ingest.StatusCompleted, docs[0].Status)
	assert.Equal(t, ingest.SourceURL, docs[1].SourceType)
	assert.Equal(t, "boom", docs[1].ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCancelled(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE documents SET is_cancelled").
		WithArgs(true, fixedNow, "doc.pdf").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE documents SET is_cancelled").
		WithArgs(true, fixedNow, "missing.pdf").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.SetCancelled(context.Background(), "doc.pdf", true))
	require.ErrorIs(t, store.SetCancelled(context.Background(), "missing.pdf", true), ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateChunksAndEdges(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	chunks := []ingest.Chunk{
		{ID: "c1", FileName: "a.txt", Position: 1, Length: 3, Content: "one"},
		{ID: "c2", FileName: "a.txt", Position: 2, Length: 3, ContentOffset: 3, PreviousID: "c1", Content: "two"},
	}
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs(
			"c1", "a.txt", 1, 3, 0, 0, (*string)(nil), (*string)(nil), "", "one",
			"c2", "a.txt", 2, 3, 3, 0, (*string)(nil), (*string)(nil), "c1", "two",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("INSERT INTO chunk_links").
		WithArgs("FIRST_CHUNK", "a.txt", "c1", "NEXT_CHUNK", "c1", "c2").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("INSERT INTO chunk_entities").
		WithArgs("c1", "Person", "ada").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	require.NoError(t, store.CreateChunks(ctx, chunks))
	require.NoError(t, store.LinkChunks(ctx, []ingest.ChunkLink{
		{Type: ingest.LinkFirstChunk, FromID: "a.txt", ToID: "c1"},
		{Type: ingest.LinkNextChunk, FromID: "c1", ToID: "c2"},
	}))
	require.NoError(t, store.AttachEntities(ctx, []ingest.EntityEdge{{ChunkID: "c1", EntityType: "Person", EntityID: "ada"}}))
	require.NoError(t, store.CreateChunks(ctx, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateChunksKeepsFirstOfRepeatedIDs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	chunks := []ingest.Chunk{
		{ID: "dup", FileName: "a.txt", Position: 1, Length: 4, Content: "same"},
		{ID: "c2", FileName: "a.txt", Position: 2, Length: 4, ContentOffset: 4, PreviousID: "dup", Content: "next"},
		{ID: "dup", FileName: "a.txt", Position: 3, Length: 4, ContentOffset: 8, PreviousID: "c2", Content: "same"},
	}
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs(
			"dup", "a.txt", 1, 4, 0, 0, (*string)(nil), (*string)(nil), "", "same",
			"c2", "a.txt", 2, 4, 4, 0, (*string)(nil), (*string)(nil), "dup", "next",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, store.CreateChunks(context.Background(), chunks))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveGraphMergesNodesAndInsertsRelationships(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO entities .* ON CONFLICT \(id, type\) DO UPDATE SET properties = entities.properties \|\| EXCLUDED.properties`).
		WithArgs("ada", "Person", `{"born":"1815","field":"maths"}`, "engine", "Machine", "{}").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("INSERT INTO relationships").
		WithArgs("ada", "engine", "WORKED_ON").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.SaveGraph(context.Background(),
		[]ingest.Node{
			{ID: "ada", Type: "Person", Properties: map[string]string{"born": "1815"}},
			{ID: "engine", Type: "Machine"},
			{ID: "ada", Type: "Person", Properties: map[string]string{"field": "maths"}},
		},
		[]ingest.Relationship{{SourceID: "ada", TargetID: "engine", Type: "WORKED_ON"}},
	)
	require.NoError(t, err)
	require.NoError(t, store.SaveGraph(context.Background(), nil, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveGraphRejectsIncompleteEntries(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()
	require.ErrorIs(t, store.SaveGraph(ctx, []ingest.Node{{ID: "ada"}}, nil), ingest.ErrValidation)
	require.ErrorIs(t, store.SaveGraph(ctx, nil, []ingest.Relationship{{SourceID: "ada", Type: "KNOWS"}}), ingest.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetChunkEmbeddings(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE chunks SET embedding").
		WithArgs([]float32{0.25, 0.5}, "c1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE chunks SET embedding").
		WithArgs([]float32{1}, "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, store.SetChunkEmbeddings(ctx, []ingest.ChunkEmbedding{{ChunkID: "c1", Vector: []float32{0.25, 0.5}}}))
	err := store.SetChunkEmbeddings(ctx, []ingest.ChunkEmbedding{{ChunkID: "gone", Vector: []float32{1}}})
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaCreatesGraphTables(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS documents",
		"CREATE TABLE IF NOT EXISTS chunks",
		"ALTER TABLE chunks ADD COLUMN IF NOT EXISTS embedding",
		"CREATE TABLE IF NOT EXISTS chunk_links",
		"CREATE TABLE IF NOT EXISTS chunk_entities",
		"CREATE TABLE IF NOT EXISTS entities",
		"CREATE TABLE IF NOT EXISTS relationships",
	} {
		mock.ExpectExec(stmt).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
