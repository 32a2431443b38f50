package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/graphbuilder/internal/chunker"
	"github.com/JakeFAU/graphbuilder/internal/hash/sha1"
	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/processing"
	"github.com/JakeFAU/graphbuilder/internal/storage/memory"
)

type stubExtractor struct {
	calls   atomic.Int32
	failOn  int32
	failErr error
}

func (s *stubExtractor) Extract(
	_ context.Context,
	batch []ingest.ExtractionInput,
	_, _ ingest.TypeSet,
) ([]ingest.ExtractionResult, error) {
	n := s.calls.Add(1)
	if n == s.failOn {
		return nil, s.failErr
	}
	out := make([]ingest.ExtractionResult, 0, len(batch))
	for _, in := range batch {
		out = append(out, ingest.ExtractionResult{
			ChunkID:       in.ChunkID,
			Nodes:         []ingest.Node{{ID: "n-" + in.ChunkID, Type: "Concept"}, {ID: "topic", Type: "Concept"}},
			Relationships: []ingest.Relationship{{SourceID: "n-" + in.ChunkID, TargetID: "topic", Type: "MENTIONS"}},
		})
	}
	return out, nil
}

func (s *stubExtractor) Model() string { return "stub" }

// cancellingExtractor ends the run's context on its first call and returns a
// successful batch only after the pipeline has seen the cancellation.
type cancellingExtractor struct {
	stubExtractor
	cancel context.CancelFunc
}

func (c *cancellingExtractor) Extract(
	ctx context.Context,
	batch []ingest.ExtractionInput,
	nodes, rels ingest.TypeSet,
) ([]ingest.ExtractionResult, error) {
	c.cancel()
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	return c.stubExtractor.Extract(context.WithoutCancel(ctx), batch, nodes, rels)
}

func newController(t *testing.T, store ingest.GraphStore, ex ingest.Extractor) *processing.Controller {
	t.Helper()
	splitter, err := chunker.NewSplitter(chunker.Config{ChunkSize: 8})
	require.NoError(t, err)
	ctrl, err := processing.New(processing.Config{BatchSize: 2}, store, ex, splitter, chunker.NewLinker(sha1.New()))
	require.NoError(t, err)
	return ctrl
}

// docPages splits into four chunks of which the first three share one id.
func docPages() []ingest.Page {
	return []ingest.Page{{Text: strings.Repeat("abcdefgh", 3)}, {Text: "ijklmnop"}}
}

func TestDocumentPipelineCompletes(t *testing.T) {
	t.Parallel()

	store := memory.NewGraphStore()
	ex := &stubExtractor{}
	dp, err := NewDocumentPipeline(newController(t, store, ex),
		ingest.SourceDocument{FileName: "guide.md"}, docPages(), processing.Options{}, fastConfig())
	require.NoError(t, err)

	summary, err := dp.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusCompleted, summary.Status)
	assert.Equal(t, 5, summary.NodeCount, "distinct (id, type) pairs per batch: 2 then 3")
	assert.Equal(t, 2, summary.RelationshipCount)
	assert.Equal(t, "stub", summary.Model)
	assert.Equal(t, int32(2), ex.calls.Load())

	for _, task := range dp.Tasks() {
		assert.Equal(t, StatusCompleted, task.Status(), task.ID)
	}
	rels, _ := dp.Task(StageRelationshipExtraction)
	assert.Equal(t, map[string]int{"MENTIONS": 2}, rels.Result())
	assert.Len(t, store.Nodes(), 3)
	assert.Len(t, store.Relationships(), 2)

	stored, err := store.GetDocument(context.Background(), "guide.md")
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.TotalPages)
	assert.Equal(t, 4, stored.ProcessedChunk)
}

func TestDocumentPipelineRetriesExtractionFromCheckpoint(t *testing.T) {
	t.Parallel()

	store := memory.NewGraphStore()
	ex := &stubExtractor{failOn: 2, failErr: errors.New("rate limited")}
	dp, err := NewDocumentPipeline(newController(t, store, ex),
		ingest.SourceDocument{FileName: "retry.md"}, docPages(), processing.Options{}, fastConfig())
	require.NoError(t, err)

	summary, err := dp.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusCompleted, summary.Status)
	assert.Equal(t, int32(3), ex.calls.Load(), "only the failed batch is resent")
	task, _ := dp.Task(StageEntityExtraction)
	assert.Equal(t, 1, task.RetryCount())
}

func TestDocumentPipelineMarksFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewGraphStore()
	ex := &stubExtractor{failOn: 1, failErr: errors.New("bad key")}
	cfg := fastConfig()
	cfg.AutoRetryFailed = false
	dp, err := NewDocumentPipeline(newController(t, store, ex),
		ingest.SourceDocument{FileName: "broken.md"}, docPages(), processing.Options{}, cfg)
	require.NoError(t, err)

	summary, err := dp.Process(context.Background())
	require.ErrorIs(t, err, ingest.ErrProcessing)
	assert.Equal(t, ingest.StatusFailed, summary.Status)

	stored, err := store.GetDocument(context.Background(), "broken.md")
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "bad key")
	validation, _ := dp.Task(StageValidation)
	assert.Equal(t, StatusPending, validation.Status())
}

func TestDocumentPipelineAlreadyProcessing(t *testing.T) {
	t.Parallel()

	store := memory.NewGraphStore()
	require.NoError(t, store.UpsertDocument(context.Background(),
		ingest.SourceDocument{FileName: "busy.md", Status: ingest.StatusProcessing}))
	dp, err := NewDocumentPipeline(newController(t, store, &stubExtractor{}),
		ingest.SourceDocument{FileName: "busy.md"}, docPages(), processing.Options{}, fastConfig())
	require.NoError(t, err)

	summary, err := dp.Process(context.Background())
	require.ErrorIs(t, err, ingest.ErrAlreadyProcessing)
	assert.Equal(t, ingest.StatusProcessing, summary.Status)

	stored, err := store.GetDocument(context.Background(), "busy.md")
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusProcessing, stored.Status, "the running job's record is untouched")
}

func TestDocumentPipelineCancelledContextFailsAfterStagesStop(t *testing.T) {
	t.Parallel()

	store := memory.NewGraphStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ex := &cancellingExtractor{cancel: cancel}
	dp, err := NewDocumentPipeline(newController(t, store, ex),
		ingest.SourceDocument{FileName: "stopped.md"}, docPages(), processing.Options{}, fastConfig())
	require.NoError(t, err)

	summary, err := dp.Process(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ingest.StatusFailed, summary.Status)
	assert.Equal(t, StatusCancelled, dp.Status())

	extraction, _ := dp.Task(StageEntityExtraction)
	assert.Equal(t, StatusCancelled, extraction.Status())
	assert.Zero(t, extraction.RetryCount())

	stored, err := store.GetDocument(context.Background(), "stopped.md")
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusFailed, stored.Status, "the batch checkpoint lands before the Failed record")
	assert.Equal(t, 2, stored.ProcessedChunk)
	assert.Equal(t, int32(1), ex.calls.Load())
}
