// Package processing drives one document through chunking, batched entity
// extraction and checkpointed persistence.
package processing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/chunker"
	"github.com/JakeFAU/graphbuilder/internal/clock/system"
	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/progress"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultBatchSize = 20
	DefaultTopic     = "documents"
)

// Config controls batching and notifications.
type Config struct {
	BatchSize int
	// Topic receives one Summary per finished document.
	Topic string
	// Embeddings stores the vector returned for each chunk.
	Embeddings bool
}

// Options are the per-document extraction settings.
type Options struct {
	AllowedNodes         ingest.TypeSet
	AllowedRelationships ingest.TypeSet
	// BatchSize overrides Config.BatchSize when > 0.
	BatchSize int
}

// Summary is the result of one document job.
type Summary struct {
	FileName          string                `json:"fileName"`
	NodeCount         int                   `json:"nodeCount"`
	RelationshipCount int                   `json:"relationshipCount"`
	ProcessingTime    float64               `json:"processingTime"`
	Status            ingest.DocumentStatus `json:"status"`
	Model             string                `json:"model"`
	ErrorMessage      string                `json:"errorMessage,omitempty"`
}

// Option configures optional Controller collaborators.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEmitter sets the progress emitter.
func WithEmitter(emitter progress.Emitter) Option {
	return func(c *Controller) {
		if emitter != nil {
			c.emitter = emitter
		}
	}
}

// WithPublisher sets where completion summaries are published.
func WithPublisher(publisher ingest.Publisher) Option {
	return func(c *Controller) {
		c.publisher = publisher
	}
}

// WithClock overrides the time source.
func WithClock(clock ingest.Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Controller runs document jobs against a GraphStore and an Extractor.
type Controller struct {
	cfg       Config
	store     ingest.GraphStore
	extractor ingest.Extractor
	splitter  *chunker.Splitter
	linker    *chunker.Linker
	publisher ingest.Publisher
	emitter   progress.Emitter
	logger    *zap.Logger
	clock     ingest.Clock
}

// New wires a Controller. store, extractor, splitter and linker are required.
func New(
	cfg Config,
	store ingest.GraphStore,
	extractor ingest.Extractor,
	splitter *chunker.Splitter,
	linker *chunker.Linker,
	opts ...Option,
) (*Controller, error) {
	if store == nil || extractor == nil || splitter == nil || linker == nil {
		return nil, fmt.Errorf("store, extractor, splitter and linker are required: %w", ingest.ErrValidation)
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("batch size must be >= 0: %w", ingest.ErrValidation)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	c := &Controller{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		splitter:  splitter,
		linker:    linker,
		emitter:   progress.Nop{},
		logger:    zap.NewNop(),
		clock:     system.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ProcessDocument runs a whole job: Begin, ExtractBatches,
// ResolveRelationships, BuildGraph and Finish. A document that is already Processing is left untouched and
// ErrAlreadyProcessing is returned.
func (c *Controller) ProcessDocument(
	ctx context.Context,
	doc ingest.SourceDocument,
	pages []ingest.Page,
	opts Options,
) (Summary, error) {
	job, err := c.Begin(ctx, doc, pages, opts)
	if err != nil {
		if errors.Is(err, ingest.ErrAlreadyProcessing) {
			return Summary{FileName: doc.FileName, Status: ingest.StatusProcessing, Model: c.extractor.Model()}, err
		}
		if job == nil {
			return Summary{FileName: doc.FileName, Status: ingest.StatusFailed, ErrorMessage: err.Error()}, err
		}
		return job.Fail(ctx, err), err
	}
	if err := job.ExtractBatches(ctx); err != nil {
		return job.Fail(ctx, err), err
	}
	job.ResolveRelationships()
	if err := job.BuildGraph(ctx); err != nil {
		return job.Fail(ctx, err), err
	}
	return job.Finish(ctx)
}

// Begin applies the Processing guard, chunks and links the pages, persists
// chunks and edges and moves the document to Processing. A non-nil Job with a
// non-nil error means the record exists and should be failed by the caller.
func (c *Controller) Begin(
	ctx context.Context,
	doc ingest.SourceDocument,
	pages []ingest.Page,
	opts Options,
) (*Job, error) {
	if doc.FileName == "" {
		return nil, fmt.Errorf("file name is required: %w", ingest.ErrValidation)
	}
	state, err := c.store.GetDocumentStatus(ctx, doc.FileName)
	exists := err == nil
	switch {
	case exists && state.Status == ingest.StatusProcessing:
		c.logger.Info("document already processing", zap.String("file_name", doc.FileName))
		return nil, fmt.Errorf("document %q: %w", doc.FileName, ingest.ErrAlreadyProcessing)
	case err != nil && !errors.Is(err, ingest.ErrNotFound):
		return nil, fmt.Errorf("read document status: %w: %w", ingest.ErrStore, err)
	}

	raw := ingest.RawDocument{FileName: doc.FileName, Pages: make([]string, 0, len(pages))}
	for _, p := range pages {
		raw.Pages = append(raw.Pages, chunker.Clean(p.Text))
	}

	batchSize := c.cfg.BatchSize
	if opts.BatchSize > 0 {
		batchSize = opts.BatchSize
	}
	job := &Job{
		c:         c,
		doc:       doc,
		opts:      opts,
		batchSize: batchSize,
		start:     c.clock.Now(),
		runID:     "doc-" + doc.FileName,
		logger:    c.logger.With(zap.String("file_name", doc.FileName)),
		relTypes:  make(map[string]int),
		entityIDs: make(map[string]struct{}),
	}

	linked, err := c.linker.Link(doc.FileName, c.splitter.Split(raw))
	if err != nil {
		return nil, fmt.Errorf("link chunks: %w: %w", ingest.ErrProcessing, err)
	}
	job.chunks = linked.Chunks

	job.doc.Status = ingest.StatusProcessing
	job.doc.TotalChunks = len(linked.Chunks)
	job.doc.TotalPages = len(pages)
	job.doc.ProcessedChunk = 0
	job.doc.NodeCount = 0
	job.doc.RelationshipCount = 0
	job.doc.ProcessingTime = 0
	job.doc.ErrorMessage = ""
	job.doc.Model = c.extractor.Model()
	if job.doc.FileSize == 0 {
		for _, p := range pages {
			job.doc.FileSize += int64(len(p.Text))
		}
	}
	if err := c.store.UpsertDocument(ctx, job.doc); err != nil {
		return nil, fmt.Errorf("persist document: %w: %w", ingest.ErrStore, err)
	}
	// A new intake of a previously cancelled document starts uncancelled.
	if exists && state.IsCancelled {
		if err := c.store.SetCancelled(ctx, doc.FileName, false); err != nil {
			return job, fmt.Errorf("reset cancellation: %w: %w", ingest.ErrStore, err)
		}
	}
	if err := c.store.CreateChunks(ctx, linked.Chunks); err != nil {
		return job, fmt.Errorf("persist chunks: %w: %w", ingest.ErrStore, err)
	}
	if err := c.store.LinkChunks(ctx, linked.Edges()); err != nil {
		return job, fmt.Errorf("persist chunk links: %w: %w", ingest.ErrStore, err)
	}

	job.logger.Info("document processing started",
		zap.Int("total_chunks", job.doc.TotalChunks),
		zap.Int("total_pages", job.doc.TotalPages),
		zap.Int("batch_size", batchSize),
		zap.String("model", job.doc.Model),
	)
	c.emit(progress.Event{
		RunID:    job.runID,
		Stage:    progress.StageDocStart,
		Document: doc.FileName,
		Total:    job.doc.TotalChunks,
	})
	return job, nil
}

func (c *Controller) emit(evt progress.Event) {
	evt.TS = c.clock.Now()
	c.emitter.Emit(evt)
}

func (c *Controller) publish(ctx context.Context, summary Summary) {
	if c.publisher == nil {
		return
	}
	id, err := c.publisher.Publish(ctx, c.cfg.Topic, summary)
	if err != nil {
		c.logger.Warn("publish document summary failed",
			zap.String("file_name", summary.FileName),
			zap.String("topic", c.cfg.Topic),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("document summary published", zap.String("file_name", summary.FileName), zap.String("message_id", id))
}

// roundSeconds rounds a duration to seconds with two decimals.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
