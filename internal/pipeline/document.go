package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/processing"
)

// Stage ids of the document pipeline.
const (
	StageChunking               = "chunking"
	StageEntityExtraction       = "entity_extraction"
	StageRelationshipExtraction = "relationship_extraction"
	StageGraphConstruction      = "graph_construction"
	StageValidation             = "validation"
)

// DocumentPipeline processes one document as a chain of stages backed by a
// processing.Controller.
type DocumentPipeline struct {
	*Pipeline

	ctrl  *processing.Controller
	doc   ingest.SourceDocument
	pages []ingest.Page
	opts  processing.Options

	job     *processing.Job
	summary processing.Summary
}

// NewDocumentPipeline builds chunking → entity_extraction →
// relationship_extraction → graph_construction → validation for doc.
// Chunking and validation are not retried; entity extraction resumes from its
// last checkpoint when retried.
func NewDocumentPipeline(
	ctrl *processing.Controller,
	doc ingest.SourceDocument,
	pages []ingest.Page,
	opts processing.Options,
	cfg Config,
	pipelineOpts ...Option,
) (*DocumentPipeline, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("controller is required: %w", ingest.ErrValidation)
	}
	d := &DocumentPipeline{ctrl: ctrl, doc: doc, pages: pages, opts: opts}
	params := map[string]any{"fileName": doc.FileName}
	tasks := []*Task{
		NewTask(StageChunking, StageChunking, TypeContentExtraction, d.chunk,
			WithPriority(PriorityHigh), WithMaxRetries(0), WithParameters(params)),
		NewTask(StageEntityExtraction, StageEntityExtraction, TypeEntityExtraction, d.extractEntities,
			WithPriority(PriorityHigh), DependsOn(StageChunking), WithParameters(params)),
		NewTask(StageRelationshipExtraction, StageRelationshipExtraction, TypeRelationshipExtraction, d.collectRelationships,
			DependsOn(StageEntityExtraction), WithParameters(params)),
		NewTask(StageGraphConstruction, StageGraphConstruction, TypeGraphConstruction, d.constructGraph,
			DependsOn(StageRelationshipExtraction), WithParameters(params)),
		NewTask(StageValidation, StageValidation, TypeValidation, d.validate,
			WithPriority(PriorityLow), DependsOn(StageGraphConstruction), WithMaxRetries(0), WithParameters(params)),
	}
	p, err := New("document:"+doc.FileName, cfg, tasks, pipelineOpts...)
	if err != nil {
		return nil, err
	}
	d.Pipeline = p
	return d, nil
}

// Process runs the stages and returns the document summary. When a stage
// fails after chunking, or ctx ends, the document is marked Failed. Run has
// drained the stages by then, so no stage writes after the Failed record.
func (d *DocumentPipeline) Process(ctx context.Context) (processing.Summary, error) {
	if _, err := d.Run(ctx); err != nil {
		switch {
		case errors.Is(err, ingest.ErrAlreadyProcessing):
			return processing.Summary{FileName: d.doc.FileName, Status: ingest.StatusProcessing}, err
		case d.job != nil:
			return d.job.Fail(ctx, err), err
		default:
			return processing.Summary{FileName: d.doc.FileName, Status: ingest.StatusFailed, ErrorMessage: err.Error()}, err
		}
	}
	return d.summary, nil
}

func (d *DocumentPipeline) chunk(ctx context.Context, t *Task) (any, error) {
	job, err := d.ctrl.Begin(ctx, d.doc, d.pages, d.opts)
	d.job = job
	if err != nil {
		return nil, err
	}
	t.UpdateProgress(100, fmt.Sprintf("%d chunks", len(job.Chunks())))
	return map[string]int{"totalChunks": len(job.Chunks()), "totalPages": len(d.pages)}, nil
}

func (d *DocumentPipeline) extractEntities(ctx context.Context, _ *Task) (any, error) {
	if err := d.job.ExtractBatches(ctx); err != nil {
		return nil, err
	}
	doc := d.job.Document()
	return map[string]any{
		"processedChunk": doc.ProcessedChunk,
		"nodeCount":      doc.NodeCount,
		"cancelled":      d.job.Cancelled(),
	}, nil
}

func (d *DocumentPipeline) collectRelationships(_ context.Context, _ *Task) (any, error) {
	return d.job.ResolveRelationships(), nil
}

func (d *DocumentPipeline) constructGraph(ctx context.Context, _ *Task) (any, error) {
	if err := d.job.BuildGraph(ctx); err != nil {
		return nil, err
	}
	doc := d.job.Document()
	return map[string]int{"nodeCount": doc.NodeCount, "relationshipCount": doc.RelationshipCount}, nil
}

func (d *DocumentPipeline) validate(ctx context.Context, _ *Task) (any, error) {
	summary, err := d.job.Finish(ctx)
	if err != nil {
		return nil, err
	}
	d.summary = summary
	return summary, nil
}
