package processing

import (
	"context"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/metrics"
	"github.com/JakeFAU/graphbuilder/internal/progress"
)

// Job is one processing attempt for a document. Its methods are not safe for
// concurrent use; callers run the stages in order.
type Job struct {
	c         *Controller
	doc       ingest.SourceDocument
	chunks    []ingest.Chunk
	opts      Options
	batchSize int
	start     time.Time
	runID     string
	logger    *zap.Logger

	cancelled bool
	done      bool
	relTypes  map[string]int

	// entityIDs holds every accepted node id; pending relationships are
	// resolved against it.
	entityIDs map[string]struct{}
	pending   []ingest.Relationship
	resolved  []ingest.Relationship
}

// Document returns the job's current view of the document record.
func (j *Job) Document() ingest.SourceDocument {
	return j.doc
}

// Chunks returns the linked chunks created by Begin.
func (j *Job) Chunks() []ingest.Chunk {
	return j.chunks
}

// Cancelled reports whether a cancellation request stopped the batch loop.
func (j *Job) Cancelled() bool {
	return j.cancelled
}

// ExtractBatches sends the remaining chunks to the extractor in batches,
// storing entities and checkpointing progress after every batch. It resumes
// from the last checkpoint, so a retried call does not resend finished
// batches. Every batch after the first one of the job is preceded by a
// cancellation check.
func (j *Job) ExtractBatches(ctx context.Context) error {
	for start := j.doc.ProcessedChunk; start < len(j.chunks); start += j.batchSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("document %q interrupted: %w", j.doc.FileName, err)
		}
		if start > 0 {
			cancelled, err := j.checkCancelled(ctx)
			if err != nil {
				return err
			}
			if cancelled {
				j.logger.Info("document cancelled between batches", zap.Int("processed_chunk", j.doc.ProcessedChunk))
				return nil
			}
		}
		end := min(start+j.batchSize, len(j.chunks))
		if err := j.runBatch(ctx, j.chunks[start:end], start/j.batchSize+1); err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) runBatch(ctx context.Context, batch []ingest.Chunk, number int) error {
	batchStart := j.c.clock.Now()
	inputs := make([]ingest.ExtractionInput, 0, len(batch))
	inBatch := make(map[string]struct{}, len(batch))
	for _, ch := range batch {
		inputs = append(inputs, ingest.ExtractionInput{ChunkID: ch.ID, Text: ch.Content})
		inBatch[ch.ID] = struct{}{}
	}

	results, err := j.c.extractor.Extract(ctx, inputs, j.opts.AllowedNodes, j.opts.AllowedRelationships)
	if err != nil {
		return fmt.Errorf("extract batch %d: %w: %w", number, ingest.ErrProcessing, err)
	}

	type nodeKey struct{ id, typ string }
	var (
		edges   []ingest.EntityEdge
		nodes   []ingest.Node
		vectors []ingest.ChunkEmbedding
		rels    []ingest.Relationship
	)
	distinct := make(map[nodeKey]struct{})
	for _, res := range results {
		if _, ok := inBatch[res.ChunkID]; !ok {
			j.logger.Debug("dropping result for unknown chunk", zap.String("chunk_id", res.ChunkID))
			continue
		}
		if j.c.cfg.Embeddings && len(res.Embedding) > 0 {
			vectors = append(vectors, ingest.ChunkEmbedding{ChunkID: res.ChunkID, Vector: res.Embedding})
		}
		for _, n := range res.Nodes {
			if n.ID == "" || !j.opts.AllowedNodes.Contains(n.Type) {
				continue
			}
			edges = append(edges, ingest.EntityEdge{ChunkID: res.ChunkID, EntityType: n.Type, EntityID: n.ID})
			nodes = append(nodes, n)
			distinct[nodeKey{id: n.ID, typ: n.Type}] = struct{}{}
		}
		for _, r := range res.Relationships {
			if r.SourceID == "" || r.TargetID == "" || !j.opts.AllowedRelationships.Contains(r.Type) {
				continue
			}
			rels = append(rels, r)
		}
	}
	if len(vectors) > 0 {
		if err := j.c.store.SetChunkEmbeddings(ctx, vectors); err != nil {
			return fmt.Errorf("store embeddings for batch %d: %w: %w", number, ingest.ErrStore, err)
		}
	}
	if len(nodes) > 0 {
		if err := j.c.store.SaveGraph(ctx, nodes, nil); err != nil {
			return fmt.Errorf("save entities for batch %d: %w: %w", number, ingest.ErrStore, err)
		}
	}
	if len(edges) > 0 {
		if err := j.c.store.AttachEntities(ctx, edges); err != nil {
			return fmt.Errorf("attach entities for batch %d: %w: %w", number, ingest.ErrStore, err)
		}
	}

	// The job only advances once the checkpoint is stored, so a retried
	// batch is counted once.
	next := j.doc
	next.ProcessedChunk += len(batch)
	next.NodeCount += len(distinct)
	next.RelationshipCount += len(rels)
	next.ProcessingTime = roundSeconds(j.c.clock.Now().Sub(j.start))
	if err := j.c.store.UpsertDocument(ctx, next); err != nil {
		return fmt.Errorf("checkpoint batch %d: %w: %w", number, ingest.ErrStore, err)
	}
	j.doc = next
	for k := range distinct {
		j.entityIDs[k.id] = struct{}{}
	}
	for _, r := range rels {
		j.relTypes[r.Type]++
	}
	j.pending = append(j.pending, rels...)

	dur := j.c.clock.Now().Sub(batchStart)
	metrics.ObserveBatch(len(batch), dur)
	j.logger.Debug("batch checkpointed",
		zap.Int("batch", number),
		zap.Int("processed_chunk", j.doc.ProcessedChunk),
		zap.Int("total_chunks", j.doc.TotalChunks),
		zap.Int("node_count", j.doc.NodeCount),
		zap.Int("relationship_count", j.doc.RelationshipCount),
	)
	j.c.emit(progress.Event{
		RunID:     j.runID,
		Stage:     progress.StageDocBatch,
		Document:  j.doc.FileName,
		Processed: j.doc.ProcessedChunk,
		Total:     j.doc.TotalChunks,
		Dur:       dur,
	})
	return nil
}

// RelationshipTypes returns the relationship count per type. Before
// ResolveRelationships it counts every accepted relationship, after it only
// the resolved ones.
func (j *Job) RelationshipTypes() map[string]int {
	return maps.Clone(j.relTypes)
}

// ResolveRelationships dedupes the relationships gathered by ExtractBatches on
// (source, target, type) and drops those whose endpoints were not extracted
// as allowed nodes. RelationshipCount becomes the resolved count. It returns
// the resolved count per type.
func (j *Job) ResolveRelationships() map[string]int {
	seen := make(map[ingest.Relationship]struct{}, len(j.pending))
	resolved := make([]ingest.Relationship, 0, len(j.pending))
	dangling := 0
	for _, r := range j.pending {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		_, src := j.entityIDs[r.SourceID]
		_, dst := j.entityIDs[r.TargetID]
		if !src || !dst {
			dangling++
			continue
		}
		resolved = append(resolved, r)
	}
	j.resolved = resolved
	j.relTypes = make(map[string]int)
	for _, r := range resolved {
		j.relTypes[r.Type]++
	}
	j.doc.RelationshipCount = len(resolved)
	j.logger.Debug("relationships resolved",
		zap.Int("extracted", len(j.pending)),
		zap.Int("resolved", len(resolved)),
		zap.Int("dangling", dangling),
	)
	return j.RelationshipTypes()
}

// BuildGraph persists the resolved relationships and checkpoints the counts.
func (j *Job) BuildGraph(ctx context.Context) error {
	if len(j.resolved) > 0 {
		if err := j.c.store.SaveGraph(ctx, nil, j.resolved); err != nil {
			return fmt.Errorf("save relationships: %w: %w", ingest.ErrStore, err)
		}
	}
	return j.Checkpoint(ctx)
}

// Checkpoint persists the running counts without changing the status.
func (j *Job) Checkpoint(ctx context.Context) error {
	j.doc.ProcessingTime = roundSeconds(j.c.clock.Now().Sub(j.start))
	if err := j.c.store.UpsertDocument(ctx, j.doc); err != nil {
		return fmt.Errorf("checkpoint document: %w: %w", ingest.ErrStore, err)
	}
	return nil
}

// Finish re-checks cancellation and records the terminal status, Cancelled
// or Completed.
func (j *Job) Finish(ctx context.Context) (Summary, error) {
	if !j.cancelled {
		if _, err := j.checkCancelled(ctx); err != nil {
			return j.Fail(ctx, err), err
		}
	}
	if !j.cancelled && j.doc.ProcessedChunk != j.doc.TotalChunks {
		err := fmt.Errorf("processed %d of %d chunks: %w", j.doc.ProcessedChunk, j.doc.TotalChunks, ingest.ErrProcessing)
		return j.Fail(ctx, err), err
	}
	status := ingest.StatusCompleted
	if j.cancelled {
		status = ingest.StatusCancelled
	}
	if err := j.finalize(ctx, status, ""); err != nil {
		return j.summary(), err
	}
	return j.summary(), nil
}

// Fail records cause on the document and marks it Failed. The write uses a
// context that survives cancellation of ctx. Fail is a no-op once the job has
// reached a terminal status.
func (j *Job) Fail(ctx context.Context, cause error) Summary {
	if j.done {
		return j.summary()
	}
	j.logger.Error("document processing failed",
		zap.Int("processed_chunk", j.doc.ProcessedChunk),
		zap.Error(cause),
	)
	if err := j.finalize(context.WithoutCancel(ctx), ingest.StatusFailed, cause.Error()); err != nil {
		j.logger.Error("recording failure", zap.Error(err))
	}
	return j.summary()
}

func (j *Job) finalize(ctx context.Context, status ingest.DocumentStatus, message string) error {
	j.done = true
	j.doc.Status = status
	j.doc.ErrorMessage = message
	elapsed := j.c.clock.Now().Sub(j.start)
	j.doc.ProcessingTime = roundSeconds(elapsed)

	var persistErr error
	if err := j.c.store.UpsertDocument(ctx, j.doc); err != nil {
		persistErr = fmt.Errorf("persist final status: %w: %w", ingest.ErrStore, err)
	}

	metrics.ObserveDocument(string(status))
	j.c.emit(progress.Event{
		RunID:     j.runID,
		Stage:     progress.StageDocDone,
		Document:  j.doc.FileName,
		Processed: j.doc.ProcessedChunk,
		Total:     j.doc.TotalChunks,
		Status:    string(status),
		Dur:       elapsed,
		Note:      message,
	})
	j.c.publish(ctx, j.summary())

	if status != ingest.StatusFailed {
		j.logger.Info("document processing finished",
			zap.String("status", string(status)),
			zap.Int("node_count", j.doc.NodeCount),
			zap.Int("relationship_count", j.doc.RelationshipCount),
			zap.Float64("processing_time", j.doc.ProcessingTime),
		)
	}
	return persistErr
}

func (j *Job) checkCancelled(ctx context.Context) (bool, error) {
	state, err := j.c.store.GetDocumentStatus(ctx, j.doc.FileName)
	if err != nil {
		return false, fmt.Errorf("read cancellation flag: %w: %w", ingest.ErrStore, err)
	}
	if state.IsCancelled {
		j.cancelled = true
	}
	return j.cancelled, nil
}

func (j *Job) summary() Summary {
	return Summary{
		FileName:          j.doc.FileName,
		NodeCount:         j.doc.NodeCount,
		RelationshipCount: j.doc.RelationshipCount,
		ProcessingTime:    j.doc.ProcessingTime,
		Status:            j.doc.Status,
		Model:             j.doc.Model,
		ErrorMessage:      j.doc.ErrorMessage,
	}
}
