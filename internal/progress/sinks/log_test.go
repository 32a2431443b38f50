package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/graphbuilder/internal/progress"
)

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	batch := []progress.Event{
		{RunID: "r1", TS: time.Now(), Stage: progress.StageDocDone, Document: "a.pdf", Status: "Completed", Dur: time.Second},
		{RunID: "r1", TS: time.Now(), Stage: progress.StageDocBatch, Document: "a.pdf", Processed: 1, Total: 2},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 1, "batch checkpoints log at debug")
	assert.Equal(t, "progress", entries[0].LoggerName)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "a.pdf", ctx["document"])
	assert.Equal(t, "Completed", ctx["status"])
	assert.Equal(t, "DOC_DONE", ctx["stage"])
}
