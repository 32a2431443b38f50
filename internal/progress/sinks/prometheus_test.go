package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/graphbuilder/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters, gauges and histograms follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "job-1", TS: now, Stage: progress.StageDocStart, Document: "a.pdf"},
		{RunID: "job-1", TS: now, Stage: progress.StageDocStart, Document: "a.pdf"},
		{RunID: "job-1", TS: now, Stage: progress.StageDocBatch, Document: "a.pdf", Processed: 10, Total: 40},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 2.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("document")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsRunning.WithLabelValues("document")), 1e-9)
	require.InDelta(t, 0.25, testutil.ToFloat64(sink.docProgress.WithLabelValues("a.pdf")), 1e-9)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "job-1", TS: now, Stage: progress.StageDocDone, Document: "a.pdf", Status: "Cancelled", Dur: 2 * time.Second},
		{
			RunID:       "crawl-1",
			TS:          now,
			Stage:       progress.StageFetchDone,
			Site:        "example.com",
			StatusClass: progress.Status2xx,
			Dur:         200 * time.Millisecond,
		},
	}))

	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsRunning.WithLabelValues("document")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("document", "Cancelled")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "graphbuilder_run_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "graphbuilder_fetch_duration_seconds"))
	require.Equal(t, 0, testutil.CollectAndCount(sink.docProgress, "graphbuilder_document_progress_ratio"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
