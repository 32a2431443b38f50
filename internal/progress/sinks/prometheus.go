package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/graphbuilder/internal/progress"
)

// PrometheusSink exports run-level progress: how many crawls, document jobs
// and pipeline tasks are running, how they finished and how long they took.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   *prometheus.GaugeVec
	runDuration   *prometheus.HistogramVec
	fetchDuration *prometheus.HistogramVec
	docProgress   *prometheus.GaugeVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphbuilder_runs_started_total",
			Help: "Runs started, by kind (crawl, document, task).",
		}, []string{"kind"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphbuilder_runs_completed_total",
			Help: "Runs finished, by kind and terminal status.",
		}, []string{"kind", "status"}),
		runsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graphbuilder_runs_running",
			Help: "Runs currently in flight, by kind.",
		}, []string{"kind"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphbuilder_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"kind", "status"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphbuilder_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
		docProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graphbuilder_document_progress_ratio",
			Help: "Fraction of chunks processed for in-flight documents.",
		}, []string{"document"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.fetchDuration,
		s.docProgress,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	kind := evt.Stage.Kind()
	key := kind + "/" + evt.RunID + "/" + evt.Task
	switch evt.Stage {
	case progress.StageCrawlStart, progress.StageDocStart, progress.StageTaskStart:
		s.runsStarted.WithLabelValues(kind).Inc()
		if s.tracker.start(key) {
			s.runsRunning.WithLabelValues(kind).Inc()
		}
	case progress.StageCrawlDone, progress.StageDocDone, progress.StageTaskDone:
		status := evt.Status
		if status == "" {
			status = "unknown"
		}
		s.runsCompleted.WithLabelValues(kind, status).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(kind, status).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(key) {
			s.runsRunning.WithLabelValues(kind).Dec()
		}
		if evt.Stage == progress.StageDocDone {
			s.docProgress.DeleteLabelValues(evt.Document)
		}
	case progress.StageDocBatch:
		if evt.Total > 0 {
			s.docProgress.WithLabelValues(evt.Document).Set(float64(evt.Processed) / float64(evt.Total))
		}
	case progress.StageFetchDone, progress.StageFetchError:
		if evt.Dur > 0 {
			class := evt.StatusClass
			if class == "" {
				class = progress.StatusOther
			}
			s.fetchDuration.WithLabelValues(evt.Site, string(class)).Observe(evt.Dur.Seconds())
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *runTracker) complete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
