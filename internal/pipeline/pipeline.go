package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/graphbuilder/internal/clock/system"
	"github.com/JakeFAU/graphbuilder/internal/ingest"
	"github.com/JakeFAU/graphbuilder/internal/metrics"
	"github.com/JakeFAU/graphbuilder/internal/progress"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultMaxParallelTasks = 5
	DefaultPollInterval     = 100 * time.Millisecond
)

// Config controls scheduling.
type Config struct {
	MaxParallelTasks int
	// ContinueOnError keeps scheduling after a task exhausts its retries.
	ContinueOnError bool
	AutoRetryFailed bool
	// PollInterval bounds the idle wait between scheduling passes.
	PollInterval time.Duration
}

// DefaultConfig returns the stock scheduling settings.
func DefaultConfig() Config {
	return Config{
		MaxParallelTasks: DefaultMaxParallelTasks,
		AutoRetryFailed:  true,
		PollInterval:     DefaultPollInterval,
	}
}

// Option configures optional Pipeline collaborators.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEmitter sets the progress emitter.
func WithEmitter(emitter progress.Emitter) Option {
	return func(p *Pipeline) {
		if emitter != nil {
			p.emitter = emitter
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock ingest.Clock) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithIDGenerator sets the generator used for the pipeline id.
func WithIDGenerator(ids ingest.IDGenerator) Option {
	return func(p *Pipeline) {
		p.ids = ids
	}
}

// Result summarizes one Run.
type Result struct {
	Status       Status         `json:"status"`
	Completed    []string       `json:"completedTasks"`
	Failed       []string       `json:"failedTasks"`
	Cancelled    []string       `json:"cancelledTasks,omitempty"`
	Results      map[string]any `json:"results"`
	Duration     time.Duration  `json:"duration"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// ProgressReport is a point-in-time view of a pipeline.
type ProgressReport struct {
	Percentage float64 `json:"percentage"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	InProgress int     `json:"inProgress"`
	Cancelled  int     `json:"cancelled"`
	Pending    int     `json:"pending"`
	Total      int     `json:"total"`
	Status     Status  `json:"status"`
}

// Pipeline is a validated task DAG. Run drives it from a single goroutine;
// task bodies run on their own goroutines and report back over a channel.
type Pipeline struct {
	ID   string
	Name string

	cfg     Config
	tasks   []*Task
	byID    map[string]*Task
	logger  *zap.Logger
	emitter progress.Emitter
	clock   ingest.Clock
	ids     ingest.IDGenerator

	mu        sync.RWMutex
	status    Status
	completed map[string]struct{}
	failed    map[string]struct{}
	cancelled map[string]struct{}
	results   map[string]any
	start     time.Time
	end       time.Time
}

// New validates the task graph and builds a Pending pipeline. Ids must be
// unique, every dependency must name a task in tasks and the graph must be
// acyclic.
func New(name string, cfg Config, tasks []*Task, opts ...Option) (*Pipeline, error) {
	if name == "" {
		return nil, fmt.Errorf("pipeline name is required: %w", ingest.ErrValidation)
	}
	if cfg.MaxParallelTasks < 0 {
		return nil, fmt.Errorf("max parallel tasks must be >= 0: %w", ingest.ErrValidation)
	}
	if cfg.MaxParallelTasks == 0 {
		cfg.MaxParallelTasks = DefaultMaxParallelTasks
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	p := &Pipeline{
		Name:      name,
		cfg:       cfg,
		tasks:     tasks,
		byID:      make(map[string]*Task, len(tasks)),
		logger:    zap.NewNop(),
		emitter:   progress.Nop{},
		clock:     system.New(),
		status:    StatusPending,
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		cancelled: make(map[string]struct{}),
		results:   make(map[string]any),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, t := range tasks {
		if t == nil {
			return nil, fmt.Errorf("pipeline %s: nil task: %w", name, ingest.ErrValidation)
		}
		if t.ID == "" || t.Name == "" {
			return nil, fmt.Errorf("pipeline %s: task id and name are required: %w", name, ingest.ErrValidation)
		}
		if t.Run == nil {
			return nil, fmt.Errorf("pipeline %s: task %s has no run func: %w", name, t.ID, ingest.ErrValidation)
		}
		if t.MaxRetries < 0 {
			return nil, fmt.Errorf("pipeline %s: task %s max retries must be >= 0: %w", name, t.ID, ingest.ErrValidation)
		}
		if _, dup := p.byID[t.ID]; dup {
			return nil, fmt.Errorf("pipeline %s: duplicate task id %s: %w", name, t.ID, ingest.ErrValidation)
		}
		p.byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			parent, ok := p.byID[dep]
			if !ok {
				return nil, fmt.Errorf("pipeline %s: task %s depends on unknown task %s: %w",
					name, t.ID, dep, ingest.ErrValidation)
			}
			parent.state.blocks = append(parent.state.blocks, t.ID)
		}
	}
	if err := p.checkAcyclic(); err != nil {
		return nil, err
	}

	p.ID = p.newID()
	return p, nil
}

// checkAcyclic runs Kahn's algorithm; any task left unsorted sits on a cycle.
func (p *Pipeline) checkAcyclic() error {
	indegree := make(map[string]int, len(p.tasks))
	for _, t := range p.tasks {
		indegree[t.ID] = len(t.DependsOn)
	}
	queue := make([]string, 0, len(p.tasks))
	for _, t := range p.tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}
	sorted := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted++
		for _, child := range p.byID[id].state.blocks {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if sorted == len(p.tasks) {
		return nil
	}
	var cyclic []string
	for _, t := range p.tasks {
		if indegree[t.ID] > 0 {
			cyclic = append(cyclic, t.ID)
		}
	}
	return fmt.Errorf("pipeline %s: dependency cycle among %v: %w", p.Name, cyclic, ingest.ErrValidation)
}

// Tasks returns the tasks in insertion order.
func (p *Pipeline) Tasks() []*Task {
	return slices.Clone(p.tasks)
}

// Task looks up a task by id.
func (p *Pipeline) Task(id string) (*Task, bool) {
	t, ok := p.byID[id]
	return t, ok
}

// Status returns the pipeline status.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Progress reports task counts and the completed percentage.
func (p *Pipeline) Progress() ProgressReport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	report := ProgressReport{
		Completed: len(p.completed),
		Failed:    len(p.failed),
		Cancelled: len(p.cancelled),
		Total:     len(p.tasks),
		Status:    p.status,
	}
	for _, t := range p.tasks {
		if t.Status() == StatusInProgress {
			report.InProgress++
		}
	}
	report.Pending = report.Total - report.Completed - report.Failed - report.Cancelled - report.InProgress
	if report.Total > 0 {
		report.Percentage = float64(report.Completed) / float64(report.Total) * 100
	}
	return report
}

type taskOutcome struct {
	task   *Task
	result any
	err    error
}

// Run schedules tasks until every task has completed or failed, a failure
// aborts the run, no task can become ready, or ctx ends. A pipeline runs once.
// When ctx ends Run waits for the tasks in flight and the pipeline finishes
// Cancelled. Tasks still in flight after a failure abort are not awaited.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	p.mu.Lock()
	if p.status != StatusPending {
		p.mu.Unlock()
		return Result{}, fmt.Errorf("pipeline %s already ran: %w", p.Name, ingest.ErrValidation)
	}
	p.status = StatusInProgress
	p.start = p.clock.Now()
	p.mu.Unlock()

	p.logger.Info("pipeline starting",
		zap.String("pipeline_id", p.ID),
		zap.String("pipeline", p.Name),
		zap.Int("tasks", len(p.tasks)),
		zap.Int("max_parallel_tasks", p.cfg.MaxParallelTasks),
	)

	outcomes := make(chan taskOutcome, len(p.tasks))
	running := 0
	var runErr error
	timer := time.NewTimer(p.cfg.PollInterval)
	defer timer.Stop()

	for {
		if p.finished() {
			break
		}
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("pipeline %s interrupted: %w", p.Name, err)
			break
		}

		ready := p.readyTasks()
		slots := p.cfg.MaxParallelTasks - running
		for _, t := range ready[:min(slots, len(ready))] {
			running++
			p.launch(ctx, t, outcomes)
		}
		if running == 0 {
			runErr = fmt.Errorf("pipeline %s: %d tasks blocked by failed dependencies: %w",
				p.Name, p.blockedCount(), ingest.ErrProcessing)
			break
		}

		timer.Reset(p.cfg.PollInterval)
		select {
		case out := <-outcomes:
			running--
			if ctx.Err() != nil {
				p.settleCancelled(out)
			} else if err := p.settle(out); err != nil {
				runErr = err
			}
		case <-timer.C:
		case <-ctx.Done():
		}
		if runErr != nil {
			break
		}
	}

	if ctx.Err() != nil && running > 0 {
		p.drain(outcomes, running)
	}
	return p.conclude(runErr)
}

// drain collects the outcomes of tasks still running after ctx ended.
func (p *Pipeline) drain(outcomes <-chan taskOutcome, running int) {
	p.logger.Info("waiting for in-flight tasks",
		zap.String("pipeline_id", p.ID),
		zap.Int("running", running),
	)
	for ; running > 0; running-- {
		p.settleCancelled(<-outcomes)
	}
}

// settleCancelled applies an outcome that arrived after ctx ended. Successes
// complete as usual; failures are recorded as cancelled without a retry.
func (p *Pipeline) settleCancelled(out taskOutcome) {
	if out.err == nil {
		_ = p.settle(out)
		return
	}
	t := out.task
	metrics.DecActiveTasks()
	t.cancel(p.clock.Now(), out.err.Error())
	p.mu.Lock()
	p.cancelled[t.ID] = struct{}{}
	p.mu.Unlock()
	metrics.ObservePipelineTask(string(t.Type), string(StatusCancelled))
	p.logger.Warn("task cancelled",
		zap.String("pipeline_id", p.ID),
		zap.String("task_id", t.ID),
		zap.Error(out.err),
	)
	p.emit(progress.Event{Stage: progress.StageTaskDone, Task: t.Name, Status: string(StatusCancelled), Note: out.err.Error()})
}

func (p *Pipeline) launch(ctx context.Context, t *Task, outcomes chan<- taskOutcome) {
	t.start(p.clock.Now())
	metrics.IncActiveTasks()
	p.logger.Debug("task starting",
		zap.String("pipeline_id", p.ID),
		zap.String("task_id", t.ID),
		zap.String("task_type", string(t.Type)),
		zap.String("priority", t.Priority.String()),
		zap.Int("retry", t.RetryCount()),
	)
	p.emit(progress.Event{Stage: progress.StageTaskStart, Task: t.Name, Note: string(t.Type)})
	go func() {
		result, err := runTask(ctx, t)
		outcomes <- taskOutcome{task: t, result: result, err: err}
	}()
}

func runTask(ctx context.Context, t *Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.ID, r)
		}
	}()
	return t.Run(ctx, t)
}

// settle applies a task outcome. It returns a non-nil error when the outcome
// aborts the pipeline.
func (p *Pipeline) settle(out taskOutcome) error {
	t := out.task
	now := p.clock.Now()
	metrics.DecActiveTasks()

	if out.err == nil {
		t.complete(now, out.result)
		p.mu.Lock()
		p.completed[t.ID] = struct{}{}
		p.results[t.ID] = out.result
		p.mu.Unlock()
		metrics.ObservePipelineTask(string(t.Type), string(StatusCompleted))
		info := t.Info()
		p.logger.Info("task completed",
			zap.String("pipeline_id", p.ID),
			zap.String("task_id", t.ID),
			zap.Duration("duration", info.Duration),
		)
		p.emit(progress.Event{Stage: progress.StageTaskDone, Task: t.Name, Status: string(StatusCompleted), Dur: info.Duration})
		return nil
	}

	if p.cfg.AutoRetryFailed && t.retry() {
		metrics.ObservePipelineTask(string(t.Type), string(StatusRetry))
		p.logger.Warn("task failed, retrying",
			zap.String("pipeline_id", p.ID),
			zap.String("task_id", t.ID),
			zap.Int("retry", t.RetryCount()),
			zap.Int("max_retries", t.MaxRetries),
			zap.Error(out.err),
		)
		return nil
	}

	t.fail(now, out.err.Error())
	p.mu.Lock()
	p.failed[t.ID] = struct{}{}
	p.mu.Unlock()
	metrics.ObservePipelineTask(string(t.Type), string(StatusFailed))
	p.logger.Error("task failed",
		zap.String("pipeline_id", p.ID),
		zap.String("task_id", t.ID),
		zap.Int("retries", t.RetryCount()),
		zap.Error(out.err),
	)
	p.emit(progress.Event{Stage: progress.StageTaskDone, Task: t.Name, Status: string(StatusFailed), Note: out.err.Error()})
	if !p.cfg.ContinueOnError {
		return fmt.Errorf("task %s failed: %w", t.Name, out.err)
	}
	return nil
}

func (p *Pipeline) conclude(runErr error) (Result, error) {
	p.mu.Lock()
	p.end = p.clock.Now()
	switch {
	case runErr == nil:
		p.status = StatusCompleted
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		p.status = StatusCancelled
	default:
		p.status = StatusFailed
	}
	res := Result{
		Status:   p.status,
		Results:  make(map[string]any, len(p.results)),
		Duration: p.end.Sub(p.start),
	}
	for _, t := range p.tasks {
		if _, ok := p.completed[t.ID]; ok {
			res.Completed = append(res.Completed, t.ID)
		}
		if _, ok := p.failed[t.ID]; ok {
			res.Failed = append(res.Failed, t.ID)
		}
		if _, ok := p.cancelled[t.ID]; ok {
			res.Cancelled = append(res.Cancelled, t.ID)
		}
	}
	for id, v := range p.results {
		res.Results[id] = v
	}
	p.mu.Unlock()

	if runErr != nil {
		res.ErrorMessage = runErr.Error()
		if res.Status == StatusCancelled {
			p.logger.Warn("pipeline cancelled",
				zap.String("pipeline_id", p.ID),
				zap.String("pipeline", p.Name),
				zap.Int("completed", len(res.Completed)),
				zap.Int("cancelled", len(res.Cancelled)),
				zap.Error(runErr),
			)
			return res, runErr
		}
		p.logger.Error("pipeline failed",
			zap.String("pipeline_id", p.ID),
			zap.String("pipeline", p.Name),
			zap.Int("completed", len(res.Completed)),
			zap.Int("failed", len(res.Failed)),
			zap.Error(runErr),
		)
		return res, runErr
	}
	p.logger.Info("pipeline completed",
		zap.String("pipeline_id", p.ID),
		zap.String("pipeline", p.Name),
		zap.Int("completed", len(res.Completed)),
		zap.Int("failed", len(res.Failed)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (p *Pipeline) finished() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.completed)+len(p.failed) == len(p.tasks)
}

// readyTasks returns Pending tasks whose dependencies completed, highest
// priority first and insertion order within a priority.
func (p *Pipeline) readyTasks() []*Task {
	p.mu.RLock()
	var ready []*Task
	for _, t := range p.tasks {
		if t.ready(p.completed) {
			ready = append(ready, t)
		}
	}
	p.mu.RUnlock()
	slices.SortStableFunc(ready, func(a, b *Task) int {
		return int(b.Priority) - int(a.Priority)
	})
	return ready
}

func (p *Pipeline) blockedCount() int {
	n := 0
	for _, t := range p.tasks {
		if t.Status() == StatusPending {
			n++
		}
	}
	return n
}

func (p *Pipeline) emit(evt progress.Event) {
	evt.RunID = p.ID
	evt.TS = p.clock.Now()
	p.emitter.Emit(evt)
}

func (p *Pipeline) newID() string {
	if p.ids != nil {
		if id, err := p.ids.NewID(); err == nil {
			return "pipeline-" + id
		}
	}
	return "pipeline-" + p.Name + "-" + p.clock.Now().Format("20060102T150405.000")
}
