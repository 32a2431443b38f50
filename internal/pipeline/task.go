// Package pipeline runs a DAG of tasks with bounded parallelism, priorities
// and retries.
package pipeline

import (
	"context"
	"sync"
	"time"
)

// TaskType classifies what a task does.
type TaskType string

// Supported task types.
const (
	TypeURLCrawling            TaskType = "url_crawling"
	TypeFileProcessing         TaskType = "file_processing"
	TypeContentExtraction      TaskType = "content_extraction"
	TypeEntityExtraction       TaskType = "entity_extraction"
	TypeRelationshipExtraction TaskType = "relationship_extraction"
	TypeGraphConstruction      TaskType = "graph_construction"
	TypeEmbeddingGeneration    TaskType = "embedding_generation"
	TypeValidation             TaskType = "validation"
	TypeCleanup                TaskType = "cleanup"
)

// Priority orders ready tasks; higher runs first.
type Priority int

// Task priorities.
const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityUrgent   Priority = 4
	PriorityCritical Priority = 5
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a task or a pipeline.
type Status string

// Task and pipeline statuses.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
	// StatusCancelled marks a pipeline whose context ended, and a task that
	// failed while the pipeline drained after that.
	StatusCancelled Status = "cancelled"
)

// DefaultMaxRetries is the retry budget NewTask assigns.
const DefaultMaxRetries = 3

// RunFunc executes a task. The returned value becomes the task's result.
type RunFunc func(ctx context.Context, t *Task) (any, error)

// Task is one node of a pipeline. The exported fields are fixed before the
// pipeline starts; runtime state is read through accessors.
type Task struct {
	ID          string
	Name        string
	Type        TaskType
	Description string
	Priority    Priority
	DependsOn   []string
	MaxRetries  int
	Parameters  map[string]any
	Run         RunFunc

	mu    sync.Mutex
	state taskState
}

type taskState struct {
	status     Status
	blocks     []string
	retryCount int
	percentage float64
	message    string
	start      time.Time
	end        time.Time
	result     any
	errMsg     string
}

// TaskOption customizes NewTask.
type TaskOption func(*Task)

// WithPriority sets the task priority.
func WithPriority(p Priority) TaskOption {
	return func(t *Task) { t.Priority = p }
}

// DependsOn adds dependency ids.
func DependsOn(ids ...string) TaskOption {
	return func(t *Task) { t.DependsOn = append(t.DependsOn, ids...) }
}

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) TaskOption {
	return func(t *Task) { t.MaxRetries = n }
}

// WithParameters attaches free-form task parameters.
func WithParameters(params map[string]any) TaskOption {
	return func(t *Task) { t.Parameters = params }
}

// NewTask builds a Pending task with Normal priority and DefaultMaxRetries.
func NewTask(id, name string, typ TaskType, run RunFunc, opts ...TaskOption) *Task {
	t := &Task{
		ID:         id,
		Name:       name,
		Type:       typ,
		Priority:   PriorityNormal,
		MaxRetries: DefaultMaxRetries,
		Run:        run,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.state.status = StatusPending
	return t
}

// UpdateProgress records task progress. The percentage is clamped to 0..100.
func (t *Task) UpdateProgress(percentage float64, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.percentage = min(max(percentage, 0), 100)
	t.state.message = message
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.status
}

// RetryCount returns how many times the task was retried.
func (t *Task) RetryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.retryCount
}

// Result returns the value produced by the last successful run.
func (t *Task) Result() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.result
}

// Info is a JSON-friendly snapshot of a task.
type Info struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Type               TaskType      `json:"taskType"`
	Priority           Priority      `json:"priority"`
	Status             Status        `json:"status"`
	DependsOn          []string      `json:"dependsOn,omitempty"`
	Blocks             []string      `json:"blocks,omitempty"`
	RetryCount         int           `json:"retryCount"`
	MaxRetries         int           `json:"maxRetries"`
	ProgressPercentage float64       `json:"progressPercentage"`
	ProgressMessage    string        `json:"progressMessage,omitempty"`
	StartTime          time.Time     `json:"startTime,omitzero"`
	EndTime            time.Time     `json:"endTime,omitzero"`
	Duration           time.Duration `json:"duration"`
	ErrorMessage       string        `json:"errorMessage,omitempty"`
}

// Info returns a snapshot of the task.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := Info{
		ID:                 t.ID,
		Name:               t.Name,
		Type:               t.Type,
		Priority:           t.Priority,
		Status:             t.state.status,
		DependsOn:          append([]string(nil), t.DependsOn...),
		Blocks:             append([]string(nil), t.state.blocks...),
		RetryCount:         t.state.retryCount,
		MaxRetries:         t.MaxRetries,
		ProgressPercentage: t.state.percentage,
		ProgressMessage:    t.state.message,
		StartTime:          t.state.start,
		EndTime:            t.state.end,
		ErrorMessage:       t.state.errMsg,
	}
	if !t.state.start.IsZero() && !t.state.end.IsZero() {
		info.Duration = t.state.end.Sub(t.state.start)
	}
	return info
}

func (t *Task) ready(completed map[string]struct{}) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.status != StatusPending {
		return false
	}
	for _, dep := range t.DependsOn {
		if _, ok := completed[dep]; !ok {
			return false
		}
	}
	return true
}

func (t *Task) start(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.status = StatusInProgress
	t.state.start = now
	t.state.end = time.Time{}
	t.state.percentage = 0
}

func (t *Task) complete(now time.Time, result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.status = StatusCompleted
	t.state.end = now
	t.state.percentage = 100
	t.state.result = result
}

func (t *Task) fail(now time.Time, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.status = StatusFailed
	t.state.end = now
	t.state.errMsg = msg
}

func (t *Task) cancel(now time.Time, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.status = StatusCancelled
	t.state.end = now
	t.state.errMsg = msg
}

// retry resets timing and progress and re-enters Pending when budget remains.
func (t *Task) retry() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.retryCount >= t.MaxRetries {
		return false
	}
	t.state.retryCount++
	t.state.errMsg = ""
	t.state.start = time.Time{}
	t.state.end = time.Time{}
	t.state.percentage = 0
	t.state.message = ""
	t.state.status = StatusPending
	return true
}
