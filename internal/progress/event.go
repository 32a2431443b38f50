package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart Stage = "CRAWL_START"
	StageFetchDone  Stage = "FETCH_DONE"
	StageFetchError Stage = "FETCH_ERROR"
	StageCrawlDone  Stage = "CRAWL_DONE"
	StageDocStart   Stage = "DOC_START"
	StageDocBatch   Stage = "DOC_BATCH"
	StageDocDone    Stage = "DOC_DONE"
	StageTaskStart  Stage = "TASK_START"
	StageTaskDone   Stage = "TASK_DONE"
)

// Kind groups stages by the component that emits them.
func (s Stage) Kind() string {
	switch s {
	case StageCrawlStart, StageFetchDone, StageFetchError, StageCrawlDone:
		return "crawl"
	case StageDocStart, StageDocBatch, StageDocDone:
		return "document"
	case StageTaskStart, StageTaskDone:
		return "task"
	default:
		return "unknown"
	}
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single progress milestone.
type Event struct {
	// RunID names the crawl run, document job or pipeline the event belongs to.
	RunID string
	TS    time.Time
	Stage Stage
	// Document is the file name for DOC_* stages.
	Document string
	// Task is the pipeline task name for TASK_* stages.
	Task string
	Site string
	// URL must not carry credentials.
	URL         string
	Bytes       int64
	StatusClass StatusClass
	// Processed and Total report chunk progress for documents and URL
	// progress for crawls.
	Processed int
	Total     int
	// Status is the terminal status for *_DONE stages.
	Status string
	Dur    time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone:
	case StageFetchDone, StageFetchError:
		if e.Site == "" {
			return errors.New("fetch events require site")
		}
	case StageDocStart, StageDocBatch, StageDocDone:
		if e.Document == "" {
			return errors.New("document events require document")
		}
	case StageTaskStart, StageTaskDone:
		if e.Task == "" {
			return errors.New("task events require task")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Total > 0 && e.Processed > e.Total {
		return fmt.Errorf("processed %d exceeds total %d", e.Processed, e.Total)
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
