package ingest

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w") and match with errors.Is.
var (
	// ErrNetwork marks a per-URL fetch failure; the crawl continues.
	ErrNetwork = errors.New("network error")
	// ErrValidation marks malformed input, an invalid DAG or bad configuration.
	ErrValidation = errors.New("validation error")
	// ErrProcessing marks a chunking or extraction failure.
	ErrProcessing = errors.New("processing error")
	// ErrStore marks a persistence failure.
	ErrStore = errors.New("store error")
	// ErrNotFound is returned by stores for unknown documents.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyProcessing is returned when a document job is already running.
	ErrAlreadyProcessing = errors.New("document is already processing")
)
