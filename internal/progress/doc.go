// Package progress carries crawl, document and pipeline milestones from the
// components doing the work to pluggable sinks. Emitters never block: the Hub
// buffers events, batches them on a background goroutine and fans each batch
// out to sinks such as structured logs or Prometheus collectors.
package progress
