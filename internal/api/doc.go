// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/documents, /v1/documents/{file_name} and its /status for
//     document progress.
//   - POST /v1/documents/{file_name}/cancel to stop a running document job
//     between batches.
//   - GET /v1/frontier/stats and POST /v1/crawls for the crawl frontier.
package api
