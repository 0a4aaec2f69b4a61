// Package api hosts the HTTP server, middleware, and read-only REST handlers
// for operator access. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/{run_id}/sites for crawl
//     progress served from the run journal.
package api
