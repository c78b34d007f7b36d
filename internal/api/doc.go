// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls/{kind} to queue a crawl of one site.
//   - GET /v1/crawls and /v1/crawls/{id} for run status via the
//     store.RunRepository interface.
package api
