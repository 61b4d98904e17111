// Package api hosts the HTTP server, middleware, and REST handlers of the
// site template service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/site-templates/export and /v1/site-templates/import to queue
//     background tasks.
//   - GET /v1/background-tasks/{backgroundTaskId}/status and .../lar to poll a
//     task and download its archive.
package api
