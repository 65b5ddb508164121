// Package api hosts the read-only ops server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/stats for queue and request counters.
//   - GET /v1/jobs and /v1/jobs/{job_id} for job snapshots.
//   - GET /v1/schemas and /v1/schemas/{name} for registered schemas.
package api
