// Package api serves the HTTP surface of the daemon and the wire-format
// types shared with the CLI.
//
// # Endpoints
//
// /healthz and /livez always answer 200 while the process is up. /readyz
// answers 200 only when the workflow manager is running and every stage
// health check reports ready; otherwise it returns 503 with the checks.
//
// The /v1 group is read-only and requires "Authorization: Bearer <token>"
// when api.token is configured:
//
//	GET /v1/status                    workflow lanes, queue depth, stage health
//	GET /v1/jobs?tenant=&limit=       recent jobs with per-status item counts
//	GET /v1/jobs/:id                  one job with its items
//	GET /v1/jobs/:id/items/:item      one item
//
// # Converters
//
// FromJob, FromItem and FromStatusSummary translate internal records into
// DTOs with camelCase JSON tags. Timestamps are RFC3339 with milliseconds.
// JobService wraps a JobReader so the CLI renders the same shapes.
package api
