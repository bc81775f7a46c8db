// Package preflight provides readiness checks for the filesystem paths and
// external services opal depends on.
//
// These checks run in two contexts:
//   - "opal doctor" prints every result and exits non-zero when one fails.
//   - The daemon runs them once at startup and logs failures as warnings so
//     a misconfigured sink does not block the pipeline.
//
// Each check is gated by configuration; unused backends are skipped.
package preflight
