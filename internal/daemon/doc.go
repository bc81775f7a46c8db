// Package daemon owns the long-running opal process lifecycle.
//
// It ties the workflow manager and the optional health/status API server to
// a flock-based lock in the data directory so two daemons never consume
// from the same local queue database. Startup runs the preflight checks and
// logs failures as warnings; the lanes start regardless.
//
// Stage construction lives in cmd/opal. The daemon only starts, stops, and
// reports on what it was handed.
package daemon
