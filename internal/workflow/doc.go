// Package workflow drives stage handlers from their queues.
//
// The Manager runs an independent lane per registered handler. Each lane
// receives a batch from its queue, runs the deliveries with bounded
// parallelism through stageexec (which keeps the message lock alive and
// settles the message), and loops. Receive failures are logged and retried
// after the configured back-off; the lanes never exit on their own.
//
// Status aggregates per-lane settle counters, transport queue depth, and
// stage health checks for the CLI and the health API.
package workflow
