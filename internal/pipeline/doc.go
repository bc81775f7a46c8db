// Package pipeline moves job items through the product placement stages.
//
// The Coordinator consumes submission requests from the jobs queue, claims
// the item with a conditional status update, and routes it. One Worker
// implementation serves background removal, scene generation, and upscale:
// it resolves the best available input (scene, then background-removed,
// then raw), runs its provider when the stage is enabled, records its
// intermediate path on the message, and routes to the next enabled stage
// or finalizes. Finalization stores a fresh output blob, completes the item,
// recomputes the job status, and queues an export notice that the Exporter
// turns into notifications.
//
// Every handler is safe to re-run on a redelivered message: terminal items
// are acknowledged without side effects and a stage whose path is already
// on the message skips its transform.
package pipeline
