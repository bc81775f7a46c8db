// Package notifications delivers export events for finalized items.
//
// NewService assembles a fan-out over the sinks enabled in the [exports]
// config section: ntfy for people, Kafka for downstream consumers, and a
// Redis cache of the latest export per item. With nothing configured it
// degrades to a no-op. The export stage depends only on the Service
// interface.
package notifications
