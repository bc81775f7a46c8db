// Package queue provides the at-least-once work queues that connect the
// pipeline stages.
//
// Every backend implements Transport with peek-lock semantics: a received
// message stays invisible to other consumers until it is completed, abandoned,
// dead-lettered, or its lock expires. The SQLite transport keeps all five
// queues in one local database file and dead-letters a message itself once
// its delivery count reaches the configured maximum. The RabbitMQ transport
// maps the same contract onto quorum queues with a delivery limit and a
// per-queue ".dlq" side queue.
//
// Schema changes bump the version in sqlite.go; operators delete the queue
// database to adopt the new schema.
package queue
