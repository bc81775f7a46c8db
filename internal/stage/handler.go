package stage

import (
	"context"

	"opal/internal/queue"
)

// Handler describes the contract the workflow manager needs from each
// queue consumer. Handle returns nil to complete the message, an
// services.ErrPoison error to dead-letter it, and any other error to
// abandon it for redelivery.
type Handler interface {
	Name() string
	Queue() string
	Handle(context.Context, *queue.Message) error
	HealthCheck(context.Context) Health
}
