package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"opal/internal/config"
)

// Queue names, one per pipeline hop.
const (
	Jobs              = "jobs"
	BackgroundRemoval = "bg-removal"
	SceneGeneration   = "scene-gen"
	Upscale           = "upscale"
	Exports           = "exports"
)

// Names lists every queue in pipeline order.
func Names() []string {
	return []string{Jobs, BackgroundRemoval, SceneGeneration, Upscale, Exports}
}

// ErrLockLost is returned when a settle or renew call targets a message whose
// lock expired and was taken by another receiver, or which was already settled.
var ErrLockLost = errors.New("message lock lost")

// Message is one delivery of a queued payload.
type Message struct {
	ID            string
	Queue         string
	Body          []byte
	DeliveryCount int
	EnqueuedAt    time.Time
	LockedUntil   time.Time
	LockToken     string
}

// Transport is an at-least-once, peek-lock work queue.
type Transport interface {
	Send(ctx context.Context, queue string, body []byte) error
	Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]*Message, error)
	Complete(ctx context.Context, msg *Message) error
	Abandon(ctx context.Context, msg *Message) error
	DeadLetter(ctx context.Context, msg *Message, reason, description string) error
	RenewLock(ctx context.Context, msg *Message, duration time.Duration) error
	Close() error
}

// Stats summarizes one queue.
type Stats struct {
	Queue     string
	Active    int
	Locked    int
	Dead      int
	Consumers int
}

// Inspector is implemented by transports that can report queue depth.
type Inspector interface {
	Stats(ctx context.Context) ([]Stats, error)
}

// DeadLetterRecord is a message parked on a dead-letter side channel.
type DeadLetterRecord struct {
	ID            string
	Queue         string
	Body          []byte
	DeliveryCount int
	Reason        string
	Description   string
	DeadAt        time.Time
}

// DeadLetterBrowser is implemented by transports that can list and purge
// dead-lettered messages.
type DeadLetterBrowser interface {
	DeadLetters(ctx context.Context, queue string, limit int) ([]DeadLetterRecord, error)
	PurgeDead(ctx context.Context, queue string) (int64, error)
}

// SendJSON marshals payload and sends it to queue.
func SendJSON(ctx context.Context, transport Transport, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", queue, err)
	}
	return transport.Send(ctx, queue, body)
}

// Open connects to the transport selected by configuration.
func Open(ctx context.Context, cfg *config.Config) (Transport, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendRabbitMQ:
		return OpenRabbit(ctx, cfg.Queue.URL, RabbitOptions{
			MaxDeliveryCount: cfg.Queue.MaxDeliveryCount,
		})
	case config.QueueBackendSQLite, "":
		return OpenSQLite(ctx, cfg.QueueDatabasePath(), SQLiteOptions{
			LockDuration:     cfg.LockDuration(),
			MaxDeliveryCount: cfg.Queue.MaxDeliveryCount,
			PollInterval:     time.Duration(cfg.Queue.PollInterval) * time.Millisecond,
		})
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.Queue.Backend)
	}
}
