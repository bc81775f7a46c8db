package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"opal/internal/config"
)

const userAgent = "Opal-Go/0.1.0"

// Kind enumerates the events opal publishes.
type Kind string

const (
	// EventItemExported fires once per finalized item, from the export stage.
	EventItemExported Kind = "item_exported"
	// EventTest is sent by `opal notify test`.
	EventTest Kind = "test"
)

// Event is the payload every sink receives.
type Event struct {
	Kind          Kind      `json:"kind"`
	TenantID      string    `json:"tenant_id"`
	JobID         string    `json:"job_id"`
	ItemID        string    `json:"item_id"`
	CorrelationID string    `json:"correlation_id"`
	JobStatus     string    `json:"job_status,omitempty"`
	OutputPath    string    `json:"output_blob_path,omitempty"`
	DownloadURL   string    `json:"download_url,omitempty"`
	URLExpiresAt  time.Time `json:"download_url_expires_at,omitzero"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Service defines the notification surface exposed to the export stage.
type Service interface {
	Publish(ctx context.Context, event Event) error
	Sinks() []string
	Close() error
}

// NewService builds a fan-out over every sink enabled in cfg.Exports. When
// none is configured a no-op implementation is returned.
func NewService(cfg *config.Config) (Service, error) {
	timeout := time.Duration(cfg.Exports.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var sinks []Sink
	if topic := strings.TrimSpace(cfg.Exports.NtfyTopic); topic != "" {
		sinks = append(sinks, NewNtfy(topic, timeout))
	}
	if len(cfg.Exports.KafkaBrokers) > 0 {
		sinks = append(sinks, NewKafka(cfg.Exports.KafkaBrokers, cfg.Exports.KafkaTopic, timeout))
	}
	if url := strings.TrimSpace(cfg.Exports.RedisURL); url != "" {
		ttl := time.Duration(cfg.Exports.RedisTTL) * time.Second
		sink, err := NewRedis(url, cfg.Exports.RedisKeyPrefix, ttl)
		if err != nil {
			closeAll(sinks)
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 {
		return noopService{}, nil
	}
	return NewFanout(sinks...), nil
}

// SinkNames lists the sinks cfg enables, in publish order, without opening
// any of them.
func SinkNames(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	var names []string
	if strings.TrimSpace(cfg.Exports.NtfyTopic) != "" {
		names = append(names, "ntfy")
	}
	if len(cfg.Exports.KafkaBrokers) > 0 {
		names = append(names, "kafka")
	}
	if strings.TrimSpace(cfg.Exports.RedisURL) != "" {
		names = append(names, "redis")
	}
	return names
}

// Fanout publishes each event to every sink. A failing sink does not stop
// the others; their errors are joined.
type Fanout struct {
	sinks []Sink
}

// NewFanout wraps sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Publish implements Service.
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Sinks lists sink names in publish order.
func (f *Fanout) Sinks() []string {
	names := make([]string, 0, len(f.sinks))
	for _, sink := range f.sinks {
		names = append(names, sink.Name())
	}
	return names
}

// Close closes every sink.
func (f *Fanout) Close() error {
	return closeAll(f.sinks)
}

func closeAll(sinks []Sink) error {
	var errs []error
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

type noopService struct{}

func (noopService) Publish(context.Context, Event) error { return nil }
func (noopService) Sinks() []string                      { return nil }
func (noopService) Close() error                         { return nil }
