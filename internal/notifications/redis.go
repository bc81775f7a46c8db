package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis caches the latest export of each item and the job's status so
// status readers can avoid the record store.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis parses url and verifies the connection.
func NewRedis(url, prefix string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisWithClient(client, prefix, ttl), nil
}

func newRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "opal"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Name implements Sink.
func (r *Redis) Name() string { return "redis" }

// Publish stores the event under the item key and records the job status.
func (r *Redis) Publish(ctx context.Context, event Event) error {
	if event.Kind != EventItemExported {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode redis event: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.itemKey(event.ItemID), data, r.ttl)
		if event.JobStatus != "" {
			jobKey := r.jobKey(event.JobID)
			pipe.HSet(ctx, jobKey, "status", event.JobStatus, "updated_at", event.OccurredAt.Format(time.RFC3339))
			pipe.HIncrBy(ctx, jobKey, "exported", 1)
			if r.ttl > 0 {
				pipe.Expire(ctx, jobKey, r.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache export: %w", err)
	}
	return nil
}

// Lookup returns the cached export for an item, or nil when absent.
func (r *Redis) Lookup(ctx context.Context, itemID string) (*Event, error) {
	data, err := r.client.Get(ctx, r.itemKey(itemID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached export: %w", err)
	}
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decode cached export: %w", err)
	}
	return &event, nil
}

// Close implements Sink.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) itemKey(itemID string) string {
	return r.prefix + ":export:" + itemID
}

func (r *Redis) jobKey(jobID string) string {
	return r.prefix + ":job:" + jobID
}
