package blob

import (
	"context"
	"fmt"
	"time"

	"opal/internal/config"
	"opal/internal/services"
)

// Store issues time-limited access grants and moves bytes through them.
type Store interface {
	ReadURL(ctx context.Context, container, path string, ttl time.Duration) (string, error)
	WriteURL(ctx context.Context, container, path string, ttl time.Duration) (string, error)
	Upload(ctx context.Context, url string, data []byte) error
	Download(ctx context.Context, url string) ([]byte, error)
}

// Checker is implemented by stores that can verify their backing storage.
type Checker interface {
	Check(ctx context.Context) error
}

// Open builds the blob store selected by configuration.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	timeout := time.Duration(cfg.Blob.RequestTimeout) * time.Second
	switch cfg.Blob.Backend {
	case config.BlobBackendGCS:
		return NewGCS(ctx, cfg.Blob.Buckets, timeout)
	case config.BlobBackendLocal, "":
		return NewLocal(cfg.Blob.Root, cfg.Blob.SigningKey)
	default:
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.Blob.Backend)
	}
}

// Client pairs a Store with a grant lifetime and retry policy so callers can
// move bytes by container and path.
type Client struct {
	store  Store
	ttl    time.Duration
	policy services.RetryPolicy
}

// NewClient wraps store. A zero ttl defaults to 30 minutes.
func NewClient(store Store, ttl time.Duration, policy services.RetryPolicy) *Client {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Client{store: store, ttl: ttl, policy: policy}
}

// Store exposes the underlying store.
func (c *Client) Store() Store { return c.store }

// Get downloads container/path, retrying transient failures.
func (c *Client) Get(ctx context.Context, container, path string) ([]byte, error) {
	url, err := c.store.ReadURL(ctx, container, path, c.ttl)
	if err != nil {
		return nil, fmt.Errorf("read grant for %s/%s: %w", container, path, err)
	}
	var data []byte
	err = services.Retry(ctx, c.policy, func(ctx context.Context) error {
		var downloadErr error
		data, downloadErr = c.store.Download(ctx, url)
		return downloadErr
	})
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", container, path, err)
	}
	return data, nil
}

// Put uploads data to container/path, retrying transient failures.
func (c *Client) Put(ctx context.Context, container, path string, data []byte) error {
	url, err := c.store.WriteURL(ctx, container, path, c.ttl)
	if err != nil {
		return fmt.Errorf("write grant for %s/%s: %w", container, path, err)
	}
	err = services.Retry(ctx, c.policy, func(ctx context.Context) error {
		return c.store.Upload(ctx, url, data)
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", container, path, err)
	}
	return nil
}

// ReadURL issues a read grant with an explicit lifetime.
func (c *Client) ReadURL(ctx context.Context, container, path string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.store.ReadURL(ctx, container, path, ttl)
}

// Check verifies the backing storage when the store supports it.
func (c *Client) Check(ctx context.Context) error {
	if checker, ok := c.store.(Checker); ok {
		return checker.Check(ctx)
	}
	return nil
}
