package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateBlob(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateExports(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case QueueBackendSQLite:
	case QueueBackendRabbitMQ:
		if c.Queue.URL == "" {
			return errors.New("queue.url must be set when queue.backend is rabbitmq (or set OPAL_QUEUE_URL)")
		}
	default:
		return fmt.Errorf("queue.backend %q is not supported (use sqlite or rabbitmq)", c.Queue.Backend)
	}
	if err := ensurePositiveMap(map[string]int{
		"queue.lock_duration":      c.Queue.LockDuration,
		"queue.max_delivery_count": c.Queue.MaxDeliveryCount,
		"queue.receive_batch":      c.Queue.ReceiveBatch,
		"queue.poll_interval_ms":   c.Queue.PollInterval,
	}); err != nil {
		return err
	}
	if c.Queue.ReceiveWait < 0 {
		return errors.New("queue.receive_wait must be zero or positive")
	}
	return nil
}

func (c *Config) validateBlob() error {
	switch c.Blob.Backend {
	case BlobBackendLocal:
		if c.Blob.Root == "" {
			return errors.New("blob.root must be set when blob.backend is local")
		}
	case BlobBackendGCS:
		for _, container := range []string{c.Blob.RawContainer, c.Blob.OutputsContainer} {
			if strings.TrimSpace(c.Blob.Buckets[container]) == "" {
				return fmt.Errorf("blob.buckets.%s must name a bucket when blob.backend is gcs", container)
			}
		}
	default:
		return fmt.Errorf("blob.backend %q is not supported (use local or gcs)", c.Blob.Backend)
	}
	if c.Blob.RawContainer == c.Blob.OutputsContainer {
		return errors.New("blob.raw_container and blob.outputs_container must differ")
	}
	return ensurePositiveMap(map[string]int{
		"blob.grant_ttl":       c.Blob.GrantTTL,
		"blob.request_timeout": c.Blob.RequestTimeout,
	})
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case StoreBackendSQLite:
		return nil
	case StoreBackendPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("store.database_url must be set when store.backend is postgres (or set OPAL_DATABASE_URL)")
		}
		return nil
	default:
		return fmt.Errorf("store.backend %q is not supported (use sqlite or postgres)", c.Store.Backend)
	}
}

func (c *Config) validateProviders() error {
	if c.Providers.Background == "removebg" && c.Providers.RemoveBGAPIKey == "" {
		return errors.New("providers.removebg_api_key is required for the removebg provider (or set REMOVEBG_API_KEY)")
	}
	if c.Providers.Scene == "http" && c.Providers.SceneURL == "" {
		return errors.New("providers.scene_url must be set for the http scene provider")
	}
	if c.Providers.ProductScale <= 0 || c.Providers.ProductScale > 1 {
		return errors.New("providers.product_scale must be in (0, 1]")
	}
	if c.Providers.ChromaTolerance < 0 || c.Providers.ChromaTolerance > 1 {
		return errors.New("providers.chroma_tolerance must be between 0 and 1")
	}
	return ensurePositiveMap(map[string]int{
		"providers.request_timeout": c.Providers.RequestTimeout,
		"providers.scene_width":     c.Providers.SceneWidth,
		"providers.scene_height":    c.Providers.SceneHeight,
		"providers.upscale_factor":  c.Providers.UpscaleFactor,
	})
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.parallelism":          c.Workflow.Parallelism,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.keepalive_cap":        c.Workflow.KeepAliveCap,
		"workflow.retry_attempts":       c.Workflow.RetryAttempts,
		"workflow.retry_initial_ms":     c.Workflow.RetryInitialMillis,
		"workflow.retry_max_ms":         c.Workflow.RetryMaxMillis,
		"workflow.shutdown_timeout":     c.Workflow.ShutdownTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.RetryMaxMillis < c.Workflow.RetryInitialMillis {
		return errors.New("workflow.retry_max_ms must be at least workflow.retry_initial_ms")
	}
	return nil
}

func (c *Config) validateExports() error {
	if err := ensurePositiveMap(map[string]int{
		"exports.download_ttl":    c.Exports.DownloadTTL,
		"exports.request_timeout": c.Exports.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Exports.RedisURL != "" && c.Exports.RedisTTL <= 0 {
		return errors.New("exports.redis_ttl must be positive when exports.redis_url is set")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
