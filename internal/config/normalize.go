package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	if err := c.normalizeBlob(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeProviders()
	c.normalizeExports()
	c.normalizeLogging()
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("OPAL_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = QueueBackendSQLite
	}
	c.Queue.URL = strings.TrimSpace(c.Queue.URL)
	if c.Queue.URL == "" {
		if value, ok := os.LookupEnv("OPAL_QUEUE_URL"); ok {
			c.Queue.URL = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeBlob() error {
	c.Blob.Backend = strings.ToLower(strings.TrimSpace(c.Blob.Backend))
	if c.Blob.Backend == "" {
		c.Blob.Backend = BlobBackendLocal
	}
	if c.Blob.Backend == BlobBackendLocal {
		if strings.TrimSpace(c.Blob.Root) == "" {
			c.Blob.Root = defaultBlobRoot
		}
		var err error
		if c.Blob.Root, err = expandPath(c.Blob.Root); err != nil {
			return fmt.Errorf("blob.root: %w", err)
		}
	}
	if c.Blob.SigningKey == "" {
		if value, ok := os.LookupEnv("OPAL_BLOB_SIGNING_KEY"); ok {
			c.Blob.SigningKey = value
		}
	}
	c.Blob.RawContainer = strings.TrimSpace(c.Blob.RawContainer)
	if c.Blob.RawContainer == "" {
		c.Blob.RawContainer = defaultRawContainer
	}
	c.Blob.OutputsContainer = strings.TrimSpace(c.Blob.OutputsContainer)
	if c.Blob.OutputsContainer == "" {
		c.Blob.OutputsContainer = defaultOutputsContainer
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = StoreBackendSQLite
	}
	if strings.TrimSpace(c.Store.DatabaseURL) == "" {
		if value, ok := os.LookupEnv("OPAL_DATABASE_URL"); ok {
			c.Store.DatabaseURL = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeProviders() {
	c.Providers.Background = normalizeProviderName(c.Providers.Background)
	c.Providers.Scene = normalizeProviderName(c.Providers.Scene)
	c.Providers.Upscale = normalizeProviderName(c.Providers.Upscale)
	if c.Providers.RemoveBGAPIKey == "" {
		if value, ok := os.LookupEnv("REMOVEBG_API_KEY"); ok {
			c.Providers.RemoveBGAPIKey = value
		}
	}
	if c.Providers.SceneAPIKey == "" {
		if value, ok := os.LookupEnv("OPAL_SCENE_API_KEY"); ok {
			c.Providers.SceneAPIKey = value
		}
	}
	c.Providers.RemoveBGURL = strings.TrimSpace(c.Providers.RemoveBGURL)
	if c.Providers.RemoveBGURL == "" {
		c.Providers.RemoveBGURL = defaultRemoveBGURL
	}
	c.Providers.SceneURL = strings.TrimSpace(c.Providers.SceneURL)
	if strings.TrimSpace(c.Providers.ScenePrompt) == "" {
		c.Providers.ScenePrompt = defaultScenePrompt
	}
}

func normalizeProviderName(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "none"
	}
	return value
}

func (c *Config) normalizeExports() {
	c.Exports.NtfyTopic = strings.TrimSpace(c.Exports.NtfyTopic)
	c.Exports.KafkaTopic = strings.TrimSpace(c.Exports.KafkaTopic)
	if c.Exports.KafkaTopic == "" {
		c.Exports.KafkaTopic = defaultKafkaTopic
	}
	brokers := c.Exports.KafkaBrokers[:0]
	for _, broker := range c.Exports.KafkaBrokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	c.Exports.KafkaBrokers = brokers
	c.Exports.RedisURL = strings.TrimSpace(c.Exports.RedisURL)
	if c.Exports.RedisURL == "" {
		if value, ok := os.LookupEnv("OPAL_REDIS_URL"); ok {
			c.Exports.RedisURL = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Exports.RedisKeyPrefix) == "" {
		c.Exports.RedisKeyPrefix = defaultRedisKeyPrefix
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
