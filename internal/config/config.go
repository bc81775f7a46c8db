package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Queue selects and tunes the message transport.
type Queue struct {
	Backend          string `toml:"backend"`
	URL              string `toml:"url"`
	LockDuration     int    `toml:"lock_duration"`
	MaxDeliveryCount int    `toml:"max_delivery_count"`
	ReceiveBatch     int    `toml:"receive_batch"`
	ReceiveWait      int    `toml:"receive_wait"`
	PollInterval     int    `toml:"poll_interval_ms"`
}

// Blob selects the blob backend and its access grant settings.
type Blob struct {
	Backend          string            `toml:"backend"`
	Root             string            `toml:"root"`
	SigningKey       string            `toml:"signing_key"`
	GrantTTL         int               `toml:"grant_ttl"`
	RequestTimeout   int               `toml:"request_timeout"`
	RawContainer     string            `toml:"raw_container"`
	OutputsContainer string            `toml:"outputs_container"`
	Buckets          map[string]string `toml:"buckets"`
}

// Store selects the job/item record backend.
type Store struct {
	Backend     string `toml:"backend"`
	DatabaseURL string `toml:"database_url"`
}

// Providers selects the transformation backend for each stage. An empty or
// "none" provider turns the stage into a passthrough.
type Providers struct {
	Background      string  `toml:"background"`
	Scene           string  `toml:"scene"`
	Upscale         string  `toml:"upscale"`
	RequestTimeout  int     `toml:"request_timeout"`
	RemoveBGURL     string  `toml:"removebg_url"`
	RemoveBGAPIKey  string  `toml:"removebg_api_key"`
	SceneURL        string  `toml:"scene_url"`
	SceneAPIKey     string  `toml:"scene_api_key"`
	ScenePrompt     string  `toml:"scene_prompt"`
	SceneWidth      int     `toml:"scene_width"`
	SceneHeight     int     `toml:"scene_height"`
	ProductScale    float64 `toml:"product_scale"`
	ChromaTolerance float64 `toml:"chroma_tolerance"`
	UpscaleFactor   int     `toml:"upscale_factor"`
}

// Workflow contains polling loop timings and retry budgets.
type Workflow struct {
	Parallelism        int `toml:"parallelism"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	KeepAliveCap       int `toml:"keepalive_cap"`
	RetryAttempts      int `toml:"retry_attempts"`
	RetryInitialMillis int `toml:"retry_initial_ms"`
	RetryMaxMillis     int `toml:"retry_max_ms"`
	ShutdownTimeout    int `toml:"shutdown_timeout"`
}

// Exports configures the side work performed by the export stage.
type Exports struct {
	DownloadTTL    int      `toml:"download_ttl"`
	NtfyTopic      string   `toml:"ntfy_topic"`
	RequestTimeout int      `toml:"request_timeout"`
	KafkaBrokers   []string `toml:"kafka_brokers"`
	KafkaTopic     string   `toml:"kafka_topic"`
	RedisURL       string   `toml:"redis_url"`
	RedisTTL       int      `toml:"redis_ttl"`
	RedisKeyPrefix string   `toml:"redis_key_prefix"`
}

// API configures the health and status HTTP server.
type API struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
	Token   string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for opal.
//
// Configuration sections by subsystem:
//   - Paths: local data and log directories
//   - Queue: message transport (sqlite or rabbitmq) and delivery limits
//   - Blob: blob backend (local or gcs), containers, grant lifetimes
//   - Store: job/item records (sqlite or postgres)
//   - Providers: transformation backends per stage
//   - Workflow: batch parallelism, keep-alive cap, retry budget
//   - Exports: ntfy, kafka, and redis sinks for completed items
//   - API: health and job status endpoints
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Queue     Queue     `toml:"queue"`
	Blob      Blob      `toml:"blob"`
	Store     Store     `toml:"store"`
	Providers Providers `toml:"providers"`
	Workflow  Workflow  `toml:"workflow"`
	Exports   Exports   `toml:"exports"`
	API       API       `toml:"api"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	if envPath := strings.TrimSpace(os.Getenv("OPAL_CONFIG")); envPath != "" {
		return resolveConfigPath(envPath)
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("opal.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the local directories the configured backends write to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.Blob.Backend == BlobBackendLocal {
		dirs = append(dirs, c.Blob.Root)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDatabasePath returns the SQLite file backing the local queue transport.
func (c *Config) QueueDatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// RecordsDatabasePath returns the SQLite file backing the local job store.
func (c *Config) RecordsDatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "records.db")
}

// LockPath returns the single-instance lock file used by the daemon.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "opal.lock")
}

// LockDuration is the queue peek-lock period.
func (c *Config) LockDuration() time.Duration {
	return time.Duration(c.Queue.LockDuration) * time.Second
}

// ReceiveWait is how long a receive call may block waiting for messages.
func (c *Config) ReceiveWait() time.Duration {
	return time.Duration(c.Queue.ReceiveWait) * time.Second
}

// GrantTTL is the lifetime of blob access grants issued by the pipeline.
func (c *Config) GrantTTL() time.Duration {
	return time.Duration(c.Blob.GrantTTL) * time.Second
}

// KeepAliveCap bounds how long a message lock is renewed for one attempt.
func (c *Config) KeepAliveCap() time.Duration {
	return time.Duration(c.Workflow.KeepAliveCap) * time.Second
}

// ErrorRetryInterval is the outer loop back-off after a receive failure.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Workflow.ErrorRetryInterval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
