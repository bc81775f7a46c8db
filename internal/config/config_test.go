package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"opal/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("OPAL_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "opal")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Blob.Root != filepath.Join(wantData, "blobs") {
		t.Fatalf("unexpected blob root: %q", cfg.Blob.Root)
	}
	if cfg.QueueDatabasePath() != filepath.Join(wantData, "queue.db") {
		t.Fatalf("unexpected queue db path: %q", cfg.QueueDatabasePath())
	}
	if cfg.Queue.Backend != config.QueueBackendSQLite || cfg.Store.Backend != config.StoreBackendSQLite {
		t.Fatalf("unexpected backends: queue=%q store=%q", cfg.Queue.Backend, cfg.Store.Backend)
	}
	if cfg.Queue.ReceiveBatch != 10 {
		t.Fatalf("expected batch size 10, got %d", cfg.Queue.ReceiveBatch)
	}
	if cfg.KeepAliveCap().Seconds() != 600 {
		t.Fatalf("expected 600s keep-alive cap, got %s", cfg.KeepAliveCap())
	}
	if cfg.Workflow.RetryAttempts != 3 {
		t.Fatalf("expected 3 retry attempts, got %d", cfg.Workflow.RetryAttempts)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
data_dir = "~/opal-data"

[queue]
receive_batch = 4

[providers]
background = " NONE "
upscale = ""

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "opal-data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Queue.ReceiveBatch != 4 {
		t.Fatalf("expected batch override, got %d", cfg.Queue.ReceiveBatch)
	}
	if cfg.Providers.Background != "none" || cfg.Providers.Upscale != "none" {
		t.Fatalf("expected provider names normalized to none: %+v", cfg.Providers)
	}
	if cfg.Providers.Scene != "studio" {
		t.Fatalf("expected default scene provider, got %q", cfg.Providers.Scene)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
}

func TestLoadUsesEnvironmentFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPAL_DATABASE_URL", "postgres://opal@localhost/opal")
	t.Setenv("REMOVEBG_API_KEY", "rb-key")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[store]
backend = "postgres"

[providers]
background = "removebg"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.DatabaseURL != "postgres://opal@localhost/opal" {
		t.Fatalf("expected database url from env, got %q", cfg.Store.DatabaseURL)
	}
	if cfg.Providers.RemoveBGAPIKey != "rb-key" {
		t.Fatalf("expected removebg key from env, got %q", cfg.Providers.RemoveBGAPIKey)
	}
}

func TestValidateRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "unknown queue backend",
			mutate:  func(c *config.Config) { c.Queue.Backend = "sqs" },
			wantErr: "queue.backend",
		},
		{
			name:    "rabbitmq without url",
			mutate:  func(c *config.Config) { c.Queue.Backend = config.QueueBackendRabbitMQ },
			wantErr: "queue.url",
		},
		{
			name:    "zero batch",
			mutate:  func(c *config.Config) { c.Queue.ReceiveBatch = 0 },
			wantErr: "queue.receive_batch",
		},
		{
			name:    "gcs without buckets",
			mutate:  func(c *config.Config) { c.Blob.Backend = config.BlobBackendGCS },
			wantErr: "blob.buckets.raw",
		},
		{
			name:    "postgres without url",
			mutate:  func(c *config.Config) { c.Store.Backend = config.StoreBackendPostgres },
			wantErr: "store.database_url",
		},
		{
			name:    "removebg without key",
			mutate:  func(c *config.Config) { c.Providers.Background = "removebg" },
			wantErr: "removebg_api_key",
		},
		{
			name:    "product scale out of range",
			mutate:  func(c *config.Config) { c.Providers.ProductScale = 1.5 },
			wantErr: "product_scale",
		},
		{
			name: "retry max below initial",
			mutate: func(c *config.Config) {
				c.Workflow.RetryInitialMillis = 5000
				c.Workflow.RetryMaxMillis = 1000
			},
			wantErr: "retry_max_ms",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Blob.Root = t.TempDir()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestEnsureDirectoriesCreatesLocalPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Blob.Root = filepath.Join(base, "blobs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Blob.Root} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}

func TestCreateSampleProducesValidConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var parsed map[string]any
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample is not valid toml: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}
