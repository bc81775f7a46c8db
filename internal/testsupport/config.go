package testsupport

import (
	"path/filepath"
	"testing"

	"opal/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry backoff is shortened to milliseconds so failure paths stay fast.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Blob.Root = filepath.Join(base, "blobs")
	cfgVal.Blob.SigningKey = "test-signing-key"
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Queue.LockDuration = 5
	cfgVal.Queue.ReceiveWait = 0
	cfgVal.Queue.PollInterval = 10
	cfgVal.Workflow.RetryInitialMillis = 1
	cfgVal.Workflow.RetryMaxMillis = 5
	cfgVal.Workflow.ErrorRetryInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithProviders overrides the provider names for the three transform stages.
func WithProviders(background, scene, upscale string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Providers.Background = background
		b.cfg.Providers.Scene = scene
		b.cfg.Providers.Upscale = upscale
	}
}

// WithParallelism sets the per-batch worker limit.
func WithParallelism(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Parallelism = n
	}
}

// WithMaxDeliveryCount sets the transport redelivery limit.
func WithMaxDeliveryCount(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxDeliveryCount = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
