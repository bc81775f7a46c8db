package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"opal/internal/blob"
	"opal/internal/config"
	"opal/internal/jobs"
	"opal/internal/logging"
	"opal/internal/pipeline"
	"opal/internal/queue"
	"opal/internal/services"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, logLevelFlag: logLevelFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.logLevelFlag)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// processLogger writes to stdout and a per-process file in the log dir.
func (c *commandContext) processLogger(process string) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg, process)
}

// cliLogger keeps operator commands quiet unless something goes wrong.
func (c *commandContext) cliLogger(cmd *cobra.Command) *slog.Logger {
	level := "warn"
	if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
		level = *c.logLevelFlag
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warn: %v\n", err)
		return logging.NewNop()
	}
	return logger
}

// withRuntime opens the configured backends for the duration of fn.
func (c *commandContext) withRuntime(cmd *cobra.Command, logger *slog.Logger, fn func(*runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if logger == nil {
		logger = c.cliLogger(cmd)
	}
	rt, err := openRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

// runtime bundles the backends every command and worker shares.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     jobs.Store
	transport queue.Transport
	blobStore blob.Store
	blobs     *blob.Client
	pipe      *pipeline.Pipeline
}

func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	store, err := jobs.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	transport, err := queue.Open(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open queue transport: %w", err)
	}
	blobStore, err := blob.Open(ctx, cfg)
	if err != nil {
		_ = transport.Close()
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	policy := retryPolicy(cfg)
	blobs := blob.NewClient(blobStore, cfg.GrantTTL(), policy)
	pipe := pipeline.New(pipeline.Options{
		Store:     store,
		Transport: transport,
		Blobs:     blobs,
		Containers: pipeline.Containers{
			Raw:     cfg.Blob.RawContainer,
			Outputs: cfg.Blob.OutputsContainer,
		},
		Policy: policy,
		Logger: logger,
	})
	return &runtime{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		transport: transport,
		blobStore: blobStore,
		blobs:     blobs,
		pipe:      pipe,
	}, nil
}

func retryPolicy(cfg *config.Config) services.RetryPolicy {
	return services.RetryPolicy{
		Attempts:       cfg.Workflow.RetryAttempts,
		InitialBackoff: time.Duration(cfg.Workflow.RetryInitialMillis) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Workflow.RetryMaxMillis) * time.Millisecond,
	}
}

func (r *runtime) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if closer, ok := r.blobStore.(io.Closer); ok {
		keep(closer.Close())
	}
	keep(r.transport.Close())
	keep(r.store.Close())
	return firstErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
