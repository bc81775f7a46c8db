package preflight

import (
	"context"
	"strings"

	"opal/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding backend is selected.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if cfg.Blob.Backend == config.BlobBackendLocal {
		results = append(results, CheckDirectoryAccess("Blob root", cfg.Blob.Root))
	}

	if cfg.Store.Backend == config.StoreBackendPostgres {
		results = append(results, CheckPostgres(ctx, "Postgres", cfg.Store.DatabaseURL))
	}
	if cfg.Queue.Backend == config.QueueBackendRabbitMQ {
		results = append(results, CheckRabbitMQ(ctx, "RabbitMQ", cfg.Queue.URL))
	}

	if cfg.Providers.Background == "removebg" {
		results = append(results, CheckEndpoint(ctx, "remove.bg", cfg.Providers.RemoveBGURL, "X-Api-Key", cfg.Providers.RemoveBGAPIKey))
	}
	if cfg.Providers.Scene == "http" {
		key := ""
		if strings.TrimSpace(cfg.Providers.SceneAPIKey) != "" {
			key = "Key " + strings.TrimSpace(cfg.Providers.SceneAPIKey)
		}
		results = append(results, CheckEndpoint(ctx, "Scene provider", cfg.Providers.SceneURL, "Authorization", key))
	}

	if cfg.Exports.NtfyTopic != "" {
		results = append(results, CheckEndpoint(ctx, "ntfy", cfg.Exports.NtfyTopic, "", ""))
	}
	if cfg.Exports.RedisURL != "" {
		results = append(results, CheckRedis(ctx, "Redis", cfg.Exports.RedisURL))
	}
	for _, broker := range cfg.Exports.KafkaBrokers {
		results = append(results, CheckKafka(ctx, "Kafka "+broker, broker))
	}

	return results
}
