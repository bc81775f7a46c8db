package testsupport

import (
	"context"
	"testing"
	"time"

	"opal/internal/blob"
	"opal/internal/config"
	"opal/internal/jobs"
	"opal/internal/queue"
	"opal/internal/services"
)

// MustOpenStore opens the SQLite job store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.SQLiteStore {
	t.Helper()

	store, err := jobs.OpenSQLite(context.Background(), cfg.RecordsDatabasePath())
	if err != nil {
		t.Fatalf("jobs.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenTransport opens the SQLite queue transport for tests.
func MustOpenTransport(t testing.TB, cfg *config.Config) *queue.SQLiteTransport {
	t.Helper()

	transport, err := queue.OpenSQLite(context.Background(), cfg.QueueDatabasePath(), queue.SQLiteOptions{
		LockDuration:     cfg.LockDuration(),
		MaxDeliveryCount: cfg.Queue.MaxDeliveryCount,
		PollInterval:     time.Duration(cfg.Queue.PollInterval) * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("queue.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		transport.Close()
	})
	return transport
}

// MustBlobClient builds a local blob client rooted in the config's temp dir.
func MustBlobClient(t testing.TB, cfg *config.Config) *blob.Client {
	t.Helper()

	store, err := blob.NewLocal(cfg.Blob.Root, cfg.Blob.SigningKey)
	if err != nil {
		t.Fatalf("blob.NewLocal: %v", err)
	}
	return blob.NewClient(store, cfg.GrantTTL(), RetryPolicy(cfg))
}

// RetryPolicy mirrors the policy the daemon derives from configuration.
func RetryPolicy(cfg *config.Config) services.RetryPolicy {
	return services.RetryPolicy{
		Attempts:       cfg.Workflow.RetryAttempts,
		InitialBackoff: time.Duration(cfg.Workflow.RetryInitialMillis) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Workflow.RetryMaxMillis) * time.Millisecond,
	}
}

// SeedItem creates a job with one uploaded item whose raw bytes are stored
// in the raw container. Pass an empty raw slice to leave RawBlobPath unset.
func SeedItem(t testing.TB, cfg *config.Config, store jobs.Store, blobs *blob.Client, opts jobs.Options, raw []byte) (*jobs.Job, *jobs.Item) {
	t.Helper()
	ctx := context.Background()

	job := &jobs.Job{ID: jobs.NewJobID(), TenantID: "tenant_test", Options: opts}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	item := &jobs.Item{
		ID:       jobs.NewItemID(),
		JobID:    job.ID,
		TenantID: job.TenantID,
		Filename: "product.png",
		Status:   jobs.ItemUploaded,
	}
	if len(raw) > 0 {
		item.RawBlobPath = blob.RawPath(job.TenantID, job.ID, item.ID, item.Filename)
		if err := blobs.Put(ctx, cfg.Blob.RawContainer, item.RawBlobPath, raw); err != nil {
			t.Fatalf("upload raw: %v", err)
		}
	}
	if err := store.AddItem(ctx, item); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	return job, item
}

// MustGetItem reloads an item and fails the test when it is missing.
func MustGetItem(t testing.TB, store jobs.Store, id string) *jobs.Item {
	t.Helper()

	item, err := store.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item == nil {
		t.Fatalf("item %s not found", id)
	}
	return item
}
