package jobs_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"opal/internal/jobs"
)

// openPostgres connects to OPAL_TEST_DATABASE_URL, skipping when unset.
func openPostgres(t *testing.T) *jobs.PostgresStore {
	t.Helper()
	dsn := os.Getenv("OPAL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("OPAL_TEST_DATABASE_URL not set")
	}
	store, err := jobs.OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresStoreConditionalClaim(t *testing.T) {
	store := openPostgres(t)
	ctx := context.Background()

	_, items := seedJob(t, store, jobs.ItemUploaded, jobs.ItemCompleted)
	claim := jobs.ItemUpdate{From: jobs.Claimable, Status: jobs.ItemProcessing}

	applied, err := store.UpdateItem(ctx, items[0].ID, claim)
	if err != nil || !applied {
		t.Fatalf("first claim = %v, %v", applied, err)
	}
	applied, err = store.UpdateItem(ctx, items[0].ID, claim)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if applied {
		t.Fatal("second claim must not apply")
	}
	if applied, err := store.UpdateItem(ctx, items[1].ID, claim); err != nil || applied {
		t.Fatalf("claim of a completed item = %v, %v", applied, err)
	}
	got, err := store.GetItem(ctx, items[1].ID)
	if err != nil || got.Status != jobs.ItemCompleted {
		t.Fatalf("completed item changed: %+v, %v", got, err)
	}
}

func TestPostgresStoreRoundTripAndStatus(t *testing.T) {
	store := openPostgres(t)
	ctx := context.Background()

	job, items := seedJob(t, store, jobs.ItemProcessing)
	if _, err := store.UpdateItem(ctx, items[0].ID, jobs.Completed("tenant_a/out.png")); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	listed, err := store.ListItems(ctx, job.ID)
	if err != nil || len(listed) != 1 {
		t.Fatalf("ListItems = %d, %v", len(listed), err)
	}
	if listed[0].Status != jobs.ItemCompleted || listed[0].OutputBlobPath != "tenant_a/out.png" || listed[0].ErrorMessage != "" {
		t.Fatalf("unexpected item: %+v", listed[0])
	}

	if err := store.UpdateJobStatus(ctx, job.ID, jobs.JobCompleted); err != nil {
		t.Fatalf("UpdateJobStatus failed: %v", err)
	}
	gotJob, err := store.GetJob(ctx, job.ID)
	if err != nil || gotJob.Status != jobs.JobCompleted || gotJob.Options != jobs.DefaultOptions() {
		t.Fatalf("unexpected job: %+v, %v", gotJob, err)
	}
	if err := store.UpdateJobStatus(ctx, "job_missing", jobs.JobFailed); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if missing, err := store.GetItem(ctx, "itm_missing"); err != nil || missing != nil {
		t.Fatalf("expected nil item, got %+v, %v", missing, err)
	}
}
