package blob_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"opal/internal/blob"
	"opal/internal/services"
)

func newLocal(t *testing.T) *blob.LocalStore {
	t.Helper()
	store, err := blob.NewLocal(t.TempDir(), "test-key")
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	return store
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t)

	writeURL, err := store.WriteURL(ctx, "raw", "tenant_a/jobs/j/items/i/raw/shot.png", time.Minute)
	if err != nil {
		t.Fatalf("WriteURL failed: %v", err)
	}
	if !strings.HasPrefix(writeURL, "local://raw/") {
		t.Fatalf("unexpected grant %q", writeURL)
	}
	if err := store.Upload(ctx, writeURL, []byte("pixels")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	readURL, err := store.ReadURL(ctx, "raw", "tenant_a/jobs/j/items/i/raw/shot.png", time.Minute)
	if err != nil {
		t.Fatalf("ReadURL failed: %v", err)
	}
	data, err := store.Download(ctx, readURL)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(data) != "pixels" {
		t.Fatalf("unexpected data %q", data)
	}
	if err := store.Check(ctx); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
}

func TestLocalStoreRejectsBadGrants(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t)

	readURL, _ := store.ReadURL(ctx, "outputs", "a/b.png", time.Minute)
	if err := store.Upload(ctx, readURL, []byte("x")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("read grant must not allow upload, got %v", err)
	}

	tampered := strings.Replace(readURL, "a/b.png", "a/c.png", 1)
	if _, err := store.Download(ctx, tampered); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("tampered grant must be rejected, got %v", err)
	}

	expired, _ := store.ReadURL(ctx, "outputs", "a/b.png", -time.Minute)
	if _, err := store.Download(ctx, expired); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expired grant must be rejected, got %v", err)
	}

	other, _ := blob.NewLocal(t.TempDir(), "other-key")
	foreign, _ := other.ReadURL(ctx, "outputs", "a/b.png", time.Minute)
	if _, err := store.Download(ctx, foreign); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("grant signed with another key must be rejected, got %v", err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t)

	for _, p := range []string{"../escape.png", "a/../../b.png", "", "/abs.png"} {
		if _, err := store.WriteURL(ctx, "raw", p, time.Minute); err == nil {
			t.Fatalf("expected path %q to be rejected", p)
		}
	}
	if _, err := store.WriteURL(ctx, "../raw", "a.png", time.Minute); err == nil {
		t.Fatal("expected container traversal to be rejected")
	}
}

func TestLocalStoreMissingBlobIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := newLocal(t)

	readURL, _ := store.ReadURL(ctx, "raw", "nothing/here.png", time.Minute)
	_, err := store.Download(ctx, readURL)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type flakyStore struct {
	blob.Store
	failures  int
	downloads int
}

func (f *flakyStore) Download(ctx context.Context, url string) ([]byte, error) {
	f.downloads++
	if f.downloads <= f.failures {
		return nil, services.Wrap(services.ErrTransient, "blob", "download", "503", nil)
	}
	return f.Store.Download(ctx, url)
}

func TestClientRetriesTransientDownloads(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Store: newLocal(t), failures: 2}
	policy := services.RetryPolicy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	client := blob.NewClient(flaky, time.Minute, policy)

	if err := client.Put(ctx, "outputs", "t/out.png", []byte("final")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data, err := client.Get(ctx, "outputs", "t/out.png")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "final" || flaky.downloads != 3 {
		t.Fatalf("unexpected result %q after %d downloads", data, flaky.downloads)
	}

	flaky.downloads = 0
	flaky.failures = 5
	if _, err := client.Get(ctx, "outputs", "t/out.png"); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error after budget, got %v", err)
	}
	if flaky.downloads != 3 {
		t.Fatalf("expected 3 attempts, got %d", flaky.downloads)
	}
}
