package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"opal/internal/services"
)

func TestGCSTransfersClassifyStatus(t *testing.T) {
	var stored []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Method == http.MethodPut {
				stored, _ = io.ReadAll(r.Body)
				w.WriteHeader(http.StatusOK)
				return
			}
			_, _ = w.Write(stored)
		case "/busy":
			http.Error(w, "slow down", http.StatusTooManyRequests)
		case "/gone":
			http.Error(w, "no such key", http.StatusNotFound)
		default:
			http.Error(w, "bad", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	store := &GCSStore{http: srv.Client()}
	ctx := context.Background()

	if err := store.Upload(ctx, srv.URL+"/ok", []byte("png")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	data, err := store.Download(ctx, srv.URL+"/ok")
	if err != nil || string(data) != "png" {
		t.Fatalf("Download = %q, %v", data, err)
	}

	if err := store.Upload(ctx, srv.URL+"/busy", nil); !services.IsTransient(err) {
		t.Fatalf("429 must be transient, got %v", err)
	}
	if _, err := store.Download(ctx, srv.URL+"/gone"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("404 must be not found, got %v", err)
	}
	if _, err := store.Download(ctx, srv.URL+"/other"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("400 must be validation, got %v", err)
	}
}

func TestGCSUnknownContainerIsConfigurationError(t *testing.T) {
	store := &GCSStore{buckets: map[string]string{"raw": "bucket-raw"}}
	if _, err := store.ReadURL(context.Background(), "outputs", "a.png", 0); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
