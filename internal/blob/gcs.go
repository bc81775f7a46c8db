package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"

	"opal/internal/services"
)

// GCSStore maps containers onto Cloud Storage buckets and hands out V4
// signed URLs.
type GCSStore struct {
	client  *storage.Client
	buckets map[string]string
	http    *http.Client
}

// NewGCS connects with application default credentials.
func NewGCS(ctx context.Context, buckets map[string]string, timeout time.Duration) (*GCSStore, error) {
	if len(buckets) == 0 {
		return nil, errors.New("gcs blob store needs at least one container bucket")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &GCSStore{
		client:  client,
		buckets: buckets,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) bucket(container string) (string, error) {
	name, ok := s.buckets[container]
	if !ok || name == "" {
		return "", services.Wrap(services.ErrConfiguration, "blob", "resolve bucket", fmt.Sprintf("no bucket configured for container %q", container), nil)
	}
	return name, nil
}

// ReadURL signs a GET for container/path.
func (s *GCSStore) ReadURL(_ context.Context, container, path string, ttl time.Duration) (string, error) {
	return s.sign(http.MethodGet, container, path, ttl)
}

// WriteURL signs a PUT for container/path.
func (s *GCSStore) WriteURL(_ context.Context, container, path string, ttl time.Duration) (string, error) {
	return s.sign(http.MethodPut, container, path, ttl)
}

func (s *GCSStore) sign(method, container, path string, ttl time.Duration) (string, error) {
	bucket, err := s.bucket(container)
	if err != nil {
		return "", err
	}
	url, err := s.client.Bucket(bucket).SignedURL(path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  method,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "blob", "sign url", bucket+"/"+path, err)
	}
	return url, nil
}

// Upload PUTs data to a signed URL.
func (s *GCSStore) Upload(ctx context.Context, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "blob", "upload", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return services.HTTPStatusError("blob", "upload", resp.StatusCode, body)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Download GETs a signed URL.
func (s *GCSStore) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "blob", "download", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, services.HTTPStatusError("blob", "download", resp.StatusCode, body)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "blob", "download", "read body", err)
	}
	return data, nil
}

// Check verifies every configured bucket is reachable.
func (s *GCSStore) Check(ctx context.Context) error {
	for container, bucket := range s.buckets {
		if _, err := s.client.Bucket(bucket).Attrs(ctx); err != nil {
			return fmt.Errorf("bucket %s for container %s: %w", bucket, container, err)
		}
	}
	return nil
}
