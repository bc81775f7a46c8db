package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"opal/internal/config"
	"opal/internal/services"
)

const maxResponseBytes = 64 << 20

// RemoveBG calls the remove.bg HTTP API.
type RemoveBG struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewRemoveBG builds a client for endpoint authenticated with apiKey.
func NewRemoveBG(endpoint, apiKey string, timeout time.Duration) *RemoveBG {
	return &RemoveBG{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func newRemoveBG(cfg *config.Config) (Transformer, error) {
	if strings.TrimSpace(cfg.Providers.RemoveBGAPIKey) == "" {
		return nil, fmt.Errorf("removebg api key not configured")
	}
	return NewRemoveBG(cfg.Providers.RemoveBGURL, cfg.Providers.RemoveBGAPIKey, requestTimeout(cfg)), nil
}

// Name implements Transformer.
func (r *RemoveBG) Name() string { return "removebg" }

// Transform uploads input as image_file and returns the cut-out PNG.
func (r *RemoveBG) Transform(ctx context.Context, input []byte) ([]byte, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("image_file", "image")
	if err != nil {
		return nil, fmt.Errorf("build removebg form: %w", err)
	}
	if _, err := part.Write(input); err != nil {
		return nil, fmt.Errorf("build removebg form: %w", err)
	}
	if err := form.WriteField("size", "auto"); err != nil {
		return nil, fmt.Errorf("build removebg form: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("build removebg form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build removebg request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("X-Api-Key", r.apiKey)
	return doImageRequest(r.client, req, "removebg")
}

func doImageRequest(client *http.Client, req *http.Request, stage string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stage, "request", req.URL.Host, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stage, "read response", "", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, services.HTTPStatusError(stage, "request", resp.StatusCode, data)
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, stage, "request", "empty response body", nil)
	}
	return data, nil
}

func requestTimeout(cfg *config.Config) time.Duration {
	if cfg.Providers.RequestTimeout <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(cfg.Providers.RequestTimeout) * time.Second
}
