package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// Ntfy posts human-readable messages to an ntfy topic URL.
type Ntfy struct {
	endpoint string
	client   *http.Client
}

// NewNtfy builds a sink for the topic URL.
func NewNtfy(endpoint string, timeout time.Duration) *Ntfy {
	return &Ntfy{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

// Name implements Sink.
func (n *Ntfy) Name() string { return "ntfy" }

// Close implements Sink.
func (n *Ntfy) Close() error { return nil }

// Publish implements Sink.
func (n *Ntfy) Publish(ctx context.Context, event Event) error {
	return n.send(ctx, format(event))
}

func format(event Event) payload {
	switch event.Kind {
	case EventItemExported:
		var b strings.Builder
		fmt.Fprintf(&b, "✅ Item %s ready", event.ItemID)
		if status := strings.TrimSpace(event.JobStatus); status != "" {
			fmt.Fprintf(&b, " (job %s: %s)", event.JobID, status)
		}
		if event.DownloadURL != "" {
			b.WriteString("\nDownload: ")
			b.WriteString(event.DownloadURL)
		}
		data := payload{
			title:   "Opal - Item Ready",
			message: b.String(),
			tags:    []string{"opal", "export", event.TenantID},
		}
		if event.JobStatus == "partial" || event.JobStatus == "failed" {
			data.priority = "high"
		}
		return data
	default:
		return payload{
			title:    "Opal - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"opal", "test"},
			priority: "low",
		}
	}
}

func (n *Ntfy) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if tags := compact(data.tags); len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func compact(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
