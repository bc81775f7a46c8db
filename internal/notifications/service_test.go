package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"opal/internal/config"
	"opal/internal/notifications"
)

func TestNewServiceReturnsNoopWhenNothingConfigured(t *testing.T) {
	cfg := config.Default()
	svc, err := notifications.NewService(&cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if len(svc.Sinks()) != 0 {
		t.Fatalf("expected no sinks, got %v", svc.Sinks())
	}
	if err := svc.Publish(context.Background(), notifications.Event{Kind: notifications.EventItemExported}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNewServiceAssemblesConfiguredSinks(t *testing.T) {
	cfg := config.Default()
	cfg.Exports.NtfyTopic = "http://127.0.0.1:1/opal"
	cfg.Exports.KafkaBrokers = []string{"127.0.0.1:9092"}
	svc, err := notifications.NewService(&cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	if got := svc.Sinks(); !slices.Equal(got, []string{"ntfy", "kafka"}) {
		t.Fatalf("unexpected sinks %v", got)
	}
}

func TestSinkNamesFollowsPublishOrder(t *testing.T) {
	cfg := config.Default()
	if names := notifications.SinkNames(&cfg); len(names) != 0 {
		t.Fatalf("expected no sinks by default, got %v", names)
	}
	cfg.Exports.NtfyTopic = "http://127.0.0.1:1/opal"
	cfg.Exports.KafkaBrokers = []string{"127.0.0.1:9092"}
	cfg.Exports.RedisURL = "redis://127.0.0.1:6379/0"
	want := []string{"ntfy", "kafka", "redis"}
	if got := notifications.SinkNames(&cfg); !slices.Equal(got, want) {
		t.Fatalf("SinkNames = %v, want %v", got, want)
	}
}

func TestNtfyFormatsExportEvents(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "completed job",
			event: notifications.Event{
				Kind:        notifications.EventItemExported,
				TenantID:    "acme",
				JobID:       "job_1",
				ItemID:      "item_1",
				JobStatus:   "completed",
				DownloadURL: "https://example.test/out.png",
			},
			expectTitle:   "Opal - Item Ready",
			expectMessage: "✅ Item item_1 ready (job job_1: completed)\nDownload: https://example.test/out.png",
			expectTags:    "opal,export,acme",
		},
		{
			name: "partial job",
			event: notifications.Event{
				Kind:      notifications.EventItemExported,
				JobID:     "job_2",
				ItemID:    "item_9",
				JobStatus: "partial",
			},
			expectTitle:    "Opal - Item Ready",
			expectMessage:  "✅ Item item_9 ready (job job_2: partial)",
			expectTags:     "opal,export",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.Event{Kind: notifications.EventTest},
			expectTitle:    "Opal - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "opal,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, _ := io.ReadAll(r.Body)
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Exports.NtfyTopic = server.URL
			svc, err := notifications.NewService(&cfg)
			if err != nil {
				t.Fatalf("NewService failed: %v", err)
			}
			if err := svc.Publish(context.Background(), tc.event); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

type recordingSink struct {
	name   string
	err    error
	events []notifications.Event
	closed bool
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, event notifications.Event) error {
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestFanoutContinuesPastFailingSink(t *testing.T) {
	broken := &recordingSink{name: "broken", err: errors.New("down")}
	healthy := &recordingSink{name: "healthy"}
	fanout := notifications.NewFanout(broken, healthy)

	err := fanout.Publish(context.Background(), notifications.Event{Kind: notifications.EventItemExported, ItemID: "item_1"})
	if err == nil || !strings.Contains(err.Error(), "broken: down") {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if len(healthy.events) != 1 || healthy.events[0].OccurredAt.IsZero() {
		t.Fatalf("healthy sink should receive a stamped event, got %+v", healthy.events)
	}

	if err := fanout.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !broken.closed || !healthy.closed {
		t.Fatal("every sink must be closed")
	}
}

func TestNtfyReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic locked", http.StatusForbidden)
	}))
	defer server.Close()

	sink := notifications.NewNtfy(server.URL, 0)
	err := sink.Publish(context.Background(), notifications.Event{Kind: notifications.EventTest})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status error, got %v", err)
	}
}
