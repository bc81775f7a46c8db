package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"opal/internal/jobs"
	"opal/internal/notifications"
	"opal/internal/pipeline"
	"opal/internal/queue"
	"opal/internal/testsupport"
)

func completedItem(t *testing.T, h *harness) (*jobs.Job, *jobs.Item) {
	t.Helper()
	ctx := context.Background()
	job, item := testsupport.SeedItem(t, h.cfg, h.store, h.blobs, jobs.Options{}, []byte("raw"))
	outputPath := item.TenantID + "/jobs/" + job.ID + "/items/" + item.ID + "/outputs/product_seeded.png"
	if err := h.blobs.Put(ctx, h.cfg.Blob.OutputsContainer, outputPath, []byte("final")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := h.store.UpdateItem(ctx, item.ID, jobs.Completed(outputPath)); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if err := h.store.UpdateJobStatus(ctx, job.ID, jobs.JobCompleted); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	return job, testsupport.MustGetItem(t, h.store, item.ID)
}

func notice(job *jobs.Job, item *jobs.Item) pipeline.ExportNotice {
	return pipeline.ExportNotice{TenantID: item.TenantID, JobID: job.ID, ItemID: item.ID, CorrelationID: "corr-test"}
}

func TestExporterPublishesDownloadURL(t *testing.T) {
	h := newHarness(t)
	job, item := completedItem(t, h)
	notifier := &recordingNotifier{}
	exporter := h.pipe.Exporter(notifier, time.Hour)

	before := time.Now()
	if err := exporter.Handle(context.Background(), envelope(t, queue.Exports, notice(job, item))); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	events := notifier.Events()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	event := events[0]
	if event.Kind != notifications.EventItemExported || event.ItemID != item.ID || event.JobID != job.ID {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.JobStatus != string(jobs.JobCompleted) || event.OutputPath != item.OutputBlobPath {
		t.Fatalf("unexpected job status or output path in %+v", event)
	}
	if !strings.HasPrefix(event.DownloadURL, "local://") {
		t.Fatalf("expected a download grant, got %q", event.DownloadURL)
	}
	if event.URLExpiresAt.Before(before.Add(59 * time.Minute)) {
		t.Fatalf("expiry %s too early", event.URLExpiresAt)
	}
	data, err := h.blobs.Store().Download(context.Background(), event.DownloadURL)
	if err != nil || string(data) != "final" {
		t.Fatalf("download via grant: %q, %v", data, err)
	}
}

func TestExporterSkipsUnresolvableNotices(t *testing.T) {
	h := newHarness(t)
	pending, pendingItem := testsupport.SeedItem(t, h.cfg, h.store, h.blobs, jobs.DefaultOptions(), []byte("raw"))
	tests := []struct {
		name   string
		notice pipeline.ExportNotice
	}{
		{"unknown item", pipeline.ExportNotice{ItemID: "itm_missing"}},
		{"unfinished item", notice(pending, pendingItem)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			if err := h.pipe.Exporter(notifier, time.Hour).Handle(context.Background(), envelope(t, queue.Exports, tt.notice)); err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if len(notifier.Events()) != 0 {
				t.Fatalf("expected no events, got %d", len(notifier.Events()))
			}
		})
	}
}

func TestExporterAcknowledgesSinkFailures(t *testing.T) {
	h := newHarness(t)
	job, item := completedItem(t, h)
	notifier := &recordingNotifier{err: errors.New("broker offline")}

	if err := h.pipe.Exporter(notifier, time.Hour).Handle(context.Background(), envelope(t, queue.Exports, notice(job, item))); err != nil {
		t.Fatalf("sink failures must not abandon the message, got %v", err)
	}
	if len(notifier.Events()) != 1 {
		t.Fatalf("expected one publish attempt, got %d", len(notifier.Events()))
	}
}

func TestExporterHealthListsSinks(t *testing.T) {
	h := newHarness(t)
	health := h.pipe.Exporter(&recordingNotifier{}, 0).HealthCheck(context.Background())
	if !health.Ready || health.Detail != "sinks recorder" {
		t.Fatalf("unexpected health %+v", health)
	}
}
