package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"opal/internal/jobs"
	"opal/internal/logging"
	"opal/internal/notifications"
	"opal/internal/queue"
	"opal/internal/stage"
)

// Exporter is the terminal consumer of the exports queue. It attaches a
// time-limited download URL to each finalized item and publishes it.
type Exporter struct {
	p           *Pipeline
	notifier    notifications.Service
	downloadTTL time.Duration
}

// Exporter returns the handler for the exports queue.
func (p *Pipeline) Exporter(notifier notifications.Service, downloadTTL time.Duration) *Exporter {
	if downloadTTL <= 0 {
		downloadTTL = 24 * time.Hour
	}
	return &Exporter{p: p, notifier: notifier, downloadTTL: downloadTTL}
}

// Name implements stage.Handler.
func (e *Exporter) Name() string { return string(StageExport) }

// Queue implements stage.Handler.
func (e *Exporter) Queue() string { return queue.Exports }

// Handle implements stage.Handler. Unresolvable jobs or items are logged
// and acknowledged; notification failures are logged and never retried.
func (e *Exporter) Handle(ctx context.Context, msg *queue.Message) error {
	notice, err := DecodeExport(msg.Body)
	if err != nil {
		return err
	}
	ctx = withItemContext(ctx, StageExport, notice.TenantID, notice.JobID, notice.ItemID, notice.CorrelationID)
	logger := logging.WithContext(ctx, e.p.logger)

	item, err := e.p.store.GetItem(ctx, notice.ItemID)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item == nil {
		logging.WarnWithContext(logger, "export for unknown item; dropping", "export_unresolved",
			logging.Impact("no export published"),
		)
		return nil
	}
	job, err := e.p.store.GetJob(ctx, item.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		logging.WarnWithContext(logger, "export for unknown job; dropping", "export_unresolved",
			logging.Impact("no export published"),
		)
		return nil
	}
	if item.Status != jobs.ItemCompleted || strings.TrimSpace(item.OutputBlobPath) == "" {
		logging.WarnWithContext(logger, "export for unfinished item; dropping", "export_unresolved",
			logging.String("item_status", string(item.Status)),
			logging.Impact("no export published"),
		)
		return nil
	}

	now := time.Now().UTC()
	event := notifications.Event{
		Kind:          notifications.EventItemExported,
		TenantID:      item.TenantID,
		JobID:         item.JobID,
		ItemID:        item.ID,
		CorrelationID: notice.CorrelationID,
		JobStatus:     string(job.Status),
		OutputPath:    item.OutputBlobPath,
		OccurredAt:    now,
	}
	url, err := e.p.blobs.ReadURL(ctx, e.p.containers.Outputs, item.OutputBlobPath, e.downloadTTL)
	if err != nil {
		logging.WarnWithContext(logger, "download grant failed; exporting without url", "export_grant_failed",
			logging.Error(err),
			logging.Impact("consumers must request their own download url"),
		)
	} else {
		event.DownloadURL = url
		event.URLExpiresAt = now.Add(e.downloadTTL)
	}

	if e.notifier != nil {
		if err := e.notifier.Publish(ctx, event); err != nil {
			logging.WarnWithContext(logger, "export notification failed", "export_notify_failed",
				logging.Error(err),
				logging.Impact("some sinks missed this export"),
				logging.Hint("check [exports] sink connectivity"),
			)
		}
	}
	logger.Info("item exported",
		logging.Event("item_exported"),
		logging.String("job_status", string(job.Status)),
		logging.String("output_blob_path", item.OutputBlobPath),
	)
	return nil
}

// HealthCheck implements stage.Handler.
func (e *Exporter) HealthCheck(ctx context.Context) stage.Health {
	if h, ok := e.p.checkStore(ctx, e.Name()); !ok {
		return h
	}
	if e.notifier == nil || len(e.notifier.Sinks()) == 0 {
		return stage.Health{Name: e.Name(), Ready: true, Detail: "no sinks configured"}
	}
	return stage.Health{Name: e.Name(), Ready: true, Detail: "sinks " + strings.Join(e.notifier.Sinks(), ",")}
}
