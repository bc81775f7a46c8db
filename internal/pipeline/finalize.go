package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"opal/internal/blob"
	"opal/internal/jobs"
	"opal/internal/logging"
	"opal/internal/queue"
)

// finalize writes the final output, completes the item, recomputes the job,
// and emits the export notice. With nil data the best available input is
// the result. Re-running it writes another output blob and re-asserts
// completion.
func (p *Pipeline) finalize(ctx context.Context, m Message, data []byte) error {
	logger := logging.WithContext(ctx, p.logger)
	_, fromRaw := m.BestInput()
	passthrough := data == nil && fromRaw
	if data == nil {
		var err error
		if data, err = p.fetch(ctx, m); err != nil {
			return err
		}
	}

	outputPath := blob.OutputPath(m.TenantID, m.JobID, m.ItemID, outputName(m.RawBlobPath, passthrough))
	if err := p.blobs.Put(ctx, p.containers.Outputs, outputPath, data); err != nil {
		return fmt.Errorf("store output: %w", err)
	}

	applied, err := p.store.UpdateItem(ctx, m.ItemID, jobs.Completed(outputPath))
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	if !applied {
		logging.WarnWithContext(logger, "item vanished during finalization", "item_missing",
			logging.String("output_blob_path", outputPath),
			logging.Impact("output stored but not recorded; no export sent"),
		)
		return nil
	}

	status, err := p.settle(ctx, m.notice())
	if err != nil {
		return err
	}

	logger.Info("item finalized",
		logging.Event("item_finalized"),
		logging.String("output_blob_path", outputPath),
		logging.Bool("passthrough", passthrough),
		logging.String("job_status", string(status)),
		logging.Int("output_bytes", len(data)),
	)
	return nil
}

// settle recomputes the job and queues the export notice for a completed
// item. Both steps are safe to repeat.
func (p *Pipeline) settle(ctx context.Context, notice ExportNotice) (jobs.JobStatus, error) {
	status, err := p.Aggregate(ctx, notice.JobID)
	if err != nil {
		return "", err
	}
	if err := queue.SendJSON(ctx, p.transport, queue.Exports, notice); err != nil {
		return "", fmt.Errorf("emit export notice: %w", err)
	}
	return status, nil
}

// completedDelivery handles a message for an item that already completed.
// The job is always recomputed. A redelivery may follow a finalization that
// failed after completing the item, so it also re-sends the export notice.
func (p *Pipeline) completedDelivery(ctx context.Context, msg *queue.Message, item *jobs.Item, correlationID string) error {
	logger := logging.WithContext(ctx, p.logger)
	if msg.DeliveryCount <= 1 {
		logger.Info("item already completed; message ignored",
			logging.Event("duplicate_delivery"),
		)
		_, err := p.Aggregate(ctx, item.JobID)
		return err
	}

	notice := ExportNotice{
		TenantID:      item.TenantID,
		JobID:         item.JobID,
		ItemID:        item.ID,
		CorrelationID: correlationID,
	}
	status, err := p.settle(ctx, notice)
	if err != nil {
		return err
	}
	logger.Info("completed item redelivered; finalization re-asserted",
		logging.Event("finalize_resumed"),
		logging.Deliveries(msg.DeliveryCount),
		logging.String("job_status", string(status)),
	)
	return nil
}

// outputName keeps the upload's name. Transformed results are PNG.
func outputName(rawPath string, passthrough bool) string {
	name := path.Base(rawPath)
	if passthrough {
		return name
	}
	return strings.TrimSuffix(name, path.Ext(name)) + ".png"
}
