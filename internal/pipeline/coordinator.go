package pipeline

import (
	"context"
	"fmt"

	"opal/internal/jobs"
	"opal/internal/logging"
	"opal/internal/queue"
	"opal/internal/stage"
)

// MissingRawPath is recorded on items submitted without an upload.
const MissingRawPath = "missing raw blob path"

// Coordinator claims submitted items and starts their journey.
type Coordinator struct {
	p *Pipeline
}

// Coordinator returns the handler for the jobs queue.
func (p *Pipeline) Coordinator() *Coordinator {
	return &Coordinator{p: p}
}

// Name implements stage.Handler.
func (c *Coordinator) Name() string { return string(StageCoordinator) }

// Queue implements stage.Handler.
func (c *Coordinator) Queue() string { return queue.Jobs }

// Handle implements stage.Handler.
func (c *Coordinator) Handle(ctx context.Context, msg *queue.Message) error {
	req, err := DecodeRequest(msg.Body)
	if err != nil {
		return err
	}
	ctx = withItemContext(ctx, StageCoordinator, req.TenantID, req.JobID, req.ItemID, req.CorrelationID)
	logger := logging.WithContext(ctx, c.p.logger)

	item, err := c.p.store.GetItem(ctx, req.ItemID)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item == nil {
		logging.WarnWithContext(logger, "item not found; dropping request", "item_missing",
			logging.Impact("request discarded"),
			logging.Hint("the item was deleted or never created"),
		)
		return nil
	}
	ctx = withItemContext(ctx, StageCoordinator, item.TenantID, item.JobID, item.ID, req.CorrelationID)
	logger = logging.WithContext(ctx, c.p.logger)

	if item.Status == jobs.ItemCompleted {
		return c.p.completedDelivery(ctx, msg, item, req.CorrelationID)
	}
	if item.Status == jobs.ItemProcessing {
		logger.Info("duplicate request ignored",
			logging.Event("duplicate_request"),
			logging.String("item_status", string(item.Status)),
		)
		return nil
	}
	if item.RawBlobPath == "" {
		logger.Warn("item has no raw upload",
			logging.Event("missing_raw_blob"),
			logging.Hint("upload the image before enqueueing the item"),
		)
		c.p.markFailed(ctx, item.ID, item.JobID, MissingRawPath)
		return nil
	}

	empty := ""
	claimed, err := c.p.store.UpdateItem(ctx, item.ID, jobs.ItemUpdate{
		From:         jobs.Claimable,
		Status:       jobs.ItemProcessing,
		ErrorMessage: &empty,
	})
	if err != nil {
		return fmt.Errorf("claim item: %w", err)
	}
	if !claimed {
		logger.Info("item not claimable; request ignored",
			logging.Event("claim_skipped"),
			logging.String("item_status", string(item.Status)),
		)
		return nil
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = jobs.NewCorrelationID()
		ctx = withItemContext(ctx, StageCoordinator, item.TenantID, item.JobID, item.ID, correlationID)
		logger = logging.WithContext(ctx, c.p.logger)
	}
	opts, err := c.options(ctx, req, item)
	if err != nil {
		c.p.releaseClaim(ctx, item.ID, err)
		return err
	}

	if _, err := c.p.Aggregate(ctx, item.JobID); err != nil {
		logger.Warn("job aggregation after claim failed",
			logging.Event("aggregate_failed"),
			logging.Error(err),
		)
	}

	m := Message{
		JobID:             item.JobID,
		ItemID:            item.ID,
		TenantID:          item.TenantID,
		CorrelationID:     correlationID,
		RawBlobPath:       item.RawBlobPath,
		ProcessingOptions: opts,
	}
	logger.Info("item claimed",
		logging.Event("item_claimed"),
		logging.Bool("remove_background", opts.RemoveBackground),
		logging.Bool("generate_scene", opts.GenerateScene),
		logging.Bool("upscale", opts.Upscale),
	)
	if err := c.p.route(ctx, StageCoordinator, m, nil); err != nil {
		c.p.releaseClaim(ctx, item.ID, err)
		return err
	}
	return nil
}

// options prefers the request snapshot, then the job's stored options,
// then every stage enabled.
func (c *Coordinator) options(ctx context.Context, req Request, item *jobs.Item) (jobs.Options, error) {
	if req.Options != nil {
		return *req.Options, nil
	}
	job, err := c.p.store.GetJob(ctx, item.JobID)
	if err != nil {
		return jobs.Options{}, fmt.Errorf("load job options: %w", err)
	}
	if job == nil {
		return jobs.DefaultOptions(), nil
	}
	return job.Options, nil
}

// HealthCheck implements stage.Handler.
func (c *Coordinator) HealthCheck(ctx context.Context) stage.Health {
	if h, ok := c.p.checkStore(ctx, c.Name()); !ok {
		return h
	}
	return stage.Healthy(c.Name())
}
