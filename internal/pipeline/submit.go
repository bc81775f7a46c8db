package pipeline

import (
	"context"
	"fmt"
	"strings"

	"opal/internal/blob"
	"opal/internal/jobs"
	"opal/internal/logging"
	"opal/internal/queue"
	"opal/internal/services"
)

// Upload is one raw image handed to Submit.
type Upload struct {
	Filename string
	Data     []byte
}

// Submission describes a new job.
type Submission struct {
	TenantID      string
	Options       jobs.Options
	Uploads       []Upload
	CorrelationID string
}

// Receipt reports what Submit created.
type Receipt struct {
	Job           *jobs.Job
	Items         []*jobs.Item
	CorrelationID string
}

// Submit creates a job, stores each upload's raw bytes before recording
// its item as uploaded, and enqueues a coordinator request per item.
// Nothing is enqueued unless every upload succeeded; a partial submission
// leaves the job failed.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	tenantID := strings.TrimSpace(sub.TenantID)
	if tenantID == "" {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate", "tenant id is required", nil)
	}
	if len(sub.Uploads) == 0 {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate", "at least one image is required", nil)
	}
	for i, upload := range sub.Uploads {
		if strings.TrimSpace(upload.Filename) == "" || len(upload.Data) == 0 {
			return nil, services.Wrap(services.ErrValidation, "submit", "validate",
				fmt.Sprintf("upload %d needs a filename and data", i+1), nil)
		}
	}
	correlationID := strings.TrimSpace(sub.CorrelationID)
	if correlationID == "" {
		correlationID = jobs.NewCorrelationID()
	}

	job := &jobs.Job{ID: jobs.NewJobID(), TenantID: tenantID, Status: jobs.JobCreated, Options: sub.Options}
	ctx = services.WithTenantID(ctx, tenantID)
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithCorrelationID(ctx, correlationID)
	logger := logging.WithContext(ctx, p.logger)

	if err := p.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	items := make([]*jobs.Item, 0, len(sub.Uploads))
	for _, upload := range sub.Uploads {
		item := &jobs.Item{
			ID:       jobs.NewItemID(),
			JobID:    job.ID,
			TenantID: tenantID,
			Filename: upload.Filename,
			Status:   jobs.ItemUploaded,
		}
		item.RawBlobPath = blob.RawPath(tenantID, job.ID, item.ID, upload.Filename)
		if err := p.blobs.Put(ctx, p.containers.Raw, item.RawBlobPath, upload.Data); err != nil {
			p.abandonSubmission(ctx, job.ID)
			return nil, fmt.Errorf("upload %s: %w", upload.Filename, err)
		}
		if err := p.store.AddItem(ctx, item); err != nil {
			p.abandonSubmission(ctx, job.ID)
			return nil, fmt.Errorf("add item: %w", err)
		}
		items = append(items, item)
	}

	if err := p.enqueue(ctx, job, items, correlationID); err != nil {
		return nil, err
	}
	logger.Info("job submitted",
		logging.Event("job_submitted"),
		logging.Int("items", len(items)),
	)
	return &Receipt{Job: job, Items: items, CorrelationID: correlationID}, nil
}

// Retry moves a job's failed items back to uploaded and enqueues them for
// the coordinator again. It returns the items that were reset.
func (p *Pipeline) Retry(ctx context.Context, jobID string) ([]*jobs.Item, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "retry", "lookup", "job "+jobID+" not found", nil)
	}
	reset, err := jobs.ResetFailed(ctx, p.store, job.ID)
	if err != nil {
		return reset, err
	}
	if len(reset) == 0 {
		return nil, nil
	}
	if err := p.enqueue(ctx, job, reset, jobs.NewCorrelationID()); err != nil {
		return reset, err
	}
	return reset, nil
}

func (p *Pipeline) abandonSubmission(ctx context.Context, jobID string) {
	if err := p.store.UpdateJobStatus(ctx, jobID, jobs.JobFailed); err != nil {
		logging.WithContext(ctx, p.logger).Warn("failed to mark abandoned submission",
			logging.Event("submission_abandon_failed"),
			logging.Error(err),
		)
	}
}

func (p *Pipeline) enqueue(ctx context.Context, job *jobs.Job, items []*jobs.Item, correlationID string) error {
	for _, item := range items {
		req := Request{TenantID: job.TenantID, JobID: job.ID, ItemID: item.ID, CorrelationID: correlationID}
		if err := queue.SendJSON(ctx, p.transport, queue.Jobs, req); err != nil {
			return fmt.Errorf("enqueue item %s: %w", item.ID, err)
		}
	}
	return nil
}
