package pipeline

import (
	"context"
	"errors"
	"fmt"

	"opal/internal/jobs"
	"opal/internal/logging"
)

// Aggregate recomputes a job's status from its items and persists it when
// it changed. It returns the resulting status; a vanished job is logged and
// reported as an empty status.
func (p *Pipeline) Aggregate(ctx context.Context, jobID string) (jobs.JobStatus, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job == nil {
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "job vanished before aggregation", "job_missing",
			logging.String(logging.FieldJobID, jobID),
			logging.Impact("job status not updated"),
		)
		return "", nil
	}
	items, err := p.store.ListItems(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("list items for %s: %w", jobID, err)
	}
	statuses := make([]jobs.ItemStatus, 0, len(items))
	for _, item := range items {
		statuses = append(statuses, item.Status)
	}
	derived, ok := jobs.DeriveStatus(statuses)
	if !ok || derived == job.Status {
		return job.Status, nil
	}
	if err := p.store.UpdateJobStatus(ctx, jobID, derived); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("update job %s status: %w", jobID, err)
	}
	logging.WithContext(ctx, p.logger).Info("job status changed",
		logging.Event("job_status_changed"),
		logging.String("from", string(job.Status)),
		logging.String("to", string(derived)),
	)
	return derived, nil
}
