package api

import (
	"context"

	"opal/internal/jobs"
)

// JobReader abstracts the record lookups needed for API queries.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*jobs.Job, error)
	GetItem(ctx context.Context, id string) (*jobs.Item, error)
	ListItems(ctx context.Context, jobID string) ([]*jobs.Item, error)
	ListJobs(ctx context.Context, tenantID string, limit int) ([]*jobs.Job, error)
}

// JobService exposes read-only job operations returning API DTOs. The CLI
// and the HTTP server share it.
type JobService struct {
	store JobReader
}

// NewJobService constructs a JobService around the provided reader.
func NewJobService(store JobReader) *JobService {
	if store == nil {
		return nil
	}
	return &JobService{store: store}
}

// Describe fetches a job with its items. A missing job yields nil.
func (s *JobService) Describe(ctx context.Context, id string) (*JobResponse, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return &JobResponse{Job: FromJob(job, items), Items: FromItems(items)}, nil
}

// Item fetches a single item. A missing item yields nil.
func (s *JobService) Item(ctx context.Context, id string) (*Item, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	item, err := s.store.GetItem(ctx, id)
	if err != nil || item == nil {
		return nil, err
	}
	dto := FromItem(item)
	return &dto, nil
}

// List returns recent jobs, newest first, optionally for one tenant.
func (s *JobService) List(ctx context.Context, tenantID string, limit int) ([]Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	records, err := s.store.ListJobs(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(records))
	for _, job := range records {
		items, err := s.store.ListItems(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, FromJob(job, items))
	}
	return out, nil
}
