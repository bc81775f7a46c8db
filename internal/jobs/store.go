package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"opal/internal/config"
)

// ErrNotFound is returned by mutations that target a missing record.
var ErrNotFound = errors.New("record not found")

// Store persists jobs and items. Getters return (nil, nil) for absent
// records. UpdateItem is a single-row conditional update and reports
// whether it applied.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	AddItem(ctx context.Context, item *Item) error
	GetJob(ctx context.Context, id string) (*Job, error)
	GetItem(ctx context.Context, id string) (*Item, error)
	ListItems(ctx context.Context, jobID string) ([]*Item, error)
	ListJobs(ctx context.Context, tenantID string, limit int) ([]*Job, error)
	UpdateItem(ctx context.Context, id string, update ItemUpdate) (bool, error)
	UpdateJobStatus(ctx context.Context, id string, status JobStatus) error
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the record store selected by configuration.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		return OpenPostgres(ctx, cfg.Store.DatabaseURL)
	case config.StoreBackendSQLite, "":
		return OpenSQLite(ctx, cfg.RecordsDatabasePath())
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// ResetFailed moves every failed item of a job back to uploaded and clears
// its error so the coordinator will claim it again. It returns the items
// that were reset.
func ResetFailed(ctx context.Context, store Store, jobID string) ([]*Item, error) {
	items, err := store.ListItems(ctx, jobID)
	if err != nil {
		return nil, err
	}
	empty := ""
	reset := make([]*Item, 0, len(items))
	for _, item := range items {
		if item.Status != ItemFailed {
			continue
		}
		applied, err := store.UpdateItem(ctx, item.ID, ItemUpdate{
			From:         []ItemStatus{ItemFailed},
			Status:       ItemUploaded,
			ErrorMessage: &empty,
		})
		if err != nil {
			return reset, fmt.Errorf("reset item %s: %w", item.ID, err)
		}
		if applied {
			item.Status = ItemUploaded
			item.ErrorMessage = ""
			reset = append(reset, item)
		}
	}
	if len(reset) > 0 {
		if err := store.UpdateJobStatus(ctx, jobID, JobProcessing); err != nil {
			return reset, err
		}
	}
	return reset, nil
}

func validateJob(job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if strings.TrimSpace(job.ID) == "" || strings.TrimSpace(job.TenantID) == "" {
		return errors.New("job id and tenant id are required")
	}
	return nil
}

func validateItem(item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	if strings.TrimSpace(item.ID) == "" || strings.TrimSpace(item.JobID) == "" || strings.TrimSpace(item.TenantID) == "" {
		return errors.New("item id, job id and tenant id are required")
	}
	return nil
}

func statusStrings(statuses []ItemStatus) []any {
	out := make([]any, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}
