package jobs

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"opal/internal/sqlitedb"
)

//go:embed schema.sql
var sqliteSchema string

// sqliteSchemaVersion is bumped whenever schema.sql changes.
const sqliteSchemaVersion = 1

const jobColumns = "id, tenant_id, status, remove_background, generate_scene, upscale, created_at, updated_at"

const itemColumns = "id, job_id, tenant_id, filename, status, raw_blob_path, output_blob_path, error_message, created_at, updated_at"

// SQLiteStore keeps job records in a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the records database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := sqlitedb.EnsureSchema(ctx, db, sqliteSchema, sqliteSchemaVersion, "delete "+path+" to recreate it"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateJob inserts a new job. Zero timestamps and status are filled in.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	if err := validateJob(job); err != nil {
		return err
	}
	stampJob(job)
	_, err := sqlitedb.Exec(ctx, s.db,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, string(job.Status),
		boolToInt(job.Options.RemoveBackground), boolToInt(job.Options.GenerateScene), boolToInt(job.Options.Upscale),
		sqlitedb.FormatTime(job.CreatedAt), sqlitedb.FormatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// AddItem inserts a new item under an existing job.
func (s *SQLiteStore) AddItem(ctx context.Context, item *Item) error {
	if err := validateItem(item); err != nil {
		return err
	}
	stampItem(item)
	_, err := sqlitedb.Exec(ctx, s.db,
		`INSERT INTO job_items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.JobID, item.TenantID, item.Filename, string(item.Status),
		nullableString(item.RawBlobPath), nullableString(item.OutputBlobPath), nullableString(item.ErrorMessage),
		sqlitedb.FormatTime(item.CreatedAt), sqlitedb.FormatTime(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetItem fetches an item by id.
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM job_items WHERE id = ?`, id)
	item, err := scanSQLiteItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems returns a job's items in creation order.
func (s *SQLiteStore) ListItems(ctx context.Context, jobID string) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM job_items WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListJobs returns the most recent jobs, optionally filtered by tenant.
func (s *SQLiteStore) ListJobs(ctx context.Context, tenantID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if strings.TrimSpace(tenantID) != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateItem applies a conditional single-row update.
func (s *SQLiteStore) UpdateItem(ctx context.Context, id string, update ItemUpdate) (bool, error) {
	if update.Status == "" {
		return false, errors.New("item update requires a status")
	}
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(update.Status), sqlitedb.FormatTime(time.Now())}
	if update.OutputBlobPath != nil {
		sets = append(sets, "output_blob_path = ?")
		args = append(args, nullableString(*update.OutputBlobPath))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, nullableString(TruncateError(*update.ErrorMessage)))
	}
	query := `UPDATE job_items SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)
	if len(update.From) > 0 {
		query += ` AND status IN (` + sqlitedb.Placeholders(len(update.From)) + `)`
		args = append(args, statusStrings(update.From)...)
	}

	res, err := sqlitedb.Exec(ctx, s.db, query, args...)
	if err != nil {
		return false, fmt.Errorf("update item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update item rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpdateJobStatus overwrites a job's aggregate status.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, status JobStatus) error {
	res, err := sqlitedb.Exec(ctx, s.db,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), sqlitedb.FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("update job %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(scanner rowScanner) (*Job, error) {
	var (
		job                   Job
		status                string
		bg, scene, upscale    int64
		createdRaw, updateRaw string
	)
	if err := scanner.Scan(&job.ID, &job.TenantID, &status, &bg, &scene, &upscale, &createdRaw, &updateRaw); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.Options = Options{RemoveBackground: bg != 0, GenerateScene: scene != 0, Upscale: upscale != 0}
	if created, err := sqlitedb.ParseTime(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := sqlitedb.ParseTime(updateRaw); err == nil {
		job.UpdatedAt = updated
	}
	return &job, nil
}

func scanSQLiteItem(scanner rowScanner) (*Item, error) {
	var (
		item                  Item
		status                string
		raw, output, errMsg   sql.NullString
		createdRaw, updateRaw string
	)
	if err := scanner.Scan(
		&item.ID, &item.JobID, &item.TenantID, &item.Filename, &status,
		&raw, &output, &errMsg, &createdRaw, &updateRaw,
	); err != nil {
		return nil, err
	}
	item.Status = ItemStatus(status)
	item.RawBlobPath = raw.String
	item.OutputBlobPath = output.String
	item.ErrorMessage = errMsg.String
	if created, err := sqlitedb.ParseTime(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := sqlitedb.ParseTime(updateRaw); err == nil {
		item.UpdatedAt = updated
	}
	return &item, nil
}

func stampJob(job *Job) {
	now := time.Now().UTC()
	if job.Status == "" {
		job.Status = JobCreated
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
}

func stampItem(item *Item) {
	now := time.Now().UTC()
	if item.Status == "" {
		item.Status = ItemCreated
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
