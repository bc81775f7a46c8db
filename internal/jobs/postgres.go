package jobs

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var postgresMigrations embed.FS

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// PostgresStore keeps job records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	const op = "jobs.OpenPostgres"

	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s: database url is empty", op)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = runMigrations(ctx, db)
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &PostgresStore{pool: pool}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(postgresMigrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil && !errors.Is(err, goose.ErrNoNextVersion) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateJob inserts a new job.
func (s *PostgresStore) CreateJob(ctx context.Context, job *Job) error {
	if err := validateJob(job); err != nil {
		return err
	}
	stampJob(job)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.TenantID, string(job.Status),
		job.Options.RemoveBackground, job.Options.GenerateScene, job.Options.Upscale,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// AddItem inserts a new item under an existing job.
func (s *PostgresStore) AddItem(ctx context.Context, item *Item) error {
	if err := validateItem(item); err != nil {
		return err
	}
	stampItem(item)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_items (`+itemColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.JobID, item.TenantID, item.Filename, string(item.Status),
		nullableString(item.RawBlobPath), nullableString(item.OutputBlobPath), nullableString(item.ErrorMessage),
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetItem fetches an item by id.
func (s *PostgresStore) GetItem(ctx context.Context, id string) (*Item, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM job_items WHERE id = $1`, id)
	item, err := scanPostgresItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems returns a job's items in creation order.
func (s *PostgresStore) ListItems(ctx context.Context, jobID string) ([]*Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM job_items WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanPostgresItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListJobs returns the most recent jobs, optionally filtered by tenant.
func (s *PostgresStore) ListJobs(ctx context.Context, tenantID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if strings.TrimSpace(tenantID) != "" {
		query += ` WHERE tenant_id = $1`
		args = append(args, tenantID)
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanPostgresJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateItem applies a conditional single-row update.
func (s *PostgresStore) UpdateItem(ctx context.Context, id string, update ItemUpdate) (bool, error) {
	query, args, err := itemUpdateQuery(id, update, time.Now().UTC())
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// itemUpdateQuery builds the UPDATE for an ItemUpdate. A non-empty From
// becomes a status = ANY guard so the claim stays a single statement.
func itemUpdateQuery(id string, update ItemUpdate, now time.Time) (string, []any, error) {
	if update.Status == "" {
		return "", nil, errors.New("item update requires a status")
	}
	args := []any{string(update.Status), now}
	sets := []string{"status = $1", "updated_at = $2"}
	if update.OutputBlobPath != nil {
		args = append(args, nullableString(*update.OutputBlobPath))
		sets = append(sets, fmt.Sprintf("output_blob_path = $%d", len(args)))
	}
	if update.ErrorMessage != nil {
		args = append(args, nullableString(TruncateError(*update.ErrorMessage)))
		sets = append(sets, fmt.Sprintf("error_message = $%d", len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE job_items SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	if len(update.From) > 0 {
		args = append(args, statusTexts(update.From))
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	return query, args, nil
}

// UpdateJobStatus overwrites a job's aggregate status.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id string, status JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanPostgresJob(row pgx.Row) (*Job, error) {
	var (
		job    Job
		status string
	)
	if err := row.Scan(
		&job.ID, &job.TenantID, &status,
		&job.Options.RemoveBackground, &job.Options.GenerateScene, &job.Options.Upscale,
		&job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	return &job, nil
}

func scanPostgresItem(row pgx.Row) (*Item, error) {
	var (
		item                Item
		status              string
		raw, output, errMsg *string
	)
	if err := row.Scan(
		&item.ID, &item.JobID, &item.TenantID, &item.Filename, &status,
		&raw, &output, &errMsg, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	item.Status = ItemStatus(status)
	item.RawBlobPath = deref(raw)
	item.OutputBlobPath = deref(output)
	item.ErrorMessage = deref(errMsg)
	return &item, nil
}

func statusTexts(statuses []ItemStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
