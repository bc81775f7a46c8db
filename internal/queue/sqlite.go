package queue

import (
	"cmp"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"opal/internal/sqlitedb"
)

//go:embed schema.sql
var sqliteSchema string

// sqliteSchemaVersion is bumped whenever schema.sql changes.
const sqliteSchemaVersion = 1

const (
	stateActive = "active"
	stateDead   = "dead"

	// ReasonMaxDelivery marks messages the transport dead-lettered itself.
	ReasonMaxDelivery = "MaxDeliveryCountExceeded"
)

// SQLiteOptions tunes the local transport.
type SQLiteOptions struct {
	LockDuration     time.Duration
	MaxDeliveryCount int
	PollInterval     time.Duration
}

// SQLiteTransport implements Transport on a local SQLite database.
type SQLiteTransport struct {
	db   *sql.DB
	path string
	opts SQLiteOptions
	now  func() time.Time
}

// OpenSQLite opens (creating if needed) the queue database at path.
func OpenSQLite(ctx context.Context, path string, opts SQLiteOptions) (*SQLiteTransport, error) {
	if opts.LockDuration <= 0 {
		opts.LockDuration = 60 * time.Second
	}
	if opts.MaxDeliveryCount <= 0 {
		opts.MaxDeliveryCount = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := sqlitedb.EnsureSchema(ctx, db, sqliteSchema, sqliteSchemaVersion, "delete "+path+" to recreate it"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteTransport{db: db, path: path, opts: opts, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (t *SQLiteTransport) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

// Ping verifies the database is reachable.
func (t *SQLiteTransport) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

// Send enqueues body on queue.
func (t *SQLiteTransport) Send(ctx context.Context, queue string, body []byte) error {
	if strings.TrimSpace(queue) == "" {
		return errors.New("queue name is required")
	}
	_, err := sqlitedb.Exec(ctx, t.db,
		`INSERT INTO messages (id, queue, body, enqueued_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), queue, body, sqlitedb.FormatTime(t.now()),
	)
	if err != nil {
		return fmt.Errorf("send to %s: %w", queue, err)
	}
	return nil
}

// Receive locks up to max visible messages, polling until at least one is
// available, wait elapses, or ctx is done. Messages that already reached
// the delivery limit are dead-lettered instead of delivered.
func (t *SQLiteTransport) Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := t.now().Add(wait)
	for {
		msgs, err := t.receiveOnce(ctx, queue, max)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		remaining := deadline.Sub(t.now())
		if remaining <= 0 {
			return nil, nil
		}
		delay := t.opts.PollInterval
		if remaining < delay {
			delay = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (t *SQLiteTransport) receiveOnce(ctx context.Context, queue string, max int) ([]*Message, error) {
	now := t.now()
	nowMillis := now.UnixMilli()

	if _, err := sqlitedb.Exec(ctx, t.db,
		`UPDATE messages
         SET state = ?, lock_token = NULL, dead_reason = ?, dead_description = ?, dead_at = ?
         WHERE queue = ? AND state = ? AND delivery_count >= ? AND locked_until <= ?`,
		stateDead, ReasonMaxDelivery,
		fmt.Sprintf("delivery count reached %d", t.opts.MaxDeliveryCount),
		sqlitedb.FormatTime(now),
		queue, stateActive, t.opts.MaxDeliveryCount, nowMillis,
	); err != nil {
		return nil, fmt.Errorf("expire %s deliveries: %w", queue, err)
	}

	token := uuid.NewString()
	lockedUntil := now.Add(t.opts.LockDuration)
	var msgs []*Message
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		msgs = msgs[:0]
		rows, err := t.db.QueryContext(ctx,
			`UPDATE messages
             SET delivery_count = delivery_count + 1, lock_token = ?, locked_until = ?
             WHERE seq IN (
                 SELECT seq FROM messages
                 WHERE queue = ? AND state = ? AND locked_until <= ?
                 ORDER BY seq LIMIT ?
             )
             RETURNING id, body, delivery_count, enqueued_at, seq`,
			token, lockedUntil.UnixMilli(), queue, stateActive, nowMillis, max,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		type ordered struct {
			seq int64
			msg *Message
		}
		var batch []ordered
		for rows.Next() {
			var (
				msg         Message
				enqueuedRaw string
				seq         int64
			)
			if err := rows.Scan(&msg.ID, &msg.Body, &msg.DeliveryCount, &enqueuedRaw, &seq); err != nil {
				return err
			}
			msg.Queue = queue
			msg.LockToken = token
			msg.LockedUntil = lockedUntil
			if enqueued, err := sqlitedb.ParseTime(enqueuedRaw); err == nil {
				msg.EnqueuedAt = enqueued
			}
			batch = append(batch, ordered{seq: seq, msg: &msg})
		}
		if err := rows.Err(); err != nil {
			return err
		}
		slices.SortFunc(batch, func(a, b ordered) int { return cmp.Compare(a.seq, b.seq) })
		for _, entry := range batch {
			msgs = append(msgs, entry.msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", queue, err)
	}
	return msgs, nil
}

// Complete removes a locked message permanently.
func (t *SQLiteTransport) Complete(ctx context.Context, msg *Message) error {
	return t.settle(ctx, msg, "complete",
		`DELETE FROM messages WHERE id = ? AND lock_token = ? AND state = ?`,
		msg.ID, msg.LockToken, stateActive)
}

// Abandon releases the lock so the message is immediately redeliverable.
func (t *SQLiteTransport) Abandon(ctx context.Context, msg *Message) error {
	return t.settle(ctx, msg, "abandon",
		`UPDATE messages SET lock_token = NULL, locked_until = 0 WHERE id = ? AND lock_token = ? AND state = ?`,
		msg.ID, msg.LockToken, stateActive)
}

// DeadLetter parks the message on the dead-letter side channel.
func (t *SQLiteTransport) DeadLetter(ctx context.Context, msg *Message, reason, description string) error {
	return t.settle(ctx, msg, "dead-letter",
		`UPDATE messages
         SET state = ?, lock_token = NULL, dead_reason = ?, dead_description = ?, dead_at = ?
         WHERE id = ? AND lock_token = ? AND state = ?`,
		stateDead, reason, description, sqlitedb.FormatTime(t.now()),
		msg.ID, msg.LockToken, stateActive)
}

// RenewLock extends the message lock by duration from now.
func (t *SQLiteTransport) RenewLock(ctx context.Context, msg *Message, duration time.Duration) error {
	if duration <= 0 {
		duration = t.opts.LockDuration
	}
	lockedUntil := t.now().Add(duration)
	if err := t.settle(ctx, msg, "renew lock",
		`UPDATE messages SET locked_until = ? WHERE id = ? AND lock_token = ? AND state = ?`,
		lockedUntil.UnixMilli(), msg.ID, msg.LockToken, stateActive); err != nil {
		return err
	}
	msg.LockedUntil = lockedUntil
	return nil
}

func (t *SQLiteTransport) settle(ctx context.Context, msg *Message, action, query string, args ...any) error {
	if msg == nil || msg.LockToken == "" {
		return fmt.Errorf("%s: %w", action, ErrLockLost)
	}
	res, err := sqlitedb.Exec(ctx, t.db, query, args...)
	if err != nil {
		return fmt.Errorf("%s message %s: %w", action, msg.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s message %s: %w", action, msg.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s message %s: %w", action, msg.ID, ErrLockLost)
	}
	return nil
}

// Stats reports per-queue counts for every known queue.
func (t *SQLiteTransport) Stats(ctx context.Context) ([]Stats, error) {
	nowMillis := t.now().UnixMilli()
	rows, err := t.db.QueryContext(ctx,
		`SELECT queue,
                SUM(CASE WHEN state = ? AND locked_until <= ? THEN 1 ELSE 0 END),
                SUM(CASE WHEN state = ? AND locked_until > ? THEN 1 ELSE 0 END),
                SUM(CASE WHEN state = ? THEN 1 ELSE 0 END)
         FROM messages GROUP BY queue`,
		stateActive, nowMillis, stateActive, nowMillis, stateDead,
	)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]Stats)
	for rows.Next() {
		var s Stats
		if err := rows.Scan(&s.Queue, &s.Active, &s.Locked, &s.Dead); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		counts[s.Queue] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderStats(counts), nil
}

// DeadLetters lists dead-lettered messages, newest first. An empty queue
// name lists every queue.
func (t *SQLiteTransport) DeadLetters(ctx context.Context, queue string, limit int) ([]DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, queue, body, delivery_count, dead_reason, dead_description, dead_at
              FROM messages WHERE state = ?`
	args := []any{stateDead}
	if queue != "" {
		query += ` AND queue = ?`
		args = append(args, queue)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var records []DeadLetterRecord
	for rows.Next() {
		var (
			rec                     DeadLetterRecord
			reason, desc, deadAtRaw sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Queue, &rec.Body, &rec.DeliveryCount, &reason, &desc, &deadAtRaw); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		rec.Reason = reason.String
		rec.Description = desc.String
		if deadAt, err := sqlitedb.ParseTime(deadAtRaw.String); err == nil {
			rec.DeadAt = deadAt
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PurgeDead deletes dead-lettered messages. An empty queue name purges all.
func (t *SQLiteTransport) PurgeDead(ctx context.Context, queue string) (int64, error) {
	query := `DELETE FROM messages WHERE state = ?`
	args := []any{stateDead}
	if queue != "" {
		query += ` AND queue = ?`
		args = append(args, queue)
	}
	res, err := sqlitedb.Exec(ctx, t.db, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge dead letters: %w", err)
	}
	return res.RowsAffected()
}

func orderStats(counts map[string]Stats) []Stats {
	out := make([]Stats, 0, len(counts)+len(Names()))
	for _, name := range Names() {
		s := counts[name]
		s.Queue = name
		out = append(out, s)
		delete(counts, name)
	}
	for _, name := range slices.Sorted(maps.Keys(counts)) {
		s := counts[name]
		s.Queue = name
		out = append(out, s)
	}
	return out
}
