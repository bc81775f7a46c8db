// Package jobs models tenant jobs and their items and persists them.
//
// Item status moves created/uploaded -> processing -> completed|failed. Every
// mutation is a single-row conditional update (ItemUpdate.From) so concurrent
// or redelivered stage attempts cannot regress a terminal item. Job status is
// never written by stages directly; DeriveStatus recomputes it from the items.
//
// SQLiteStore backs local deployments; PostgresStore (pgx + goose migrations)
// backs shared ones. Both satisfy Store.
package jobs
