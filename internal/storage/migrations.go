package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrSchemaTooNew is returned when the index was written by a newer
// release whose migrations this binary does not know.
var ErrSchemaTooNew = errors.New("index schema is newer than this binary")

type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

// schema lists every migration in version order. Append only.
var schema = []migration{
	{1, "archive_and_arrivals", migrateV001},
	{2, "chunk_journal_and_nodata", migrateV002},
}

// MigrationRunner brings an index database up to the current schema.
type MigrationRunner struct {
	db         *sql.DB
	migrations []migration
}

func NewMigrationRunner(db *sql.DB) *MigrationRunner {
	return &MigrationRunner{db: db, migrations: schema}
}

// Run applies every migration not yet recorded in schema_migrations, each
// in its own transaction.
func (r *MigrationRunner) Run(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	applied, err := r.applied(ctx)
	if err != nil {
		return err
	}
	latest := r.migrations[len(r.migrations)-1].version
	for v := range applied {
		if v > latest {
			return errors.Wrapf(ErrSchemaTooNew, "found version %d, know up to %d", v, latest)
		}
	}

	for _, m := range r.migrations {
		if applied[m.version] {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return errors.Wrapf(err, "migration %d (%s)", m.version, m.name)
		}
	}
	return nil
}

// Version returns the highest applied migration version, 0 for a fresh
// database.
func (r *MigrationRunner) Version(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, errors.Wrap(err, "read schema version")
	}
	return int(v.Int64), nil
}

func (r *MigrationRunner) applied(ctx context.Context) (map[int]bool, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(err, "list applied migrations")
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan migration version")
		}
		out[v] = true
	}
	return out, errors.Wrap(rows.Err(), "list applied migrations")
}

func (r *MigrationRunner) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := m.apply(tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.version, m.name, time.Now().Unix(),
	); err != nil {
		return errors.Wrap(err, "record")
	}
	return errors.Wrap(tx.Commit(), "commit")
}
