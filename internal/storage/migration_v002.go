package storage

import "database/sql"

// migrateV002 adds the chunk journal used for resume and the record of
// intervals the remote service reported as empty.
func migrateV002(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunk_state (
			id          TEXT PRIMARY KEY,
			run_id      TEXT NOT NULL,
			channels    TEXT NOT NULL,
			starttime   TEXT NOT NULL,
			endtime     TEXT NOT NULL,
			status      TEXT NOT NULL CHECK (status IN ('pending', 'in_progress', 'done', 'failed')),
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT '',
			error_kind  TEXT NOT NULL DEFAULT '',
			bytes       INTEGER NOT NULL DEFAULT 0,
			checksum    TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS nodata_data (
			network      TEXT NOT NULL,
			station      TEXT NOT NULL,
			location     TEXT NOT NULL DEFAULT '',
			channel      TEXT NOT NULL,
			starttime    TEXT NOT NULL,
			endtime      TEXT NOT NULL,
			attempted_at INTEGER NOT NULL,
			PRIMARY KEY (network, station, location, channel, starttime, endtime)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_chunk_status ON chunk_state(status, starttime)`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_run    ON chunk_state(run_id)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
