package storage

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationRunner_FreshDB(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runner := NewMigrationRunner(db)
	require.NoError(t, runner.Run(ctx))

	for _, table := range []string{"archive_data", "arrival_data", "chunk_state", "nodata_data", "schema_migrations"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}

	for _, idx := range []string{"idx_archive_nslc_start", "idx_archive_nslc_end", "idx_arrival_station", "idx_chunk_status", "idx_chunk_run"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx,
		).Scan(&name)
		require.NoError(t, err, "index %s should exist", idx)
	}
}

func TestMigrationRunner_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runner := NewMigrationRunner(db)

	require.NoError(t, runner.Run(ctx))
	require.NoError(t, runner.Run(ctx))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count, "each migration recorded exactly once")

	v, err := runner.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMigrationRunner_ArrivalPrimaryKey(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run(context.Background()))

	insert := `INSERT INTO arrival_data (resource_id, s_netcode, s_stacode, model, importtime) VALUES (?, ?, ?, ?, 0)`
	_, err := db.Exec(insert, "ev1", "IU", "NWAO", "iasp91")
	require.NoError(t, err)

	// Same pair under another model coexists.
	_, err = db.Exec(insert, "ev1", "IU", "NWAO", "ak135")
	require.NoError(t, err)

	_, err = db.Exec(insert, "ev1", "IU", "NWAO", "iasp91")
	assert.Error(t, err, "duplicate key must be rejected")
}

func TestMigrationRunner_ChunkStatusCheck(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run(context.Background()))

	_, err := db.Exec(`INSERT INTO chunk_state (id, run_id, channels, starttime, endtime, status, created_at, updated_at)
		VALUES ('c1', 'r1', 'IU.NWAO.00.BHZ', '', '', 'exploded', 0, 0)`)
	assert.Error(t, err)
}

func TestMigrationRunner_RefusesNewerSchema(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run(ctx))

	_, err := db.Exec("INSERT INTO schema_migrations (version, name, applied_at) VALUES (99, 'future', 0)")
	require.NoError(t, err)

	err = NewMigrationRunner(db).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}

func TestMigrationRunner_FreshVersionIsZero(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	r := NewMigrationRunner(db)
	_, err := db.Exec("CREATE TABLE schema_migrations (version INTEGER PRIMARY KEY, name TEXT NOT NULL, applied_at INTEGER NOT NULL)")
	require.NoError(t, err)

	v, err := r.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)
}
