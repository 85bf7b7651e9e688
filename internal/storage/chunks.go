package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const chunkColumns = `id, run_id, channels, starttime, endtime, status, retry_count,
	last_error, error_kind, bytes, checksum, updated_at`

// PlanChunks journals chunks as pending under runID. A chunk already in the
// journal is reset to pending with a zero retry count, so a fresh run
// re-attempts work a previous run gave up on.
func (ix *Index) PlanChunks(ctx context.Context, runID string, chunks []Chunk) error {
	return ix.ReplaceChunks(ctx, runID, nil, chunks)
}

// ReplaceChunks closes the journal rows named by closed and journals added
// as pending, in one transaction. Either every remainder is journaled or
// the closed rows stay open.
func (ix *Index) ReplaceChunks(ctx context.Context, runID string, closed []string, added []Chunk) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return indexErr(err, "begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := ix.now().Unix()
	for _, id := range closed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE chunk_state
			SET status = 'done', bytes = 0, checksum = '', last_error = '', error_kind = '', updated_at = ?
			WHERE id = ?`, now, id,
		); err != nil {
			return indexErr(err, "close chunk %s", id)
		}
	}
	for _, c := range added {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunk_state (id, run_id, channels, starttime, endtime, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				run_id = excluded.run_id,
				status = 'pending',
				retry_count = 0,
				last_error = '',
				error_kind = '',
				updated_at = excluded.updated_at`,
			c.ID, runID, encodeChannels(c.Channels), formatTime(c.Start), formatTime(c.End), now, now,
		); err != nil {
			return indexErr(err, "journal chunk %s", c.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return indexErr(err, "commit chunk plan")
	}
	return nil
}

// MarkInProgress durably records that the chunk's fetch is about to start.
func (ix *Index) MarkInProgress(ctx context.Context, id string) error {
	return ix.setChunk(ctx, id, ChunkInProgress, -1, "", "")
}

// MarkRetry puts a chunk back to pending after a transient failure.
func (ix *Index) MarkRetry(ctx context.Context, id string, retries int, cause error) error {
	return ix.setChunk(ctx, id, ChunkPending, retries, errorText(cause), "")
}

// MarkFailed records a terminal failure for this run. Failed chunks are
// picked up again by resume.
func (ix *Index) MarkFailed(ctx context.Context, id string, retries int, kind string, cause error) error {
	return ix.setChunk(ctx, id, ChunkFailed, retries, errorText(cause), kind)
}

func (ix *Index) setChunk(ctx context.Context, id string, status ChunkStatus, retries int, lastErr, kind string) error {
	res, err := ix.db.ExecContext(ctx, `
		UPDATE chunk_state
		SET status = ?,
			retry_count = CASE WHEN ? < 0 THEN retry_count ELSE ? END,
			last_error = ?,
			error_kind = ?,
			updated_at = ?
		WHERE id = ?`,
		string(status), retries, retries, lastErr, kind, ix.now().Unix(), id,
	)
	if err != nil {
		return indexErr(err, "mark chunk %s %s", id, status)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return indexErr(errors.Wrapf(ErrNotFound, "chunk %s", id), "mark chunk %s %s", id, status)
	}
	return nil
}

// MarkChunkDone marks a chunk done in the same transaction as its index
// inserts.
func (t *Tx) MarkChunkDone(id string, bytes int64, checksum string) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE chunk_state
		SET status = 'done', bytes = ?, checksum = ?, last_error = '', error_kind = '', updated_at = ?
		WHERE id = ?`,
		bytes, checksum, t.ix.now().Unix(), id,
	)
	if err != nil {
		return indexErr(err, "mark chunk %s done", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return indexErr(errors.Wrapf(ErrNotFound, "chunk %s", id), "mark chunk done")
	}
	return nil
}

// Chunk returns one journal row, or ErrNotFound.
func (ix *Index) Chunk(ctx context.Context, id string) (*Chunk, error) {
	c, err := scanChunk(ix.getChunk.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrNotFound, "chunk %s", id)
		}
		return nil, indexErr(err, "get chunk %s", id)
	}
	return c, nil
}

// ChunksByStatus returns journaled chunks in any of statuses, in planner
// order: window start, then first channel.
func (ix *Index) ChunksByStatus(ctx context.Context, statuses ...ChunkStatus) ([]Chunk, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")

	rows, err := ix.db.QueryContext(ctx, `SELECT `+chunkColumns+`
		FROM chunk_state WHERE status IN (`+placeholders+`)
		ORDER BY starttime, channels`, args...)
	if err != nil {
		return nil, indexErr(err, "list chunks")
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, indexErr(err, "scan chunk")
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, indexErr(err, "list chunks")
	}
	return out, nil
}

// PruneChunks deletes done journal rows last touched before olderThan.
func (ix *Index) PruneChunks(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := ix.db.ExecContext(ctx,
		"DELETE FROM chunk_state WHERE status = 'done' AND updated_at < ?", olderThan.Unix())
	if err != nil {
		return 0, indexErr(err, "prune chunks")
	}
	return res.RowsAffected()
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var (
		c          Chunk
		channels   string
		start, end string
		status     string
		updated    int64
	)
	if err := row.Scan(&c.ID, &c.RunID, &channels, &start, &end, &status, &c.RetryCount,
		&c.LastError, &c.ErrorKind, &c.Bytes, &c.Checksum, &updated); err != nil {
		return nil, err
	}
	var err error
	if c.Channels, err = decodeChannels(channels); err != nil {
		return nil, err
	}
	if c.Start, err = parseTime(start); err != nil {
		return nil, err
	}
	if c.End, err = parseTime(end); err != nil {
		return nil, err
	}
	c.Status = ChunkStatus(status)
	c.UpdatedAt = timeFromUnix(updated)
	return &c, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
