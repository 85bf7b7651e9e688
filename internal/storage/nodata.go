package storage

import (
	"context"
	"time"

	"github.com/runnerr0/seedvault/internal/span"
)

// MarkNoData records that the remote service had nothing for id over s.
func (t *Tx) MarkNoData(id NSLC, s span.Span) error {
	if err := t.checkHeld(id); err != nil {
		return indexErr(err, "mark no data for %s", id)
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO nodata_data (network, station, location, channel, starttime, endtime, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(network, station, location, channel, starttime, endtime) DO UPDATE SET attempted_at = excluded.attempted_at`,
		id.Network, id.Station, id.Location, id.Channel,
		formatTime(s.Start), formatTime(s.End), t.ix.now().Unix(),
	)
	if err != nil {
		return indexErr(err, "mark no data for %s", id)
	}
	return nil
}

// NoData returns the empty-reply intervals of id intersecting s that were
// recorded at or after since.
func (ix *Index) NoData(ctx context.Context, id NSLC, s span.Span, since time.Time) ([]span.Span, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT starttime, endtime
		FROM nodata_data
		WHERE network = ? AND station = ? AND location = ? AND channel = ?
		  AND starttime < ? AND endtime > ? AND attempted_at >= ?
		ORDER BY starttime`,
		id.Network, id.Station, id.Location, id.Channel,
		formatTime(s.End), formatTime(s.Start), since.Unix(),
	)
	if err != nil {
		return nil, indexErr(err, "query no-data marks for %s", id)
	}
	defer rows.Close()

	var out []span.Span
	for rows.Next() {
		var start, end string
		if err := rows.Scan(&start, &end); err != nil {
			return nil, indexErr(err, "scan no-data mark")
		}
		st, err := parseTime(start)
		if err != nil {
			return nil, indexErr(err, "scan no-data mark")
		}
		en, err := parseTime(end)
		if err != nil {
			return nil, indexErr(err, "scan no-data mark")
		}
		out = append(out, span.New(st, en))
	}
	if err := rows.Err(); err != nil {
		return nil, indexErr(err, "query no-data marks for %s", id)
	}
	return out, nil
}

// PruneNoData deletes empty-reply marks recorded before olderThan.
func (ix *Index) PruneNoData(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := ix.db.ExecContext(ctx, "DELETE FROM nodata_data WHERE attempted_at < ?", olderThan.Unix())
	if err != nil {
		return 0, indexErr(err, "prune no-data marks")
	}
	return res.RowsAffected()
}
