package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/runnerr0/seedvault/internal/span"
)

// Query returns the segments of id intersecting s, ordered by start.
func (ix *Index) Query(ctx context.Context, id NSLC, s span.Span) ([]Segment, error) {
	rows, err := ix.querySegments.QueryContext(ctx,
		id.Network, id.Station, id.Location, id.Channel,
		formatTime(s.End), formatTime(s.Start),
	)
	if err != nil {
		return nil, indexErr(err, "query segments for %s", id)
	}
	segs, err := scanSegments(rows)
	if err != nil {
		return nil, indexErr(err, "query segments for %s", id)
	}
	return segs, nil
}

// Segments returns every segment stored for id.
func (ix *Index) Segments(ctx context.Context, id NSLC) ([]Segment, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT network, station, location, channel, starttime, endtime, importtime
		FROM archive_data
		WHERE network = ? AND station = ? AND location = ? AND channel = ?
		ORDER BY starttime`,
		id.Network, id.Station, id.Location, id.Channel,
	)
	if err != nil {
		return nil, indexErr(err, "list segments for %s", id)
	}
	segs, err := scanSegments(rows)
	if err != nil {
		return nil, indexErr(err, "list segments for %s", id)
	}
	return segs, nil
}

// Channels returns every NSLC with at least one segment, sorted.
func (ix *Index) Channels(ctx context.Context) ([]NSLC, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT DISTINCT network, station, location, channel
		FROM archive_data
		ORDER BY network, station, location, channel`)
	if err != nil {
		return nil, indexErr(err, "list channels")
	}
	defer rows.Close()

	var out []NSLC
	for rows.Next() {
		var id NSLC
		if err := rows.Scan(&id.Network, &id.Station, &id.Location, &id.Channel); err != nil {
			return nil, indexErr(err, "scan channel")
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, indexErr(err, "list channels")
	}
	SortNSLCs(out)
	return out, nil
}

// Insert records that [s.Start, s.End) of id is archived, merging it with
// every stored segment that overlaps it or lies within the gap tolerance.
// It returns the resulting merged segment.
func (ix *Index) Insert(ctx context.Context, id NSLC, s span.Span) (Segment, error) {
	var out Segment
	err := ix.Update(ctx, []NSLC{id}, func(tx *Tx) error {
		var err error
		out, err = tx.Insert(id, s)
		return err
	})
	return out, err
}

// Insert is Index.Insert inside the transaction.
func (t *Tx) Insert(id NSLC, s span.Span) (Segment, error) {
	if s.Empty() {
		return Segment{}, indexErr(errors.Newf("empty span %s", s), "insert %s", id)
	}
	if err := t.checkHeld(id); err != nil {
		return Segment{}, indexErr(err, "insert %s", id)
	}

	tol := t.ix.opts.GapTolerance
	merged := s
	seen := make(map[int64]Segment)

	// Absorbing one neighbour can bring another within tolerance, so widen
	// until the set stops growing.
	for {
		found, err := t.neighbours(id, span.New(merged.Start.Add(-tol), merged.End.Add(tol)))
		if err != nil {
			return Segment{}, indexErr(err, "find neighbours of %s", id)
		}
		grew := false
		for rowID, seg := range found {
			if _, ok := seen[rowID]; ok {
				continue
			}
			seen[rowID] = seg
			merged = merged.Union(seg.Span())
			grew = true
		}
		if !grew {
			break
		}
	}

	if len(seen) == 1 {
		for _, seg := range seen {
			if seg.Span().Contains(s) {
				return seg, nil
			}
		}
	}

	for rowID := range seen {
		if _, err := t.tx.ExecContext(t.ctx, "DELETE FROM archive_data WHERE id = ?", rowID); err != nil {
			return Segment{}, indexErr(err, "delete merged segment of %s", id)
		}
	}

	now := t.ix.now()
	if _, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO archive_data (network, station, location, channel, starttime, endtime, importtime)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.Network, id.Station, id.Location, id.Channel,
		formatTime(merged.Start), formatTime(merged.End), now.Unix(),
	); err != nil {
		return Segment{}, indexErr(err, "insert segment of %s", id)
	}

	return Segment{NSLC: id, Start: merged.Start.UTC(), End: merged.End.UTC(), ImportedAt: now.Truncate(time.Second)}, nil
}

// neighbours returns rows of id that touch the closed window w.
func (t *Tx) neighbours(id NSLC, w span.Span) (map[int64]Segment, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT id, starttime, endtime, importtime
		FROM archive_data
		WHERE network = ? AND station = ? AND location = ? AND channel = ?
		  AND starttime <= ? AND endtime >= ?`,
		id.Network, id.Station, id.Location, id.Channel,
		formatTime(w.End), formatTime(w.Start),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]Segment)
	for rows.Next() {
		var (
			rowID      int64
			start, end string
			imported   int64
		)
		if err := rows.Scan(&rowID, &start, &end, &imported); err != nil {
			return nil, err
		}
		seg := Segment{NSLC: id, ImportedAt: timeFromUnix(imported)}
		if seg.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if seg.End, err = parseTime(end); err != nil {
			return nil, err
		}
		out[rowID] = seg
	}
	return out, rows.Err()
}

// JoinSegments re-merges the stored segments of every channel using tol,
// repairing rows written under a smaller tolerance or by older tools. It
// returns how many rows were removed.
func (ix *Index) JoinSegments(ctx context.Context, tol time.Duration) (int64, error) {
	channels, err := ix.Channels(ctx)
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, id := range channels {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		id := id
		err := ix.Update(ctx, []NSLC{id}, func(tx *Tx) error {
			n, err := tx.join(id, tol)
			removed += n
			return err
		})
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (t *Tx) join(id NSLC, tol time.Duration) (int64, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT network, station, location, channel, starttime, endtime, importtime
		FROM archive_data
		WHERE network = ? AND station = ? AND location = ? AND channel = ?
		ORDER BY starttime`,
		id.Network, id.Station, id.Location, id.Channel,
	)
	if err != nil {
		return 0, indexErr(err, "load segments of %s", id)
	}
	segs, err := scanSegments(rows)
	if err != nil {
		return 0, indexErr(err, "load segments of %s", id)
	}

	spans := make([]span.Span, len(segs))
	for i, seg := range segs {
		spans[i] = seg.Span()
	}
	merged := span.Merge(spans, tol)
	if len(merged) == len(segs) {
		return 0, nil
	}

	if _, err := t.tx.ExecContext(t.ctx, `
		DELETE FROM archive_data
		WHERE network = ? AND station = ? AND location = ? AND channel = ?`,
		id.Network, id.Station, id.Location, id.Channel,
	); err != nil {
		return 0, indexErr(err, "clear segments of %s", id)
	}
	now := t.ix.now().Unix()
	for _, s := range merged {
		if _, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO archive_data (network, station, location, channel, starttime, endtime, importtime)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id.Network, id.Station, id.Location, id.Channel,
			formatTime(s.Start), formatTime(s.End), now,
		); err != nil {
			return 0, indexErr(err, "rewrite segments of %s", id)
		}
	}
	return int64(len(segs) - len(merged)), nil
}

func scanSegments(rows *sql.Rows) ([]Segment, error) {
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var (
			seg        Segment
			start, end string
			imported   int64
		)
		if err := rows.Scan(&seg.Network, &seg.Station, &seg.Location, &seg.Channel, &start, &end, &imported); err != nil {
			return nil, err
		}
		var err error
		if seg.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if seg.End, err = parseTime(end); err != nil {
			return nil, err
		}
		seg.ImportedAt = timeFromUnix(imported)
		out = append(out, seg)
	}
	return out, rows.Err()
}
