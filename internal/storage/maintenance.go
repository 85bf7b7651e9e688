package storage

import (
	"context"
	"database/sql"
	"os"
)

// ChannelCount pairs a channel with its segment count.
type ChannelCount struct {
	NSLC  NSLC
	Count int64
}

// Stats returns aggregate statistics about the index.
func (ix *Index) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Chunks: make(map[ChunkStatus]int64)}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM archive_data", &stats.Segments},
		{"SELECT COUNT(*) FROM (SELECT DISTINCT network, station, location, channel FROM archive_data)", &stats.Channels},
		{"SELECT COUNT(*) FROM arrival_data", &stats.Arrivals},
		{"SELECT COUNT(*) FROM nodata_data", &stats.NoDataMarks},
	}
	for _, c := range counts {
		if err := ix.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, indexErr(err, "stats")
		}
	}

	// Time range (handle empty DB)
	if stats.Segments > 0 {
		var earliest, latest string
		if err := ix.db.QueryRowContext(ctx, "SELECT MIN(starttime), MAX(endtime) FROM archive_data").Scan(&earliest, &latest); err != nil {
			return nil, indexErr(err, "archive time range")
		}
		stats.EarliestStart, _ = parseTime(earliest)
		stats.LatestEnd, _ = parseTime(latest)
	}

	rows, err := ix.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM chunk_state GROUP BY status")
	if err != nil {
		return nil, indexErr(err, "chunk counts")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, indexErr(err, "chunk counts")
		}
		stats.Chunks[ChunkStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, indexErr(err, "chunk counts")
	}
	return stats, nil
}

// TopChannels returns the channels with the most segments, i.e. the most
// fragmented coverage, up to limit.
func (ix *Index) TopChannels(ctx context.Context, limit int) ([]ChannelCount, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT network, station, location, channel, COUNT(*) AS cnt
		FROM archive_data
		GROUP BY network, station, location, channel
		ORDER BY cnt DESC, network, station, location, channel
		LIMIT ?`, limit)
	if err != nil {
		return nil, indexErr(err, "top channels")
	}
	defer rows.Close()

	var out []ChannelCount
	for rows.Next() {
		var cc ChannelCount
		if err := rows.Scan(&cc.NSLC.Network, &cc.NSLC.Station, &cc.NSLC.Location, &cc.NSLC.Channel, &cc.Count); err != nil {
			return nil, indexErr(err, "top channels")
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

// Vacuum rebuilds the database file.
func (ix *Index) Vacuum(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, "VACUUM"); err != nil {
		return indexErr(err, "vacuum")
	}
	return nil
}

// Analyze refreshes query planner statistics and rebuilds indexes.
func (ix *Index) Analyze(ctx context.Context) error {
	for _, stmt := range []string{"REINDEX", "ANALYZE"} {
		if _, err := ix.db.ExecContext(ctx, stmt); err != nil {
			return indexErr(err, "%s", stmt)
		}
	}
	return nil
}

// SizeBytes returns the database file size. For databases without a file
// path it falls back to page_count * page_size.
func (ix *Index) SizeBytes() int64 {
	if ix.path != "" {
		if info, err := os.Stat(ix.path); err == nil {
			return info.Size()
		}
	}
	return pageBytes(ix.db)
}

func pageBytes(db *sql.DB) int64 {
	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0
	}
	return pageCount * pageSize
}
