package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"

	"github.com/runnerr0/seedvault/internal/config"
	"github.com/runnerr0/seedvault/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string             `json:"version"`
	SDSPath           string             `json:"sds_path"`
	DatabasePath      string             `json:"database_path"`
	DatabaseSizeBytes int64              `json:"database_size_bytes"`
	Segments          int64              `json:"segments"`
	Channels          int64              `json:"channels"`
	Arrivals          int64              `json:"arrivals"`
	NoDataMarks       int64              `json:"nodata_marks"`
	EarliestStart     string             `json:"earliest_start,omitempty"`
	LatestEnd         string             `json:"latest_end,omitempty"`
	Chunks            map[string]int64   `json:"chunks"`
	NoDataRetryAfter  string             `json:"nodata_retry_after"`
	TopChannels       []channelCountJSON `json:"top_channels"`
}

type channelCountJSON struct {
	Channel  string `json:"channel"`
	Segments int64  `json:"segments"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	ix, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer ix.Close()

	return c.executeWithIndex(context.Background(), ix, cfg, os.Stdout)
}

// executeWithIndex reports on a provided index (for testing).
func (c *StatusCommand) executeWithIndex(ctx context.Context, ix *storage.Index, cfg *config.Config, out io.Writer) error {
	stats, err := ix.Stats(ctx)
	if err != nil {
		return errors.Wrap(err, "get stats")
	}
	top, err := ix.TopChannels(ctx, c.Top)
	if err != nil {
		return errors.Wrap(err, "top channels")
	}

	if c.globals != nil && c.globals.JSON {
		return c.printStatusJSON(out, stats, top, ix, cfg)
	}
	return c.printStatusHuman(out, stats, top, ix, cfg)
}

func (c *StatusCommand) printStatusHuman(out io.Writer, stats *storage.Stats, top []storage.ChannelCount, ix *storage.Index, cfg *config.Config) error {
	fmt.Fprintln(out, "Seedvault Status")
	fmt.Fprintln(out, "================")
	fmt.Fprintf(out, "Version:       %s\n", c.version)
	fmt.Fprintf(out, "Archive:       %s\n", cfg.SDSPath)
	fmt.Fprintf(out, "Database:      %s (%s)\n", ix.Path(), humanize.Bytes(uint64(ix.SizeBytes())))
	fmt.Fprintf(out, "Channels:      %s\n", humanize.Comma(stats.Channels))
	fmt.Fprintf(out, "Segments:      %s\n", humanize.Comma(stats.Segments))
	if stats.Segments > 0 {
		fmt.Fprintf(out, "Earliest:      %s\n", stats.EarliestStart.UTC().Format(time.RFC3339))
		fmt.Fprintf(out, "Latest:        %s\n", stats.LatestEnd.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Arrivals:      %s\n", humanize.Comma(stats.Arrivals))
	fmt.Fprintf(out, "No-data marks: %s (retry after %s)\n", humanize.Comma(stats.NoDataMarks),
		formatDurationHuman(cfg.Waveform.NoDataRetryAfter.D()))

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Journal:")
	for _, st := range []storage.ChunkStatus{storage.ChunkPending, storage.ChunkInProgress, storage.ChunkFailed, storage.ChunkDone} {
		fmt.Fprintf(out, "  %-12s %s\n", st, humanize.Comma(stats.Chunks[st]))
	}
	if n := stats.Chunks[storage.ChunkPending] + stats.Chunks[storage.ChunkInProgress] + stats.Chunks[storage.ChunkFailed]; n > 0 {
		fmt.Fprintf(out, "  %s unfinished; run `seedvault resume`\n", humanize.Comma(n))
	}

	if len(top) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Most fragmented:")
		for _, t := range top {
			fmt.Fprintf(out, "  %-20s %s segments\n", t.NSLC.String(), humanize.Comma(t.Count))
		}
	}
	return nil
}

func (c *StatusCommand) printStatusJSON(out io.Writer, stats *storage.Stats, top []storage.ChannelCount, ix *storage.Index, cfg *config.Config) error {
	res := statusJSON{
		Version:           c.version,
		SDSPath:           cfg.SDSPath,
		DatabasePath:      ix.Path(),
		DatabaseSizeBytes: ix.SizeBytes(),
		Segments:          stats.Segments,
		Channels:          stats.Channels,
		Arrivals:          stats.Arrivals,
		NoDataMarks:       stats.NoDataMarks,
		Chunks:            make(map[string]int64, len(stats.Chunks)),
		NoDataRetryAfter:  cfg.Waveform.NoDataRetryAfter.D().String(),
		TopChannels:       make([]channelCountJSON, len(top)),
	}
	if stats.Segments > 0 {
		res.EarliestStart = stats.EarliestStart.UTC().Format(time.RFC3339)
		res.LatestEnd = stats.LatestEnd.UTC().Format(time.RFC3339)
	}
	for st, n := range stats.Chunks {
		res.Chunks[string(st)] = n
	}
	for i, t := range top {
		res.TopChannels[i] = channelCountJSON{Channel: t.NSLC.String(), Segments: t.Count}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
