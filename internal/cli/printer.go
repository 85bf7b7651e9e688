package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/runnerr0/seedvault/internal/acquire"
	"github.com/runnerr0/seedvault/internal/progress"
	"github.com/runnerr0/seedvault/internal/span"
)

// syncEvery throttles scan progress lines.
const syncEvery = 500

// printer writes one line per chunk outcome.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) Handle(ev progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case progress.ChunkDone:
		if e.NoData {
			fmt.Fprintf(p.w, "  no data  %s  %s\n", joinNames(e.Channels), window(e.Window))
			return
		}
		fmt.Fprintf(p.w, "  fetched  %s  %s  %s in %s\n", joinNames(e.Channels), window(e.Window),
			humanize.Bytes(uint64(e.Bytes)), e.Elapsed.Round(time.Millisecond))
	case progress.ChunkRetry:
		fmt.Fprintf(p.w, "  retry    %s  attempt %d in %s: %v\n", shortID(e.ChunkID), e.Attempt, e.After, e.Err)
	case progress.ChunkFailed:
		fmt.Fprintf(p.w, "  FAILED   %s  %s  %s after %d attempts: %v\n", joinNames(e.Channels), window(e.Window),
			e.Kind, e.Attempts, e.Err)
	case progress.ChunkSkipped:
		fmt.Fprintf(p.w, "  archived %s  %s\n", joinNames(e.Channels), window(e.Window))
	case progress.PairSkipped:
		fmt.Fprintf(p.w, "  skip     %s for event %s: %s\n", e.Station, e.EventID, e.Reason)
	case progress.SyncProgress:
		if e.Done || e.Processed%syncEvery == 0 {
			fmt.Fprintf(p.w, "  scanned  %s files, %s indexed, %s skipped\n",
				humanize.Comma(e.Processed), humanize.Comma(e.Indexed), humanize.Comma(e.Skipped))
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func window(s span.Span) string {
	return s.Start.UTC().Format("2006-01-02T15:04:05") + " .. " + s.End.UTC().Format("2006-01-02T15:04:05")
}

func printSummary(w io.Writer, s acquire.Summary) {
	fmt.Fprintln(w, "Run Summary")
	fmt.Fprintln(w, "===========")
	if s.RunID != "" {
		fmt.Fprintf(w, "Run:       %s\n", s.RunID)
	}
	fmt.Fprintf(w, "Planned:   %s\n", humanize.Comma(int64(s.Planned)))
	fmt.Fprintf(w, "Archived:  %s (already covered)\n", humanize.Comma(int64(s.Skipped)))
	fmt.Fprintf(w, "Fetched:   %s (%s)\n", humanize.Comma(int64(s.Done-s.NoData)), humanize.Bytes(uint64(s.Bytes)))
	fmt.Fprintf(w, "No data:   %s\n", humanize.Comma(int64(s.NoData)))
	fmt.Fprintf(w, "Retried:   %s\n", humanize.Comma(int64(s.Retried)))
	fmt.Fprintf(w, "Failed:    %s\n", humanize.Comma(int64(s.Failed)))
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  %s  %s  %s: %s\n", joinNames(f.Channels), window(f.Window), f.Kind, f.Error)
	}
}
