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

// maintainJSON is the JSON output of the maintain command.
type maintainJSON struct {
	DryRun        bool  `json:"dry_run"`
	Joined        int64 `json:"segments_joined"`
	JournalPruned int64 `json:"journal_pruned"`
	NoDataPruned  int64 `json:"nodata_pruned"`
	Vacuumed      bool  `json:"vacuumed"`
	Analyzed      bool  `json:"analyzed"`
	SizeBefore    int64 `json:"size_before_bytes"`
	SizeAfter     int64 `json:"size_after_bytes"`
}

// Execute implements the go-flags Commander interface for MaintainCommand.
func (c *MaintainCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	ix, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer ix.Close()

	return c.executeWithIndex(context.Background(), ix, cfg, time.Now(), os.Stdout)
}

// executeWithIndex maintains a provided index (for testing).
func (c *MaintainCommand) executeWithIndex(ctx context.Context, ix *storage.Index, cfg *config.Config, now time.Time, out io.Writer) error {
	if !c.Join && !c.Vacuum && !c.Analyze && c.PruneJournal == "" && c.PruneNoData == "" {
		return errors.New("nothing to do: pass --join, --vacuum, --analyze, --prune-journal or --prune-nodata")
	}

	var journalCutoff, nodataCutoff time.Time
	if c.PruneJournal != "" {
		d, err := parseDuration(c.PruneJournal)
		if err != nil {
			return errors.Wrapf(err, "invalid --prune-journal value %q", c.PruneJournal)
		}
		journalCutoff = now.Add(-d)
	}
	if c.PruneNoData != "" {
		d, err := parseDuration(c.PruneNoData)
		if err != nil {
			return errors.Wrapf(err, "invalid --prune-nodata value %q", c.PruneNoData)
		}
		nodataCutoff = now.Add(-d)
	}

	res := maintainJSON{DryRun: c.DryRun, SizeBefore: ix.SizeBytes()}
	if c.DryRun {
		res.SizeAfter = res.SizeBefore
		return c.report(out, res, journalCutoff, nodataCutoff)
	}

	var err error
	if c.Join {
		if res.Joined, err = ix.JoinSegments(ctx, cfg.GapToleranceDuration()); err != nil {
			return err
		}
	}
	if !journalCutoff.IsZero() {
		if res.JournalPruned, err = ix.PruneChunks(ctx, journalCutoff); err != nil {
			return err
		}
	}
	if !nodataCutoff.IsZero() {
		if res.NoDataPruned, err = ix.PruneNoData(ctx, nodataCutoff); err != nil {
			return err
		}
	}
	if c.Analyze {
		if err := ix.Analyze(ctx); err != nil {
			return err
		}
		res.Analyzed = true
	}
	if c.Vacuum {
		if err := ix.Vacuum(ctx); err != nil {
			return err
		}
		res.Vacuumed = true
	}
	res.SizeAfter = ix.SizeBytes()
	return c.report(out, res, journalCutoff, nodataCutoff)
}

func (c *MaintainCommand) report(out io.Writer, res maintainJSON, journalCutoff, nodataCutoff time.Time) error {
	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if c.DryRun {
		fmt.Fprintln(out, "Dry run, the index is unchanged. Would:")
		if c.Join {
			fmt.Fprintln(out, "  join segments within processing.gap_tolerance")
		}
		if !journalCutoff.IsZero() {
			fmt.Fprintf(out, "  delete finished journal rows before %s\n", journalCutoff.UTC().Format(time.RFC3339))
		}
		if !nodataCutoff.IsZero() {
			fmt.Fprintf(out, "  delete no-data marks before %s\n", nodataCutoff.UTC().Format(time.RFC3339))
		}
		if c.Analyze {
			fmt.Fprintln(out, "  reindex and analyze")
		}
		if c.Vacuum {
			fmt.Fprintln(out, "  vacuum the database")
		}
		return nil
	}

	if c.Join {
		fmt.Fprintf(out, "Joined %s segments.\n", humanize.Comma(res.Joined))
	}
	if !journalCutoff.IsZero() {
		fmt.Fprintf(out, "Pruned %s journal rows.\n", humanize.Comma(res.JournalPruned))
	}
	if !nodataCutoff.IsZero() {
		fmt.Fprintf(out, "Pruned %s no-data marks.\n", humanize.Comma(res.NoDataPruned))
	}
	if res.Analyzed {
		fmt.Fprintln(out, "Reindexed and analyzed.")
	}
	if res.Vacuumed {
		fmt.Fprintf(out, "Vacuumed: %s -> %s\n", humanize.Bytes(uint64(res.SizeBefore)), humanize.Bytes(uint64(res.SizeAfter)))
	}
	return nil
}
