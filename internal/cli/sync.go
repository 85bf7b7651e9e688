package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/runnerr0/seedvault/internal/config"
	"github.com/runnerr0/seedvault/internal/failure"
	"github.com/runnerr0/seedvault/internal/progress"
	"github.com/runnerr0/seedvault/internal/sds"
	"github.com/runnerr0/seedvault/internal/storage"
)

// Execute implements the go-flags Commander interface for SyncCommand.
func (c *SyncCommand) Execute(args []string) error {
	root := c.Args.Root
	dbPath := c.DB
	if dbPath == "" {
		dbPath = filepath.Join(root, "database.sqlite")
	}
	ix, err := storage.Open(dbPath, storage.Options{GapTolerance: time.Duration(c.GapTolerance * float64(time.Second))})
	if err != nil {
		return err
	}
	defer ix.Close()

	lc := config.DefaultConfig().Logging
	if c.globals != nil && c.globals.Config != "" {
		if cfg, err := config.Load(c.globals.Config); err == nil {
			lc = cfg.Logging
		}
	}
	log, err := newLogger(lc, c.globals != nil && c.globals.Verbose)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := signalContext()
	defer cancel()
	return c.executeWith(ctx, ix, log, os.Stdout)
}

// executeWith scans root into ix (for testing).
func (c *SyncCommand) executeWith(ctx context.Context, ix *storage.Index, log *zap.Logger, out io.Writer) error {
	opts := sds.ScanOptions{
		Patterns: sds.ParsePatterns(c.Patterns),
		Workers:  c.CPU,
		Logger:   log,
		Bus:      progress.NewBus(),
	}
	if c.NewerThan != "" {
		t, err := config.ParseTime(c.NewerThan)
		if err != nil {
			return failure.Wrapf(err, failure.Config, "--newer-than")
		}
		opts.NewerThan = t
	}
	asJSON := c.globals != nil && c.globals.JSON
	if !asJSON && (c.globals == nil || !c.globals.Quiet) {
		opts.Bus.Subscribe(newPrinter(os.Stderr).Handle)
	}

	start := time.Now()
	res, err := sds.NewScanner(c.Args.Root, ix, opts).Scan(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(out, "Sync Summary")
	fmt.Fprintln(out, "============")
	fmt.Fprintf(out, "Root:      %s\n", c.Args.Root)
	fmt.Fprintf(out, "Files:     %s\n", humanize.Comma(res.Processed))
	fmt.Fprintf(out, "Indexed:   %s\n", humanize.Comma(res.Indexed))
	fmt.Fprintf(out, "Skipped:   %s\n", humanize.Comma(res.Skipped))
	fmt.Fprintf(out, "Segments:  %s\n", humanize.Comma(res.Segments))
	fmt.Fprintf(out, "Took:      %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
