package sds

import (
	"context"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/MichaelTJones/walk"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/seedvault/internal/mseed"
	"github.com/runnerr0/seedvault/internal/progress"
	"github.com/runnerr0/seedvault/internal/span"
	"github.com/runnerr0/seedvault/internal/storage"
)

// ScanOptions tunes a Scanner.
type ScanOptions struct {
	// Patterns are globs matched against file base names.
	Patterns []string
	// NewerThan, when set, ignores files last modified before it.
	NewerThan time.Time
	// Workers bounds concurrent file ingestion; 0 means runtime.NumCPU().
	Workers int
	Logger  *zap.Logger
	Bus     *progress.Bus
}

// ScanResult counts what a scan did.
type ScanResult struct {
	Processed int64 `json:"processed"`
	Indexed   int64 `json:"indexed"`
	Skipped   int64 `json:"skipped"`
	Segments  int64 `json:"segments"`
}

// Scanner indexes SDS day files already on disk. It never touches the
// network.
type Scanner struct {
	root string
	ix   *storage.Index
	opts ScanOptions
	log  *zap.Logger
}

// NewScanner returns a scanner for the tree at root.
func NewScanner(root string, ix *storage.Index, opts ScanOptions) *Scanner {
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{DefaultPatterns}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{root: root, ix: ix, opts: opts, log: log.Named("sync")}
}

type counters struct {
	processed, indexed, skipped, segments atomic.Int64
}

func (c *counters) result() ScanResult {
	return ScanResult{
		Processed: c.processed.Load(),
		Indexed:   c.indexed.Load(),
		Skipped:   c.skipped.Load(),
		Segments:  c.segments.Load(),
	}
}

// Scan walks the whole tree and indexes every matching file.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	if _, err := os.Stat(s.root); err != nil {
		return ScanResult{}, errors.Wrapf(err, "sds root %s", s.root)
	}

	paths := make(chan string, s.opts.Workers*4)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(paths)
		return walk.Walk(s.root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				s.log.Warn("walk", zap.String("path", path), zap.Error(err))
				return nil
			}
			if fi.IsDir() || !matchAny(s.opts.Patterns, path) {
				return nil
			}
			if !s.opts.NewerThan.IsZero() && fi.ModTime().Before(s.opts.NewerThan) {
				return nil
			}
			select {
			case paths <- path:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	c := &counters{}
	s.consume(gctx, g, paths, c)

	err := g.Wait()
	res := c.result()
	s.publishDone(res)
	s.log.Info("scan finished",
		zap.String("root", s.root),
		zap.Int64("processed", res.Processed),
		zap.Int64("indexed", res.Indexed),
		zap.Int64("skipped", res.Skipped))
	return res, err
}

// IngestFiles indexes the given files without walking.
func (s *Scanner) IngestFiles(ctx context.Context, files []string) (ScanResult, error) {
	paths := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(paths)
		for _, p := range files {
			select {
			case paths <- p:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	c := &counters{}
	s.consume(gctx, g, paths, c)
	err := g.Wait()
	return c.result(), err
}

// Discover indexes day files on disk for id that intersect window. It is
// run before reconciling so files copied into the tree by hand are not
// fetched again.
func (s *Scanner) Discover(ctx context.Context, id storage.NSLC, window span.Span) (ScanResult, error) {
	var files []string
	for _, day := range Days(window) {
		p := DayPath(s.root, id, day)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			files = append(files, p)
		}
	}
	if len(files) == 0 {
		return ScanResult{}, nil
	}
	return s.IngestFiles(ctx, files)
}

func (s *Scanner) consume(ctx context.Context, g *errgroup.Group, paths <-chan string, c *counters) {
	for i := 0; i < s.opts.Workers; i++ {
		g.Go(func() error {
			for path := range paths {
				if err := ctx.Err(); err != nil {
					return err
				}
				n, err := s.ingest(ctx, path)
				c.processed.Add(1)
				switch {
				case err != nil:
					if ctx.Err() != nil {
						return ctx.Err()
					}
					c.skipped.Add(1)
					s.log.Warn("skipping file", zap.String("path", path), zap.Error(err))
				case n == 0:
					c.skipped.Add(1)
				default:
					c.indexed.Add(1)
					c.segments.Add(int64(n))
				}
				s.opts.Bus.Publish(progress.SyncProgress{
					Root:      s.root,
					Path:      path,
					Processed: c.processed.Load(),
					Indexed:   c.indexed.Load(),
					Skipped:   c.skipped.Load(),
				})
			}
			return nil
		})
	}
}

// ingest indexes one file and returns how many merged spans it inserted.
// Records whose stream differs from the one in the file name are ignored.
func (s *Scanner) ingest(ctx context.Context, path string) (int, error) {
	name, err := ParseFileName(path)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "read %s", path)
	}
	recs, err := mseed.Parse(data)
	if err != nil {
		return 0, err
	}

	want := name.NSLC.String()
	var spans []span.Span
	for _, r := range recs {
		if r.ID() != want {
			continue
		}
		if sp := span.New(r.Start, r.End()); !sp.Empty() {
			spans = append(spans, sp)
		}
	}
	merged := span.Merge(spans, s.ix.GapTolerance())
	for _, sp := range merged {
		if _, err := s.ix.Insert(ctx, name.NSLC, sp); err != nil {
			return 0, err
		}
	}
	if len(merged) > 0 {
		s.log.Debug("indexed file", zap.String("path", path), zap.String("nslc", want), zap.Int("spans", len(merged)))
	}
	return len(merged), nil
}

func (s *Scanner) publishDone(res ScanResult) {
	s.opts.Bus.Publish(progress.SyncProgress{
		Root:      s.root,
		Processed: res.Processed,
		Indexed:   res.Indexed,
		Skipped:   res.Skipped,
		Done:      true,
	})
}
