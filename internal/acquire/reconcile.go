package acquire

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/runnerr0/seedvault/internal/sds"
	"github.com/runnerr0/seedvault/internal/span"
	"github.com/runnerr0/seedvault/internal/storage"
)

// Missing returns the parts of req not covered by covered. Uncovered pieces
// separated by no more than tol are joined, since the index would merge
// them anyway, and pieces shorter than minWindow are dropped. With force
// the request is returned unchanged.
func Missing(req span.Span, covered []span.Span, tol time.Duration, force bool, minWindow time.Duration) []span.Span {
	if req.Empty() {
		return nil
	}
	if force {
		return []span.Span{req}
	}
	gaps := span.Merge(span.Subtract(req, covered), tol)
	out := gaps[:0]
	for _, g := range gaps {
		if g.Duration() >= minWindow {
			out = append(out, g)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Discoverer indexes archive files already on disk for one stream.
type Discoverer interface {
	Discover(ctx context.Context, id storage.NSLC, window span.Span) (sds.ScanResult, error)
}

// ReconcilerOptions tunes a Reconciler.
type ReconcilerOptions struct {
	Force     bool
	MinWindow time.Duration
	// NoDataTTL is how long a "no data" answer counts as coverage. Zero
	// disables the cache.
	NoDataTTL time.Duration
	// Discover, when set, is consulted for spans the index leaves uncovered.
	Discover Discoverer
	Now      func() time.Time
	Logger   *zap.Logger
}

// Reconciler filters planned chunks against the archive index.
type Reconciler struct {
	ix   *storage.Index
	opts ReconcilerOptions
	log  *zap.Logger
}

// NewReconciler returns a Reconciler reading from ix.
func NewReconciler(ix *storage.Index, opts ReconcilerOptions) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{ix: ix, opts: opts, log: log.Named("reconcile")}
}

// Filter returns the sub-chunks of c that still need fetching. Channels
// whose missing spans are identical are fetched together; results are
// ordered by start time, then first NSLC.
func (r *Reconciler) Filter(ctx context.Context, c storage.Chunk) ([]storage.Chunk, error) {
	window := c.Span()
	type bucket struct {
		s   span.Span
		ids []storage.NSLC
	}
	type key struct{ start, end int64 }
	buckets := make(map[key]*bucket)

	for _, id := range c.Channels {
		missing, err := r.missingFor(ctx, id, window)
		if err != nil {
			return nil, err
		}
		for _, m := range missing {
			k := key{m.Start.UnixNano(), m.End.UnixNano()}
			b, ok := buckets[k]
			if !ok {
				b = &bucket{s: m}
				buckets[k] = b
			}
			b.ids = append(b.ids, id)
		}
	}

	out := make([]storage.Chunk, 0, len(buckets))
	for _, b := range buckets {
		storage.SortNSLCs(b.ids)
		out = append(out, storage.Chunk{
			ID:       storage.ChunkID(b.ids, b.s.Start, b.s.End),
			RunID:    c.RunID,
			Channels: b.ids,
			Start:    b.s.Start,
			End:      b.s.End,
			Status:   storage.ChunkPending,
		})
	}
	SortChunks(out)
	return out, nil
}

func (r *Reconciler) missingFor(ctx context.Context, id storage.NSLC, window span.Span) ([]span.Span, error) {
	if r.opts.Force {
		return Missing(window, nil, r.ix.GapTolerance(), true, r.opts.MinWindow), nil
	}
	missing, err := r.uncovered(ctx, id, window)
	if err != nil || len(missing) == 0 || r.opts.Discover == nil {
		return missing, err
	}

	// Only gaps the index cannot explain are worth a look on disk.
	indexed := int64(0)
	for _, m := range missing {
		res, err := r.opts.Discover.Discover(ctx, id, m)
		if err != nil {
			r.log.Warn("local discovery failed", zap.String("nslc", id.String()), zap.Error(err))
			continue
		}
		indexed += res.Indexed
	}
	if indexed == 0 {
		return missing, nil
	}
	r.log.Debug("indexed local files", zap.String("nslc", id.String()), zap.Int64("files", indexed))
	return r.uncovered(ctx, id, window)
}

// uncovered returns the parts of window neither archived nor recently
// answered empty.
func (r *Reconciler) uncovered(ctx context.Context, id storage.NSLC, window span.Span) ([]span.Span, error) {
	segs, err := r.ix.Query(ctx, id, window)
	if err != nil {
		return nil, err
	}
	covered := make([]span.Span, 0, len(segs))
	for _, s := range segs {
		covered = append(covered, s.Span())
	}
	if r.opts.NoDataTTL > 0 {
		empty, err := r.ix.NoData(ctx, id, window, r.opts.Now().Add(-r.opts.NoDataTTL))
		if err != nil {
			return nil, err
		}
		covered = append(covered, empty...)
	}
	return Missing(window, covered, r.ix.GapTolerance(), false, r.opts.MinWindow), nil
}

// SortChunks orders chunks by start time, then by first NSLC.
func SortChunks(chunks []storage.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return firstNSLC(a) < firstNSLC(b)
	})
}

func firstNSLC(c storage.Chunk) string {
	if len(c.Channels) == 0 {
		return ""
	}
	return c.Channels[0].String()
}
