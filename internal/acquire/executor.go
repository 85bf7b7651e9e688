package acquire

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/seedvault/internal/failure"
	"github.com/runnerr0/seedvault/internal/mseed"
	"github.com/runnerr0/seedvault/internal/progress"
	"github.com/runnerr0/seedvault/internal/sds"
	"github.com/runnerr0/seedvault/internal/span"
	"github.com/runnerr0/seedvault/internal/storage"
)

// ExecutorOptions tunes an Executor.
type ExecutorOptions struct {
	// Workers bounds concurrent chunks; 0 means runtime.NumCPU().
	Workers      int
	FetchTimeout time.Duration
	Policy       Policy
	Logger       *zap.Logger
	Bus          *progress.Bus
}

// Executor fetches chunks, writes their payloads into the SDS archive and
// commits the matching index updates.
type Executor struct {
	ix   *storage.Index
	tr   Transfer
	w    *sds.Writer
	opts ExecutorOptions
	log  *zap.Logger
}

// NewExecutor returns an executor writing through w and ix.
func NewExecutor(ix *storage.Index, tr Transfer, w *sds.Writer, opts ExecutorOptions) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{ix: ix, tr: tr, w: w, opts: opts, log: log.Named("executor")}
}

// ChunkFailure describes one chunk given up on.
type ChunkFailure struct {
	ChunkID  string    `json:"chunk_id"`
	Channels []string  `json:"channels"`
	Window   span.Span `json:"window"`
	Kind     string    `json:"kind"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
}

// Summary is the outcome of one run.
type Summary struct {
	RunID    string         `json:"run_id"`
	Planned  int            `json:"planned"`
	Done     int            `json:"done"`
	NoData   int            `json:"no_data"`
	Failed   int            `json:"failed"`
	Skipped  int            `json:"skipped"`
	Retried  int            `json:"retried"`
	Bytes    int64          `json:"bytes"`
	Failures []ChunkFailure `json:"failures,omitempty"`
}

type job struct {
	chunk   storage.Chunk
	attempt int
}

type runState struct {
	mu        sync.Mutex
	summary   Summary
	remaining atomic.Int64
	finished  chan struct{}
	once      sync.Once
	retries   chan *job
}

func (s *runState) settle() {
	if s.remaining.Add(-1) == 0 {
		s.once.Do(func() { close(s.finished) })
	}
}

// Run executes chunks in the given order on a bounded pool. It returns once
// every chunk is done or failed, or once ctx is cancelled; in the latter
// case chunks never dequeued stay pending in the journal and the error is
// ctx.Err(). Per-chunk failures are reported in the summary only.
func (e *Executor) Run(ctx context.Context, runID string, chunks []storage.Chunk) (Summary, error) {
	st := &runState{
		summary:  Summary{RunID: runID},
		finished: make(chan struct{}),
		retries:  make(chan *job, len(chunks)),
	}
	if len(chunks) == 0 {
		return st.summary, nil
	}
	st.remaining.Store(int64(len(chunks)))

	queue := make(chan *job)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		for _, c := range chunks {
			select {
			case queue <- &job{chunk: c}:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for i := 0; i < e.opts.Workers; i++ {
		g.Go(func() error {
			q := queue
			for {
				var j *job
				select {
				case <-gctx.Done():
					return nil
				case <-st.finished:
					return nil
				case j = <-st.retries:
				case next, ok := <-q:
					if !ok {
						q = nil
						continue
					}
					j = next
				}
				if gctx.Err() != nil {
					return nil
				}
				e.process(gctx, runID, j, st)
			}
		})
	}

	g.Wait() //nolint:errcheck
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.summary, ctx.Err()
}

func channelNames(ids []storage.NSLC) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func (e *Executor) process(ctx context.Context, runID string, j *job, st *runState) {
	c := j.chunk
	j.attempt++
	started := time.Now()
	log := e.log.With(zap.String("chunk", c.ID), zap.Int("attempt", j.attempt))
	// Journal writes and the commit must land even if ctx is cancelled mid-fetch.
	durable := context.WithoutCancel(ctx)

	e.opts.Bus.Publish(progress.ChunkStarted{
		RunID: runID, ChunkID: c.ID, Channels: channelNames(c.Channels), Window: c.Span(), Attempt: j.attempt,
	})
	if err := e.ix.MarkInProgress(durable, c.ID); err != nil {
		e.fail(durable, runID, j, st, err)
		return
	}

	fctx, cancel := context.WithTimeout(ctx, e.fetchTimeout())
	data, err := e.tr.FetchWaveform(fctx, c.Channels, c.Start, c.End)
	cancel()

	var bytes int64
	noData := false
	switch {
	case errors.Is(err, ErrNoData), err == nil && len(data) == 0:
		noData = true
		err = e.commitNoData(durable, c)
	case err != nil:
		if ctx.Err() != nil {
			err = failure.Mark(errors.CombineErrors(ctx.Err(), err), failure.Cancelled)
		} else if failure.KindOf(err) == failure.Unknown {
			err = failure.Mark(err, failure.Transient)
		}
	default:
		bytes, noData, err = e.commit(durable, c, data)
	}
	if err != nil {
		e.fail(durable, runID, j, st, err)
		return
	}

	log.Debug("chunk done", zap.Int64("bytes", bytes), zap.Bool("no_data", noData))
	st.mu.Lock()
	st.summary.Done++
	st.summary.Bytes += bytes
	if noData {
		st.summary.NoData++
	}
	st.mu.Unlock()
	e.opts.Bus.Publish(progress.ChunkDone{
		RunID: runID, ChunkID: c.ID, Channels: channelNames(c.Channels), Window: c.Span(),
		Bytes: bytes, NoData: noData, Elapsed: time.Since(started),
	})
	st.settle()
}

func (e *Executor) fetchTimeout() time.Duration {
	if e.opts.FetchTimeout <= 0 {
		return time.Minute
	}
	return e.opts.FetchTimeout
}

// fail applies the retry policy to a failed attempt.
func (e *Executor) fail(ctx context.Context, runID string, j *job, st *runState, cause error) {
	c := j.chunk
	kind := failure.KindOf(cause)
	if kind == failure.Unknown {
		kind = failure.Index
	}
	log := e.log.With(zap.String("chunk", c.ID), zap.Int("attempt", j.attempt), zap.Stringer("kind", kind))

	if d := e.opts.Policy.Decide(kind, j.attempt); d.Retry {
		if err := e.ix.MarkRetry(ctx, c.ID, j.attempt, cause); err != nil {
			log.Error("journal retry", zap.Error(err))
		}
		log.Warn("chunk failed, retrying", zap.Duration("after", d.After), zap.Error(cause))
		st.mu.Lock()
		st.summary.Retried++
		st.mu.Unlock()
		e.opts.Bus.Publish(progress.ChunkRetry{RunID: runID, ChunkID: c.ID, Attempt: j.attempt, After: d.After, Err: cause})
		time.AfterFunc(d.After, func() { st.retries <- j })
		return
	}

	if err := e.ix.MarkFailed(ctx, c.ID, j.attempt, kind.String(), cause); err != nil {
		log.Error("journal failure", zap.Error(err))
	}
	if kind == failure.Cancelled {
		log.Info("chunk interrupted", zap.Error(cause))
	} else {
		log.Error("chunk failed", zap.Error(cause))
	}
	st.mu.Lock()
	st.summary.Failed++
	st.summary.Failures = append(st.summary.Failures, ChunkFailure{
		ChunkID:  c.ID,
		Channels: channelNames(c.Channels),
		Window:   c.Span(),
		Kind:     kind.String(),
		Attempts: j.attempt,
		Error:    cause.Error(),
	})
	st.mu.Unlock()
	e.opts.Bus.Publish(progress.ChunkFailed{
		RunID: runID, ChunkID: c.ID, Channels: channelNames(c.Channels), Window: c.Span(),
		Kind: kind, Attempts: j.attempt, Err: cause,
	})
	st.settle()
}

// commit writes data into the archive and records it in the index as one
// unit: day files are staged, swapped in, and then the index transaction
// runs; if the transaction fails the previous files are restored. The
// locks of every affected stream are held throughout.
func (e *Executor) commit(ctx context.Context, c storage.Chunk, data []byte) (int64, bool, error) {
	recs, err := mseed.Parse(data)
	if err != nil {
		return 0, false, errors.Wrapf(err, "payload of chunk %s", c.ID)
	}
	if len(recs) == 0 {
		return 0, true, e.commitNoData(ctx, c)
	}

	// Spans actually present per stream, used for streams the service sent
	// without being asked.
	present := make(map[storage.NSLC][]span.Span)
	for _, r := range recs {
		id := storage.NSLC{Network: r.Network, Station: r.Station, Location: r.Location, Channel: r.Channel}
		present[id] = append(present[id], span.New(r.Start, r.End()))
	}
	requested := make(map[storage.NSLC]bool, len(c.Channels))
	lockIDs := append([]storage.NSLC(nil), c.Channels...)
	for _, id := range c.Channels {
		requested[id] = true
	}
	for id := range present {
		if !requested[id] {
			lockIDs = append(lockIDs, id)
		}
	}

	held := e.ix.Lock(lockIDs)
	defer held.Unlock()

	staged, err := e.w.Stage(data, recs)
	if err != nil {
		return 0, false, markLocal(err)
	}
	if err := staged.Swap(); err != nil {
		return 0, false, markLocal(err)
	}

	window := c.Span()
	err = held.Update(ctx, func(tx *storage.Tx) error {
		for _, id := range c.Channels {
			if _, ok := present[id]; !ok {
				if err := tx.MarkNoData(id, window); err != nil {
					return err
				}
				continue
			}
			if _, err := tx.Insert(id, window); err != nil {
				return err
			}
		}
		for id, spans := range present {
			if requested[id] {
				continue
			}
			for _, s := range span.Merge(spans, e.ix.GapTolerance()) {
				if _, err := tx.Insert(id, s); err != nil {
					return err
				}
			}
		}
		return tx.MarkChunkDone(c.ID, staged.Bytes, staged.Checksum)
	})
	if err != nil {
		if rerr := staged.Rollback(); rerr != nil {
			err = errors.CombineErrors(err, rerr)
		}
		return 0, false, markLocal(err)
	}
	staged.Finalize()
	return staged.Bytes, false, nil
}

// commitNoData records an empty reply for every channel of c and closes it.
func (e *Executor) commitNoData(ctx context.Context, c storage.Chunk) error {
	window := c.Span()
	err := e.ix.Update(ctx, c.Channels, func(tx *storage.Tx) error {
		for _, id := range c.Channels {
			if err := tx.MarkNoData(id, window); err != nil {
				return err
			}
		}
		return tx.MarkChunkDone(c.ID, 0, "")
	})
	return markLocal(err)
}

// markLocal classifies unmarked local failures as index failures.
func markLocal(err error) error {
	if err == nil || failure.KindOf(err) != failure.Unknown {
		return err
	}
	return failure.Mark(err, failure.Index)
}
