package acquire

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runnerr0/seedvault/internal/config"
	"github.com/runnerr0/seedvault/internal/failure"
	"github.com/runnerr0/seedvault/internal/progress"
	"github.com/runnerr0/seedvault/internal/sds"
	"github.com/runnerr0/seedvault/internal/span"
	"github.com/runnerr0/seedvault/internal/storage"
)

// Deps are the collaborators an Engine calls out to. Events and TravelTimer
// are only needed in event mode.
type Deps struct {
	Stations    StationSearcher
	Events      EventSearcher
	TravelTimer TravelTimer
	Transfer    Transfer
	Logger      *zap.Logger
	Bus         *progress.Bus
	Now         func() time.Time
}

// Engine runs acquisitions described by a Config against one archive.
type Engine struct {
	ix   *storage.Index
	cfg  *config.Config
	deps Deps
	log  *zap.Logger
	now  func() time.Time
}

// NewEngine returns an engine over ix configured by cfg.
func NewEngine(ix *storage.Index, cfg *config.Config, deps Deps) *Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{ix: ix, cfg: cfg, deps: deps, log: log, now: now}
}

// Run dispatches on download_type.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if e.cfg.DownloadType == config.ModeEvent {
		return e.RunEvent(ctx)
	}
	return e.RunContinuous(ctx)
}

func (e *Engine) stationWindow() (span.Span, error) {
	sc := e.cfg.Station
	if sc.StartTime == "" {
		return span.Span{}, failure.Newf(failure.Config, "station.start_time is required")
	}
	start, err := config.ParseTime(sc.StartTime)
	if err != nil {
		return span.Span{}, failure.Wrapf(err, failure.Config, "station.start_time")
	}
	end := e.now().UTC()
	if sc.EndTime != "" {
		if end, err = config.ParseTime(sc.EndTime); err != nil {
			return span.Span{}, failure.Wrapf(err, failure.Config, "station.end_time")
		}
	}
	return span.New(start, end), nil
}

func (e *Engine) stations(ctx context.Context, window span.Span) ([]Station, error) {
	if e.deps.Stations == nil {
		return nil, failure.Newf(failure.Config, "no station service configured")
	}
	sc := e.cfg.Station
	found, err := e.deps.Stations.SearchStations(ctx, StationQuery{
		Network:  sc.Network,
		Station:  sc.Station,
		Location: sc.Location,
		Channel:  sc.Channel,
		Start:    window.Start,
		End:      window.End,
	})
	if err != nil {
		return nil, errors.Wrap(err, "station search")
	}
	selected := SelectChannels(found, sc, e.cfg.Waveform)
	e.log.Info("stations selected", zap.Int("found", len(found)), zap.Int("selected", len(selected)))
	return selected, nil
}

// RunContinuous fetches every selected channel over the station window.
func (e *Engine) RunContinuous(ctx context.Context) (Summary, error) {
	window, err := e.stationWindow()
	if err != nil {
		return Summary{}, err
	}
	stations, err := e.stations(ctx, window)
	if err != nil {
		return Summary{}, err
	}
	var ids []storage.NSLC
	for _, st := range stations {
		ids = append(ids, st.NSLCs()...)
	}
	return e.execute(ctx, []Request{{Channels: ids, Window: window}})
}

// RunEvent fetches a window around the P arrival of every event at every
// selected station.
func (e *Engine) RunEvent(ctx context.Context) (Summary, error) {
	ec := e.cfg.Event
	if ec == nil {
		return Summary{}, failure.Newf(failure.Config, "event mode requires an event section")
	}
	if e.deps.Events == nil || e.deps.TravelTimer == nil {
		return Summary{}, failure.Newf(failure.Config, "event mode requires event and travel time services")
	}

	window, err := e.eventWindow()
	if err != nil {
		return Summary{}, err
	}
	events, err := e.deps.Events.SearchEvents(ctx, EventQuery{
		Start:        window.Start,
		End:          window.End,
		MinMagnitude: ec.MinMagnitude,
		MaxMagnitude: ec.MaxMagnitude,
		MinDepthKm:   ec.MinDepth,
		MaxDepthKm:   ec.MaxDepth,
	})
	if err != nil {
		return Summary{}, errors.Wrap(err, "event search")
	}
	stations, err := e.stations(ctx, window)
	if err != nil {
		return Summary{}, err
	}
	e.log.Info("events found", zap.Int("events", len(events)), zap.Int("stations", len(stations)))

	calc := NewArrivalCalculator(e.ix, e.deps.TravelTimer, ArrivalOptions{
		Model:     ec.Model,
		BeforeP:   secondsDuration(ec.BeforePSec),
		AfterP:    secondsDuration(ec.AfterPSec),
		MinRadius: ec.MinRadius,
		MaxRadius: ec.MaxRadius,
		Recompute: ec.RecomputeArrivals,
		Logger:    e.log,
		Bus:       e.deps.Bus,
	})
	reqs, stats, err := calc.Requests(ctx, events, stations)
	if err != nil {
		return Summary{}, err
	}
	e.log.Info("arrivals ready",
		zap.Int("computed", stats.Computed), zap.Int("reused", stats.Reused), zap.Int("skipped", stats.Skipped))
	return e.execute(ctx, reqs)
}

func (e *Engine) eventWindow() (span.Span, error) {
	ec := e.cfg.Event
	startStr, endStr := ec.StartTime, ec.EndTime
	if startStr == "" {
		startStr = e.cfg.Station.StartTime
	}
	if endStr == "" {
		endStr = e.cfg.Station.EndTime
	}
	if startStr == "" {
		return span.Span{}, failure.Newf(failure.Config, "event.start_time is required")
	}
	start, err := config.ParseTime(startStr)
	if err != nil {
		return span.Span{}, failure.Wrapf(err, failure.Config, "event.start_time")
	}
	end := e.now().UTC()
	if endStr != "" {
		if end, err = config.ParseTime(endStr); err != nil {
			return span.Span{}, failure.Wrapf(err, failure.Config, "event.end_time")
		}
	}
	return span.New(start, end), nil
}

func secondsDuration(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// Resume re-runs every journaled chunk that is not done. Chunks are
// reconciled again first, so work finished since is not repeated.
func (e *Engine) Resume(ctx context.Context) (Summary, error) {
	open, err := e.ix.ChunksByStatus(ctx, storage.ChunkPending, storage.ChunkInProgress, storage.ChunkFailed)
	if err != nil {
		return Summary{}, err
	}
	runID := uuid.NewString()
	e.log.Info("resuming", zap.String("run", runID), zap.Int("chunks", len(open)))

	rec := e.reconciler()
	var todo []storage.Chunk
	skipped := 0
	for _, c := range open {
		parts, err := rec.Filter(ctx, c)
		if err != nil {
			return Summary{}, err
		}
		if len(parts) == 1 && parts[0].ID == c.ID {
			todo = append(todo, c)
			continue
		}
		// The chunk is covered, or only part of it is still missing: close
		// the old row and journal the remainder under new IDs together.
		if err := e.ix.ReplaceChunks(ctx, runID, []string{c.ID}, parts); err != nil {
			return Summary{RunID: runID, Planned: len(open)}, err
		}
		if len(parts) == 0 {
			skipped++
			e.deps.Bus.Publish(progress.ChunkSkipped{RunID: runID, Channels: channelNames(c.Channels), Window: c.Span()})
		}
		todo = append(todo, parts...)
	}
	todo = dedupe(todo)
	SortChunks(todo)
	if err := e.ix.PlanChunks(ctx, runID, todo); err != nil {
		return Summary{RunID: runID, Planned: len(open)}, err
	}
	return e.runChunks(ctx, runID, len(open), skipped, todo)
}

func (e *Engine) reconciler() *Reconciler {
	w := e.cfg.Waveform
	opts := ReconcilerOptions{
		Force:     w.ForceRedownload,
		MinWindow: e.cfg.MinRequestWindow(),
		NoDataTTL: w.NoDataRetryAfter.D(),
		Now:       e.now,
		Logger:    e.log,
	}
	if w.DiscoverLocal {
		opts.Discover = sds.NewScanner(e.cfg.SDSPath, e.ix, sds.ScanOptions{
			Workers: 1,
			Logger:  e.log,
		})
	}
	return NewReconciler(e.ix, opts)
}

// execute plans reqs, drops what the archive already holds, journals the
// rest and runs it.
func (e *Engine) execute(ctx context.Context, reqs []Request) (Summary, error) {
	runID := uuid.NewString()
	planner := Planner{
		DaysPerRequest:     e.cfg.Waveform.DaysPerRequest,
		StationsPerRequest: e.cfg.Waveform.StationsPerRequest,
		Now:                e.now,
	}
	planned := planner.Plan(runID, reqs)
	e.log.Info("planned", zap.String("run", runID), zap.Int("chunks", len(planned)))

	rec := e.reconciler()
	var todo []storage.Chunk
	skipped := 0
	for _, c := range planned {
		if err := ctx.Err(); err != nil {
			return Summary{RunID: runID, Planned: len(planned)}, err
		}
		parts, err := rec.Filter(ctx, c)
		if err != nil {
			return Summary{RunID: runID, Planned: len(planned)}, err
		}
		if len(parts) == 0 {
			skipped++
			e.deps.Bus.Publish(progress.ChunkSkipped{RunID: runID, Channels: channelNames(c.Channels), Window: c.Span()})
			continue
		}
		todo = append(todo, parts...)
	}
	todo = dedupe(todo)
	SortChunks(todo)

	if err := e.ix.PlanChunks(ctx, runID, todo); err != nil {
		return Summary{RunID: runID, Planned: len(planned)}, err
	}
	return e.runChunks(ctx, runID, len(planned), skipped, todo)
}

func (e *Engine) runChunks(ctx context.Context, runID string, planned, skipped int, todo []storage.Chunk) (Summary, error) {
	w := e.cfg.Waveform
	exec := NewExecutor(e.ix, e.deps.Transfer, sds.NewWriter(e.cfg.SDSPath, e.log), ExecutorOptions{
		Workers:      e.cfg.Processing.NumProcesses,
		FetchTimeout: w.FetchTimeout.D(),
		Policy:       Policy{MaxRetries: w.MaxRetries, Base: w.RetryBase.D(), Max: w.RetryMax.D()},
		Logger:       e.log,
		Bus:          e.deps.Bus,
	})
	sum, err := exec.Run(ctx, runID, todo)
	sum.Planned = planned
	sum.Skipped = skipped
	e.log.Info("run finished",
		zap.String("run", runID),
		zap.Int("done", sum.Done),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("retried", sum.Retried),
		zap.Int64("bytes", sum.Bytes))
	return sum, err
}

func dedupe(chunks []storage.Chunk) []storage.Chunk {
	seen := make(map[string]bool, len(chunks))
	out := chunks[:0]
	for _, c := range chunks {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}
