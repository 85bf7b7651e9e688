package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/runnerr0/seedvault/internal/acquire"
	"github.com/runnerr0/seedvault/internal/config"
	"github.com/runnerr0/seedvault/internal/failure"
	"github.com/runnerr0/seedvault/internal/fdsn"
	"github.com/runnerr0/seedvault/internal/metrics"
	"github.com/runnerr0/seedvault/internal/progress"
	"github.com/runnerr0/seedvault/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// loadConfig reads --config when given, else the default config path,
// creating it on first use.
func loadConfig(g *GlobalFlags) (*config.Config, error) {
	if g != nil && g.Config != "" {
		return config.Load(g.Config)
	}
	return config.LoadOrCreate()
}

// newLogger builds a zap logger from the logging section. --verbose forces
// debug level. Logs go to stderr so stdout stays parseable.
func newLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	var zc zap.Config
	if lc.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	}
	level, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		return nil, failure.Wrapf(err, failure.Config, "logging.level")
	}
	if verbose {
		level.SetLevel(zap.DebugLevel)
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// openIndex opens the index configured by cfg.
func openIndex(cfg *config.Config) (*storage.Index, error) {
	return storage.Open(cfg.ResolvedDBPath(), storage.Options{GapTolerance: cfg.GapToleranceDuration()})
}

// session bundles what run and resume need.
type session struct {
	cfg     *config.Config
	ix      *storage.Index
	log     *zap.Logger
	bus     *progress.Bus
	metrics *metrics.Collector
	out     io.Writer
}

func newSession(cfg *config.Config, ix *storage.Index, log *zap.Logger, g *GlobalFlags) *session {
	s := &session{cfg: cfg, ix: ix, log: log, bus: progress.NewBus(), out: os.Stdout}
	if g == nil || (!g.Quiet && !g.JSON) {
		s.bus.Subscribe(newPrinter(os.Stderr).Handle)
	}
	if cfg.Metrics != nil {
		s.metrics = metrics.New()
		s.bus.Subscribe(s.metrics.Handle)
	}
	return s
}

// openSession loads config, builds the logger and opens the index.
func openSession(g *GlobalFlags, prepare func(*config.Config)) (*session, func(), error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, nil, err
	}
	if prepare != nil {
		prepare(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	log, err := newLogger(cfg.Logging, g != nil && g.Verbose)
	if err != nil {
		return nil, nil, err
	}
	ix, err := openIndex(cfg)
	if err != nil {
		log.Sync() //nolint:errcheck
		return nil, nil, err
	}
	closeFn := func() {
		if err := ix.Close(); err != nil {
			log.Warn("closing index", zap.Error(err))
		}
		log.Sync() //nolint:errcheck
	}
	return newSession(cfg, ix, log, g), closeFn, nil
}

// fdsnDeps builds HTTP collaborators from the config.
func fdsnDeps(cfg *config.Config, log *zap.Logger) acquire.Deps {
	w := cfg.Waveform
	opts := fdsn.Options{
		Timeout:           w.FetchTimeout.D(),
		RequestsPerSecond: w.RequestsPerSecond,
		CacheTTL:          cfg.Station.CacheTTL.D(),
		Logger:            log,
	}
	deps := acquire.Deps{
		Transfer: fdsn.New(w.ClientURL, opts),
		Stations: fdsn.New(cfg.Station.ClientURL, opts),
	}
	if cfg.Event != nil {
		deps.Events = fdsn.New(cfg.Event.ClientURL, opts)
		deps.TravelTimer = fdsn.New(cfg.Event.TravelTimeURL, opts)
	}
	return deps
}

func (s *session) engine(deps acquire.Deps) *acquire.Engine {
	deps.Logger = s.log
	deps.Bus = s.bus
	return acquire.NewEngine(s.ix, s.cfg, deps)
}

// finish reports a run summary and writes metrics. Failed chunks make the
// command fail after the report is out.
func (s *session) finish(sum acquire.Summary, runErr error, asJSON bool) error {
	if s.metrics != nil && s.cfg.Metrics.Textfile != "" {
		if err := s.metrics.WriteTextfile(s.cfg.Metrics.Textfile, float64(time.Now().Unix())); err != nil {
			s.log.Warn("metrics textfile", zap.Error(err))
		}
	}
	if asJSON {
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
	} else {
		printSummary(s.out, sum)
	}
	if runErr != nil {
		if failure.KindOf(runErr) == failure.Cancelled {
			return errors.Wrap(runErr, "interrupted; run `seedvault resume` to continue")
		}
		return runErr
	}
	if sum.Failed > 0 {
		// Planned counts chunks before reconciliation splits them; these
		// are the chunks that actually reached an outcome.
		total := sum.Done + sum.Failed + sum.Skipped
		return errors.Newf("%d of %d chunks failed", sum.Failed, total)
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, errors.Newf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return 0, errors.Newf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, errors.Newf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	if d <= 0 {
		return "disabled"
	}
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

func joinNames(names []string) string {
	if len(names) <= 3 {
		return strings.Join(names, ",")
	}
	return fmt.Sprintf("%s,... (%d channels)", strings.Join(names[:2], ","), len(names))
}
