// Package metrics turns progress events into Prometheus series and writes
// them to a node-exporter textfile at the end of a run.
package metrics

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/runnerr0/seedvault/internal/progress"
)

const namespace = "seedvault"

// Chunk outcomes used as the "outcome" label.
const (
	OutcomeDone    = "done"
	OutcomeNoData  = "nodata"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Collector owns a private registry. Subscribe Handle to a progress.Bus.
type Collector struct {
	reg *prometheus.Registry

	chunks       *prometheus.CounterVec
	failures     *prometheus.CounterVec
	bytes        prometheus.Counter
	fetchSeconds prometheus.Histogram
	inFlight     prometheus.Gauge
	pairsSkipped *prometheus.CounterVec
	syncFiles    *prometheus.GaugeVec
	lastRun      prometheus.Gauge
}

// New registers every series on a fresh registry.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Fetch chunks by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_failures_total",
			Help:      "Chunks given up on, by failure kind.",
		}, []string{"kind"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_bytes_total",
			Help:      "Bytes of miniSEED committed to the archive.",
		}),
		fetchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Time from fetch start to commit for successful chunks.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chunks_in_flight",
			Help:      "Chunks currently being fetched.",
		}),
		pairsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_pairs_skipped_total",
			Help:      "Event-station pairs dropped before planning, by reason.",
		}, []string{"reason"}),
		syncFiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_files",
			Help:      "Files seen by the last archive scan.",
		}, []string{"result"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the metrics were last written.",
		}),
	}
	c.reg.MustRegister(c.chunks, c.failures, c.bytes, c.fetchSeconds, c.inFlight,
		c.pairsSkipped, c.syncFiles, c.lastRun)
	return c
}

// Registry exposes the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handle updates series for one event.
func (c *Collector) Handle(ev progress.Event) {
	switch e := ev.(type) {
	case progress.ChunkStarted:
		c.inFlight.Inc()
	case progress.ChunkDone:
		c.inFlight.Dec()
		if e.NoData {
			c.chunks.WithLabelValues(OutcomeNoData).Inc()
		} else {
			c.chunks.WithLabelValues(OutcomeDone).Inc()
		}
		c.bytes.Add(float64(e.Bytes))
		c.fetchSeconds.Observe(e.Elapsed.Seconds())
	case progress.ChunkRetry:
		c.inFlight.Dec()
		c.chunks.WithLabelValues(OutcomeRetry).Inc()
	case progress.ChunkFailed:
		c.inFlight.Dec()
		c.chunks.WithLabelValues(OutcomeFailed).Inc()
		c.failures.WithLabelValues(e.Kind.String()).Inc()
	case progress.ChunkSkipped:
		c.chunks.WithLabelValues(OutcomeSkipped).Inc()
	case progress.PairSkipped:
		c.pairsSkipped.WithLabelValues(e.Reason).Inc()
	case progress.SyncProgress:
		c.syncFiles.WithLabelValues("processed").Set(float64(e.Processed))
		c.syncFiles.WithLabelValues("indexed").Set(float64(e.Indexed))
		c.syncFiles.WithLabelValues("skipped").Set(float64(e.Skipped))
	}
}

// WriteTextfile stamps the run time and writes every series to path.
func (c *Collector) WriteTextfile(path string, unixSeconds float64) error {
	c.lastRun.Set(unixSeconds)
	if err := prometheus.WriteToTextfile(path, c.reg); err != nil {
		return errors.Wrapf(err, "writing metrics to %s", path)
	}
	return nil
}
