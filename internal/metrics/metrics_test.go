package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/seedvault/internal/failure"
	"github.com/runnerr0/seedvault/internal/progress"
)

func TestCollector_CountsChunkOutcomes(t *testing.T) {
	c := New()
	bus := progress.NewBus()
	bus.Subscribe(c.Handle)

	bus.Publish(progress.ChunkStarted{ChunkID: "a"})
	bus.Publish(progress.ChunkStarted{ChunkID: "b"})
	bus.Publish(progress.ChunkStarted{ChunkID: "c"})
	assert.Equal(t, 3.0, testutil.ToFloat64(c.inFlight))

	bus.Publish(progress.ChunkDone{ChunkID: "a", Bytes: 4096, Elapsed: time.Second})
	bus.Publish(progress.ChunkDone{ChunkID: "b", NoData: true})
	bus.Publish(progress.ChunkRetry{ChunkID: "c", Err: errors.New("503")})
	bus.Publish(progress.ChunkStarted{ChunkID: "c", Attempt: 2})
	bus.Publish(progress.ChunkFailed{ChunkID: "c", Kind: failure.Permanent})
	bus.Publish(progress.ChunkSkipped{})

	assert.Zero(t, testutil.ToFloat64(c.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chunks.WithLabelValues(OutcomeDone)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chunks.WithLabelValues(OutcomeNoData)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chunks.WithLabelValues(OutcomeRetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chunks.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chunks.WithLabelValues(OutcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("permanent")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(c.bytes))
}

func TestCollector_PairsAndSync(t *testing.T) {
	c := New()
	c.Handle(progress.PairSkipped{Reason: "outside radius"})
	c.Handle(progress.PairSkipped{Reason: "outside radius"})
	c.Handle(progress.SyncProgress{Processed: 10, Indexed: 7, Skipped: 3, Done: true})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.pairsSkipped.WithLabelValues("outside radius")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.syncFiles.WithLabelValues("indexed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.syncFiles.WithLabelValues("skipped")))
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := New()
	c.Handle(progress.ChunkDone{Bytes: 10})
	path := filepath.Join(t.TempDir(), "seedvault.prom")

	require.NoError(t, c.WriteTextfile(path, 1700000000))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `seedvault_chunks_total{outcome="done"} 1`), text)
	assert.True(t, strings.Contains(text, "seedvault_fetched_bytes_total 10"), text)
	assert.True(t, strings.Contains(text, "seedvault_last_run_timestamp_seconds 1.7e+09"), text)

	err = c.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"), 0)
	assert.Error(t, err)
}
