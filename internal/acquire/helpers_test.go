package acquire

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/seedvault/internal/config"
	"github.com/runnerr0/seedvault/internal/mseed/mseedtest"
	"github.com/runnerr0/seedvault/internal/storage"
)

var (
	nwaoBHZ = storage.NSLC{Network: "IU", Station: "NWAO", Location: "00", Channel: "BHZ"}
	nwaoBHN = storage.NSLC{Network: "IU", Station: "NWAO", Location: "00", Channel: "BHN"}
	armaHHZ = storage.NSLC{Network: "AU", Station: "ARMA", Location: "", Channel: "HHZ"}

	fixedNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
)

func clock() time.Time { return fixedNow }

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func openIndex(t *testing.T, tol time.Duration) *storage.Index {
	t.Helper()
	ix, err := storage.Open(filepath.Join(t.TempDir(), "index.sqlite"), storage.Options{GapTolerance: tol, Now: clock})
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

// payload returns 1 Hz records of at most an hour each covering
// [start, end) for every channel.
func payload(chans []storage.NSLC, start, end time.Time) []byte {
	var out []byte
	for _, id := range chans {
		for t := start; t.Before(end); t = t.Add(time.Hour) {
			n := int(end.Sub(t) / time.Second)
			if n > 3600 {
				n = 3600
			}
			out = append(out, mseedtest.Record(id.String(), t, n, 1)...)
		}
	}
	return out
}

type fetchCall struct {
	Channels []storage.NSLC
	Start    time.Time
	End      time.Time
}

type fakeTransfer struct {
	mu    sync.Mutex
	calls []fetchCall
	// respond overrides the default payload when set. n is the 1-based
	// call count for this window.
	respond func(ctx context.Context, c fetchCall, n int) ([]byte, error)
	perWin  map[string]int
}

func (f *fakeTransfer) FetchWaveform(ctx context.Context, chans []storage.NSLC, start, end time.Time) ([]byte, error) {
	c := fetchCall{Channels: chans, Start: start, End: end}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	if f.perWin == nil {
		f.perWin = make(map[string]int)
	}
	key := storage.ChunkID(chans, start, end)
	f.perWin[key]++
	n := f.perWin[key]
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		return respond(ctx, c, n)
	}
	return payload(chans, start, end), nil
}

func (f *fakeTransfer) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

type fakeStations struct {
	stations []Station
}

func (f *fakeStations) SearchStations(ctx context.Context, q StationQuery) ([]Station, error) {
	return f.stations, nil
}

type fakeEvents struct {
	events []Event
}

func (f *fakeEvents) SearchEvents(ctx context.Context, q EventQuery) ([]Event, error) {
	return f.events, nil
}

type fakeTravel struct {
	mu    sync.Mutex
	calls int
	p, s  time.Duration
	err   error
}

func (f *fakeTravel) ComputeArrival(ctx context.Context, ev Event, st Station, model string) (Phases, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Phases{}, f.err
	}
	s := f.s
	return Phases{P: f.p, S: &s}, nil
}

func nwaoStation() Station {
	return Station{
		Network: "IU", Station: "NWAO",
		Latitude: -32.93, Longitude: 117.24, ElevationKm: 0.38,
		Channels: []Channel{{NSLC: nwaoBHZ, SampleRate: 20}},
	}
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.SDSPath = t.TempDir()
	cfg.Station.StartTime = "2025-01-01"
	cfg.Station.EndTime = "2025-01-05"
	cfg.Waveform.DaysPerRequest = 2
	cfg.Waveform.RetryBase = config.Duration(time.Millisecond)
	cfg.Waveform.RetryMax = config.Duration(5 * time.Millisecond)
	cfg.Waveform.FetchTimeout = config.Duration(5 * time.Second)
	cfg.Processing.NumProcesses = 2
	return cfg
}
