package fdsn

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/seedvault/internal/acquire"
	"github.com/runnerr0/seedvault/internal/failure"
	"github.com/runnerr0/seedvault/internal/storage"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func server(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchWaveform_PostsSelection(t *testing.T) {
	var got string
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, dataselectPath, r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.Write([]byte("MSEED")) //nolint:errcheck
	})

	c := New(srv.URL, Options{})
	data, err := c.FetchWaveform(context.Background(), []storage.NSLC{
		{Network: "IU", Station: "NWAO", Location: "00", Channel: "BHZ"},
		{Network: "AU", Station: "ARMA", Channel: "HHZ"},
	}, ts("2025-01-01T00:00:00Z"), ts("2025-01-02T00:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, "MSEED", string(data))
	assert.Equal(t, "nodata=204\n"+
		"IU NWAO 00 BHZ 2025-01-01T00:00:00.000000 2025-01-02T00:00:00.000000\n"+
		"AU ARMA -- HHZ 2025-01-01T00:00:00.000000 2025-01-02T00:00:00.000000\n", got)
}

func TestFetchWaveform_StatusClassification(t *testing.T) {
	tests := []struct {
		code   int
		noData bool
		kind   failure.Kind
	}{
		{http.StatusNoContent, true, failure.Unknown},
		{http.StatusBadRequest, false, failure.Permanent},
		{http.StatusUnauthorized, false, failure.Permanent},
		{http.StatusForbidden, false, failure.Permanent},
		{http.StatusNotFound, false, failure.Permanent},
		{http.StatusTooManyRequests, false, failure.Transient},
		{http.StatusInternalServerError, false, failure.Transient},
		{http.StatusServiceUnavailable, false, failure.Transient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := server(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				if tt.code != http.StatusNoContent {
					w.Write([]byte("Error 400: bad selection\nmore detail")) //nolint:errcheck
				}
			})
			_, err := New(srv.URL, Options{}).FetchWaveform(context.Background(),
				[]storage.NSLC{{Network: "IU", Station: "NWAO", Channel: "BHZ"}},
				ts("2025-01-01T00:00:00Z"), ts("2025-01-02T00:00:00Z"))
			require.Error(t, err)
			if tt.noData {
				assert.True(t, errors.Is(err, acquire.ErrNoData))
				return
			}
			assert.Equal(t, tt.kind, failure.KindOf(err))
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, "Error 400: bad selection", se.Message)
		})
	}
}

func TestFetchWaveform_TransportErrorsAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, Options{Timeout: time.Second}).FetchWaveform(context.Background(),
		[]storage.NSLC{{Network: "IU", Station: "NWAO", Channel: "BHZ"}},
		ts("2025-01-01T00:00:00Z"), ts("2025-01-02T00:00:00Z"))
	require.Error(t, err)
	assert.Equal(t, failure.Transient, failure.KindOf(err))
}

func TestFetchWaveform_Cancelled(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := New(srv.URL, Options{}).FetchWaveform(ctx,
		[]storage.NSLC{{Network: "IU", Station: "NWAO", Channel: "BHZ"}},
		ts("2025-01-01T00:00:00Z"), ts("2025-01-02T00:00:00Z"))
	require.Error(t, err)
	assert.Equal(t, failure.Cancelled, failure.KindOf(err))
}

const stationReply = `#Network | Station | Location | Channel | Latitude | Longitude | Elevation | Depth | Azimuth | Dip | SensorDescription | Scale | ScaleFreq | ScaleUnits | SampleRate | StartTime | EndTime
IU|NWAO|00|BHZ|-32.9277|117.239|380.0|0.0|0.0|-90.0|STS-6|1.0E9|0.05|M/S|20.0|2010-01-01T00:00:00|2015-01-01T00:00:00
IU|NWAO|00|BHZ|-32.9277|117.239|380.0|0.0|0.0|-90.0|STS-6|1.0E9|0.05|M/S|40.0|2015-01-01T00:00:00|
IU|NWAO|00|BHN|-32.9277|117.239|380.0|0.0|0.0|0.0|STS-6|1.0E9|0.05|M/S|40.0|2015-01-01T00:00:00.0000|
AU|ARMA||HHZ|-30.4198|151.6282|590.0|0.0|0.0|-90.0|Trillium|1.0E9|1.0|M/S|100.0|2008-06-01T00:00:00|2030-01-01T00:00:00
`

func TestSearchStations(t *testing.T) {
	var hits atomic.Int32
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, stationPath, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "channel", q.Get("level"))
		assert.Equal(t, "text", q.Get("format"))
		assert.Equal(t, "IU,AU", q.Get("network"))
		assert.Equal(t, "?H?", q.Get("channel"))
		assert.False(t, q.Has("location"), "wildcard location is omitted")
		assert.Equal(t, "2025-01-01T00:00:00.000000", q.Get("starttime"))
		w.Write([]byte(stationReply)) //nolint:errcheck
	})

	c := New(srv.URL, Options{CacheTTL: time.Minute})
	q := acquire.StationQuery{Network: "IU,AU", Location: "*", Channel: "?H?", Start: ts("2025-01-01T00:00:00Z")}
	got, err := c.SearchStations(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, got, 2)

	arma := got[0]
	assert.Equal(t, "AU.ARMA", arma.Key())
	assert.Equal(t, "", arma.Channels[0].Location)
	assert.InDelta(t, 0.59, arma.ElevationKm, 1e-9)
	assert.True(t, arma.End.Equal(ts("2030-01-01T00:00:00Z")))

	nwao := got[1]
	require.Len(t, nwao.Channels, 2)
	assert.Equal(t, "IU.NWAO.00.BHN", nwao.Channels[0].NSLC.String())
	assert.Equal(t, 40.0, nwao.Channels[1].SampleRate, "latest epoch wins")
	assert.True(t, nwao.Start.Equal(ts("2015-01-01T00:00:00Z")))
	assert.True(t, nwao.End.IsZero(), "open channel leaves the station open")

	_, err = c.SearchStations(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second search served from cache")
}

func TestSearchStations_NoContentIsEmpty(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	got, err := New(srv.URL, Options{}).SearchStations(context.Background(), acquire.StationQuery{Network: "XX"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchStations_MalformedReply(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("IU|NWAO|00|BHZ\n")) //nolint:errcheck
	})
	_, err := New(srv.URL, Options{}).SearchStations(context.Background(), acquire.StationQuery{})
	require.Error(t, err)
	assert.Equal(t, failure.Parse, failure.KindOf(err))
}

func TestSearchEvents(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, eventPath, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "5.5", q.Get("minmagnitude"))
		assert.Equal(t, "time-asc", q.Get("orderby"))
		assert.False(t, q.Has("mindepth"))
		w.Write([]byte(strings.Join([]string{ //nolint:errcheck
			"#EventID | Time | Latitude | Longitude | Depth/km | Author | Catalog | Contributor | ContributorID | MagType | Magnitude | MagAuthor | EventLocationName",
			"11952284|2025-01-07T01:05:16.22|28.639|87.361|10.0|us|NEIC PDE|us|us6000pi9w|mww|7.1|us|SOUTHERN XIZANG",
			"11953000|2025-01-09T12:00:00|-20.5|-70.1|35.5|us|NEIC PDE|us|x|mb||us|NORTHERN CHILE",
		}, "\n")))
	})

	got, err := New(srv.URL, Options{}).SearchEvents(context.Background(), acquire.EventQuery{
		Start: ts("2025-01-01T00:00:00Z"), End: ts("2025-02-01T00:00:00Z"), MinMagnitude: 5.5,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "11952284", got[0].ID)
	assert.True(t, got[0].Time.Equal(time.Date(2025, 1, 7, 1, 5, 16, 220000000, time.UTC)))
	assert.Equal(t, 7.1, got[0].Magnitude)
	assert.Equal(t, 35.5, got[1].DepthKm)
	assert.Zero(t, got[1].Magnitude)
}

func TestComputeArrival(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, traveltimePath, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "[28.6,87.4]", q.Get("evloc"))
		assert.Equal(t, "0", q.Get("evdepth"), "negative depth clamps to the surface")
		assert.Equal(t, "ak135", q.Get("model"))
		w.Write([]byte(strings.Join([]string{ //nolint:errcheck
			"   60.00     0.0   PcP      640.51   4.068   18.00   18.00   60.00  = PcP",
			"   60.00     0.0   P        609.67   6.870   30.83   30.83   60.00  = P",
			"   60.00     0.0   ScP      990.00   4.068   10.00   18.00   60.00  = ScP",
			"   60.00     0.0   S       1104.76  12.690   31.06   31.06   60.00  = S",
		}, "\n")))
	})

	ph, err := New(srv.URL, Options{}).ComputeArrival(context.Background(),
		acquire.Event{Latitude: 28.6, Longitude: 87.4, DepthKm: -1},
		acquire.Station{Latitude: -32.9, Longitude: 117.2}, "ak135")
	require.NoError(t, err)
	assert.Equal(t, 609670*time.Millisecond, ph.P)
	require.NotNil(t, ph.S)
	assert.Equal(t, 1104760*time.Millisecond, *ph.S, "ScP is not an S phase")
}

func TestComputeArrival_NoArrivals(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\n")) //nolint:errcheck
	})
	_, err := New(srv.URL, Options{}).ComputeArrival(context.Background(), acquire.Event{}, acquire.Station{}, "iasp91")
	require.Error(t, err)
	assert.Equal(t, failure.Permanent, failure.KindOf(err))
}

func TestRateLimiterHonoursContext(t *testing.T) {
	var hits atomic.Int32
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("x")) //nolint:errcheck
	})
	c := New(srv.URL, Options{RequestsPerSecond: 0.01})
	chans := []storage.NSLC{{Network: "IU", Station: "NWAO", Channel: "BHZ"}}
	start, end := ts("2025-01-01T00:00:00Z"), ts("2025-01-02T00:00:00Z")

	_, err := c.FetchWaveform(context.Background(), chans, start, end)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.FetchWaveform(ctx, chans, start, end)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
