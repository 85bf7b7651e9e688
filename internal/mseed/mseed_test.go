package mseed

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/seedvault/internal/failure"
	"github.com/runnerr0/seedvault/internal/mseed/mseedtest"
)

func TestParse_SingleRecord(t *testing.T) {
	start := time.Date(2025, 3, 4, 5, 6, 7, 500_000_000, time.UTC)
	data := mseedtest.Record("IU.NWAO.00.BHZ", start, 400, 40)

	recs, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.Equal(t, "IU.NWAO.00.BHZ", r.ID())
	assert.Equal(t, byte('D'), r.Quality)
	assert.True(t, r.Start.Equal(start), "start %s", r.Start)
	assert.Equal(t, 400, r.NumSamples)
	assert.Equal(t, 40.0, r.SampleRate)
	assert.Equal(t, 512, r.Length)
	assert.True(t, r.End().Equal(start.Add(10*time.Second)))
}

func TestParse_EmptyLocation(t *testing.T) {
	data := mseedtest.Record("AU.ARMA..HHZ", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 100, 100)
	recs, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "", recs[0].Location)
	assert.Equal(t, "AU.ARMA..HHZ", recs[0].ID())
}

func TestParse_Series(t *testing.T) {
	start := time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC)
	data := mseedtest.Series("IU.NWAO.00.BHZ", start, 3, 200, 20)

	recs, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, i*512, r.Offset)
	}
	assert.True(t, recs[0].End().Equal(recs[1].Start))
	assert.True(t, recs[2].End().Equal(start.Add(30*time.Second)))
}

func TestParse_TimeCorrection(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	data := mseedtest.Record("IU.NWAO.00.BHZ", start, 10, 10)
	binary.BigEndian.PutUint32(data[40:44], 5000) // +0.5s, not yet applied

	recs, err := Parse(data)
	require.NoError(t, err)
	assert.True(t, recs[0].Start.Equal(start.Add(500*time.Millisecond)))

	data[36] |= 0x02 // correction already applied
	recs, err = Parse(data)
	require.NoError(t, err)
	assert.True(t, recs[0].Start.Equal(start))
}

func TestParse_Malformed(t *testing.T) {
	good := mseedtest.Record("IU.NWAO.00.BHZ", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 10, 10)

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", good[:20]},
		{"not a header", append([]byte("this is not miniseed at all......................"), good[50:]...)},
		{"bad day of year", func() []byte {
			b := append([]byte(nil), good...)
			binary.BigEndian.PutUint16(b[22:24], 400)
			return b
		}()},
		{"overrun", append(append([]byte(nil), good...), good[:100]...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.Parse), "got %v", err)
		})
	}
}

func TestSampleRate(t *testing.T) {
	assert.Equal(t, 20.0, sampleRate(20, 1))
	assert.Equal(t, 0.1, sampleRate(1, -10))
	assert.Equal(t, 0.1, sampleRate(-10, 1))
	assert.Equal(t, 0.01, sampleRate(-10, -10))
	assert.Equal(t, 0.0, sampleRate(0, 1))
}
