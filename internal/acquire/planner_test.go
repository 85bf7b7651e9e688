package acquire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/seedvault/internal/span"
	"github.com/runnerr0/seedvault/internal/storage"
)

func TestPlanner_SplitsByDays(t *testing.T) {
	p := Planner{DaysPerRequest: 2, StationsPerRequest: 10, Now: clock}
	chunks := p.Plan("run", []Request{{
		Channels: []storage.NSLC{nwaoBHZ},
		Window:   sp("2025-01-01T00:00:00Z", "2025-01-05T00:00:00Z"),
	}})

	require.Len(t, chunks, 2)
	assert.Equal(t, sp("2025-01-01T00:00:00Z", "2025-01-03T00:00:00Z"), chunks[0].Span())
	assert.Equal(t, sp("2025-01-03T00:00:00Z", "2025-01-05T00:00:00Z"), chunks[1].Span())
	for _, c := range chunks {
		assert.Equal(t, "run", c.RunID)
		assert.Equal(t, storage.ChunkPending, c.Status)
		assert.Equal(t, storage.ChunkID(c.Channels, c.Start, c.End), c.ID)
	}
}

func TestPlanner_PartialLastWindow(t *testing.T) {
	p := Planner{DaysPerRequest: 2, StationsPerRequest: 10, Now: clock}
	chunks := p.Plan("run", []Request{{
		Channels: []storage.NSLC{nwaoBHZ},
		Window:   sp("2025-01-01T00:00:00Z", "2025-01-03T06:00:00Z"),
	}})
	require.Len(t, chunks, 2)
	assert.Equal(t, 6*time.Hour, chunks[1].Span().Duration())
}

func TestPlanner_GroupsByStation(t *testing.T) {
	p := Planner{DaysPerRequest: 1, StationsPerRequest: 1, Now: clock}
	chunks := p.Plan("run", []Request{{
		Channels: []storage.NSLC{nwaoBHZ, armaHHZ, nwaoBHN},
		Window:   sp("2025-01-01T00:00:00Z", "2025-01-03T00:00:00Z"),
	}})

	require.Len(t, chunks, 4)
	// Earlier windows first, then first NSLC.
	assert.Equal(t, []storage.NSLC{armaHHZ}, chunks[0].Channels)
	assert.Equal(t, []storage.NSLC{nwaoBHN, nwaoBHZ}, chunks[1].Channels)
	assert.True(t, chunks[0].Start.Equal(chunks[1].Start))
	assert.Equal(t, []storage.NSLC{armaHHZ}, chunks[2].Channels)
	assert.True(t, chunks[2].Start.Equal(ts("2025-01-02T00:00:00Z")))
}

func TestPlanner_GroupLimitCountsStations(t *testing.T) {
	p := Planner{DaysPerRequest: 1, StationsPerRequest: 2, Now: clock}
	chunks := p.Plan("run", []Request{{
		Channels: []storage.NSLC{nwaoBHZ, armaHHZ, nwaoBHN},
		Window:   sp("2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z"),
	}})
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Channels, 3)
}

func TestPlanner_ClampsToNow(t *testing.T) {
	p := Planner{DaysPerRequest: 10, StationsPerRequest: 1, Now: clock}
	chunks := p.Plan("run", []Request{{
		Channels: []storage.NSLC{nwaoBHZ},
		Window:   span.New(fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour)),
	}})
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].End.Equal(fixedNow.Add(-EndTimeLag)))

	future := p.Plan("run", []Request{{
		Channels: []storage.NSLC{nwaoBHZ},
		Window:   span.New(fixedNow, fixedNow.Add(time.Hour)),
	}})
	assert.Empty(t, future)
}

func TestPlanner_DuplicateRequestsCollapse(t *testing.T) {
	p := Planner{DaysPerRequest: 1, StationsPerRequest: 1, Now: clock}
	req := Request{Channels: []storage.NSLC{nwaoBHZ}, Window: sp("2025-01-01T00:00:00Z", "2025-01-01T01:00:00Z")}
	assert.Len(t, p.Plan("run", []Request{req, req}), 1)
	assert.Empty(t, p.Plan("run", []Request{{Window: req.Window}}))
}
