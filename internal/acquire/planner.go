package acquire

import (
	"time"

	"github.com/runnerr0/seedvault/internal/span"
	"github.com/runnerr0/seedvault/internal/storage"
)

// EndTimeLag keeps requests clear of data the services may still be
// assembling.
const EndTimeLag = 2 * time.Minute

// Request is one interval wanted for a set of channels.
type Request struct {
	Channels []storage.NSLC
	Window   span.Span
}

// Planner decomposes requests into bounded chunks.
type Planner struct {
	DaysPerRequest     int
	StationsPerRequest int
	// Now is the clock used for the end time clamp.
	Now func() time.Time
}

// Plan returns one chunk per (channel group × window) across all requests,
// ordered by window start and then first NSLC. Windows are consecutive and
// at most DaysPerRequest days long; groups hold at most StationsPerRequest
// distinct stations. Requests ending after now-EndTimeLag are clamped.
func (p Planner) Plan(runID string, reqs []Request) []storage.Chunk {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	limit := now().UTC().Add(-EndTimeLag)

	var out []storage.Chunk
	seen := make(map[string]bool)
	for _, req := range reqs {
		w := req.Window
		if w.End.After(limit) {
			w.End = limit
		}
		if w.Empty() || len(req.Channels) == 0 {
			continue
		}
		groups := p.groups(req.Channels)
		for _, win := range p.windows(w) {
			for _, g := range groups {
				id := storage.ChunkID(g, win.Start, win.End)
				if seen[id] {
					continue
				}
				seen[id] = true
				out = append(out, storage.Chunk{
					ID:       id,
					RunID:    runID,
					Channels: g,
					Start:    win.Start,
					End:      win.End,
					Status:   storage.ChunkPending,
				})
			}
		}
	}
	SortChunks(out)
	return out
}

func (p Planner) windows(w span.Span) []span.Span {
	days := p.DaysPerRequest
	if days < 1 {
		days = 1
	}
	var out []span.Span
	for start := w.Start; start.Before(w.End); {
		end := start.AddDate(0, 0, days)
		if end.After(w.End) {
			end = w.End
		}
		out = append(out, span.New(start, end))
		start = end
	}
	return out
}

// groups sorts ids and cuts them into runs of at most StationsPerRequest
// distinct stations. Channels of one station always share a group.
func (p Planner) groups(ids []storage.NSLC) [][]storage.NSLC {
	limit := p.StationsPerRequest
	if limit < 1 {
		limit = 1
	}
	sorted := append([]storage.NSLC(nil), ids...)
	storage.SortNSLCs(sorted)

	var (
		out      [][]storage.NSLC
		cur      []storage.NSLC
		stations = make(map[string]bool)
	)
	for _, id := range sorted {
		key := id.StationKey()
		if !stations[key] && len(stations) == limit {
			out = append(out, cur)
			cur = nil
			stations = make(map[string]bool)
		}
		stations[key] = true
		cur = append(cur, id)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
