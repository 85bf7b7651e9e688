package storage

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zeebo/xxh3"

	"github.com/runnerr0/seedvault/internal/span"
)

// NSLC identifies one data stream: network, station, location, channel.
type NSLC struct {
	Network  string `json:"network"`
	Station  string `json:"station"`
	Location string `json:"location"`
	Channel  string `json:"channel"`
}

// String returns the dotted NN.SSSSS.LL.CCC form.
func (n NSLC) String() string {
	return n.Network + "." + n.Station + "." + n.Location + "." + n.Channel
}

// StationKey returns NET.STA.
func (n NSLC) StationKey() string {
	return n.Network + "." + n.Station
}

// ParseNSLC parses a dotted NN.SSSSS.LL.CCC identifier. The location code
// may be empty.
func ParseNSLC(s string) (NSLC, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 || parts[0] == "" || parts[1] == "" || parts[3] == "" {
		return NSLC{}, errors.Newf("invalid NSLC %q", s)
	}
	return NSLC{Network: parts[0], Station: parts[1], Location: parts[2], Channel: parts[3]}, nil
}

// SortNSLCs orders ids lexicographically by their dotted form.
func SortNSLCs(ids []NSLC) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

// Segment is one contiguous archived interval for one NSLC.
type Segment struct {
	NSLC
	Start      time.Time
	End        time.Time
	ImportedAt time.Time
}

// Span returns the segment's interval.
func (s Segment) Span() span.Span {
	return span.New(s.Start, s.End)
}

// ArrivalKey identifies an ArrivalRecord.
type ArrivalKey struct {
	EventID string
	Network string
	Station string
	Model   string
}

// ArrivalRecord is the computed geometry and phase timing of one
// event-station pair under one velocity model.
type ArrivalRecord struct {
	EventID       string
	EventLat      float64
	EventLon      float64
	EventDepthKm  float64
	EventMag      float64
	EventTime     time.Time
	Network       string
	Station       string
	StationLat    float64
	StationLon    float64
	StationElevKm float64
	StationStart  time.Time
	StationEnd    time.Time
	DistanceDeg   float64
	DistanceKm    float64
	Azimuth       float64
	PArrival      time.Time
	SArrival      *time.Time
	Model         string
	ImportedAt    time.Time
}

// Key returns the record's primary key.
func (r ArrivalRecord) Key() ArrivalKey {
	return ArrivalKey{EventID: r.EventID, Network: r.Network, Station: r.Station, Model: r.Model}
}

// ChunkStatus is the persisted state of a chunk.
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "pending"
	ChunkInProgress ChunkStatus = "in_progress"
	ChunkDone       ChunkStatus = "done"
	ChunkFailed     ChunkStatus = "failed"
)

// Chunk is one bounded unit of fetch work: a channel group over a window.
type Chunk struct {
	ID         string
	RunID      string
	Channels   []NSLC
	Start      time.Time
	End        time.Time
	Status     ChunkStatus
	RetryCount int
	LastError  string
	ErrorKind  string
	Bytes      int64
	Checksum   string
	UpdatedAt  time.Time
}

// Span returns the chunk's window.
func (c Chunk) Span() span.Span {
	return span.New(c.Start, c.End)
}

// ChunkID derives a stable identifier from the channel set and window, so
// re-planning the same work lands on the same journal row.
func ChunkID(channels []NSLC, start, end time.Time) string {
	ids := make([]NSLC, len(channels))
	copy(ids, channels)
	SortNSLCs(ids)

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id.String())
		b.WriteByte(',')
	}
	b.WriteString(formatTime(start))
	b.WriteByte('/')
	b.WriteString(formatTime(end))
	return strconv.FormatUint(xxh3.HashString(b.String()), 16)
}

// Stats holds aggregate statistics about the archive index.
type Stats struct {
	Segments      int64
	Channels      int64
	Arrivals      int64
	NoDataMarks   int64
	EarliestStart time.Time
	LatestEnd     time.Time
	Chunks        map[ChunkStatus]int64
}

const timeLayout = "2006-01-02T15:04:05.000000Z"

// formatTime renders t as fixed-width UTC ISO 8601 so stored times compare
// correctly as text.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse stored time %q", s)
	}
	return t.UTC(), nil
}

func encodeChannels(ids []NSLC) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

func decodeChannels(s string) ([]NSLC, error) {
	if s == "" {
		return nil, nil
	}
	var out []NSLC
	for _, p := range strings.Split(s, ",") {
		id, err := ParseNSLC(p)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func timeFromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
