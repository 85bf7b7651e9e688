// Package acquire turns acquisition requests into the minimal set of remote
// fetches, runs them with retry and resume, and commits the results to the
// SDS archive and its index.
package acquire

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/runnerr0/seedvault/internal/storage"
)

// ErrNoData is returned by a Transfer when the service holds nothing for
// the requested window.
var ErrNoData = errors.New("no data available")

// Channel is one stream offered by a station.
type Channel struct {
	storage.NSLC
	SampleRate float64
	Start      time.Time
	End        time.Time
}

// Station is a station with its location and the channels a search
// returned for it.
type Station struct {
	Network     string
	Station     string
	Latitude    float64
	Longitude   float64
	ElevationKm float64
	Start       time.Time
	End         time.Time
	Channels    []Channel
}

// Key returns NET.STA.
func (s Station) Key() string {
	return s.Network + "." + s.Station
}

// NSLCs returns the station's channel identifiers in sorted order.
func (s Station) NSLCs() []storage.NSLC {
	out := make([]storage.NSLC, len(s.Channels))
	for i, c := range s.Channels {
		out[i] = c.NSLC
	}
	storage.SortNSLCs(out)
	return out
}

// StationQuery constrains a station search. Code fields accept FDSN
// wildcards.
type StationQuery struct {
	Network  string
	Station  string
	Location string
	Channel  string
	Start    time.Time
	End      time.Time
}

// Event is one seismic event from a catalogue search.
type Event struct {
	ID        string
	Time      time.Time
	Latitude  float64
	Longitude float64
	DepthKm   float64
	Magnitude float64
}

// EventQuery constrains an event search.
type EventQuery struct {
	Start        time.Time
	End          time.Time
	MinMagnitude float64
	MaxMagnitude float64
	MinDepthKm   float64
	MaxDepthKm   float64
}

// Phases are arrival offsets relative to the event origin time.
type Phases struct {
	P time.Duration
	// S is nil when the model yields no S arrival at this distance.
	S *time.Duration
}

// StationSearcher finds stations and channels.
type StationSearcher interface {
	SearchStations(ctx context.Context, q StationQuery) ([]Station, error)
}

// EventSearcher finds events.
type EventSearcher interface {
	SearchEvents(ctx context.Context, q EventQuery) ([]Event, error)
}

// Transfer fetches raw miniSEED for a set of channels over one window.
// It returns ErrNoData when the service has nothing to send.
type Transfer interface {
	FetchWaveform(ctx context.Context, channels []storage.NSLC, start, end time.Time) ([]byte, error)
}

// TravelTimer computes theoretical phase arrivals.
type TravelTimer interface {
	ComputeArrival(ctx context.Context, ev Event, st Station, model string) (Phases, error)
}
