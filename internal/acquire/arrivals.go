package acquire

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang/geo/s2"
	"go.uber.org/zap"

	"github.com/runnerr0/seedvault/internal/progress"
	"github.com/runnerr0/seedvault/internal/span"
	"github.com/runnerr0/seedvault/internal/storage"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Geometry is the great-circle relation between an event and a station.
type Geometry struct {
	DistanceDeg float64
	DistanceKm  float64
	// Azimuth is the forward azimuth from event to station in degrees,
	// clockwise from north in [0, 360).
	Azimuth float64
}

// ComputeGeometry returns distance and azimuth from the event epicentre to
// the station.
func ComputeGeometry(evLat, evLon, stLat, stLon float64) Geometry {
	a := s2.LatLngFromDegrees(evLat, evLon)
	b := s2.LatLngFromDegrees(stLat, stLon)
	angle := a.Distance(b)

	lat1, lat2 := a.Lat.Radians(), b.Lat.Radians()
	dLon := b.Lng.Radians() - a.Lng.Radians()
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	az := math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)

	return Geometry{
		DistanceDeg: angle.Degrees(),
		DistanceKm:  angle.Radians() * EarthRadiusKm,
		Azimuth:     az,
	}
}

// ArrivalOptions tunes an ArrivalCalculator.
type ArrivalOptions struct {
	Model     string
	BeforeP   time.Duration
	AfterP    time.Duration
	MinRadius float64
	MaxRadius float64
	// Recompute replaces stored arrivals instead of reusing them.
	Recompute bool
	Logger    *zap.Logger
	Bus       *progress.Bus
}

// ArrivalStats counts what Requests did with each event-station pair.
type ArrivalStats struct {
	Computed int
	Reused   int
	Skipped  int
}

// ArrivalCalculator derives event-mode fetch windows from theoretical P
// arrivals and records them in the index.
type ArrivalCalculator struct {
	ix   *storage.Index
	tt   TravelTimer
	opts ArrivalOptions
	log  *zap.Logger
}

// NewArrivalCalculator returns a calculator that stores records in ix.
func NewArrivalCalculator(ix *storage.Index, tt TravelTimer, opts ArrivalOptions) *ArrivalCalculator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &ArrivalCalculator{ix: ix, tt: tt, opts: opts, log: log.Named("arrivals")}
}

// Requests returns one request per usable event-station pair covering
// [P - BeforeP, P + AfterP] for the station's channels. Pairs that fall
// outside the radius limits, predate or postdate the station, or fail in
// the travel-time service are skipped. Only index failures are returned.
func (a *ArrivalCalculator) Requests(ctx context.Context, events []Event, stations []Station) ([]Request, ArrivalStats, error) {
	var (
		out   []Request
		stats ArrivalStats
	)
	for _, ev := range events {
		for _, st := range stations {
			if err := ctx.Err(); err != nil {
				return out, stats, err
			}
			p, reused, err := a.arrival(ctx, ev, st)
			if err != nil {
				if errors.Is(err, errSkipPair) {
					stats.Skipped++
					continue
				}
				return out, stats, err
			}
			if reused {
				stats.Reused++
			} else {
				stats.Computed++
			}
			out = append(out, Request{
				Channels: st.NSLCs(),
				Window:   span.New(p.Add(-a.opts.BeforeP), p.Add(a.opts.AfterP)),
			})
		}
	}
	return out, stats, nil
}

var errSkipPair = errors.New("pair skipped")

func (a *ArrivalCalculator) skip(ev Event, st Station, reason string, fields ...zap.Field) error {
	a.log.Info("skipping event-station pair",
		append([]zap.Field{zap.String("event", ev.ID), zap.String("station", st.Key()), zap.String("reason", reason)}, fields...)...)
	a.opts.Bus.Publish(progress.PairSkipped{EventID: ev.ID, Station: st.Key(), Reason: reason})
	return errSkipPair
}

func (a *ArrivalCalculator) arrival(ctx context.Context, ev Event, st Station) (time.Time, bool, error) {
	geo := ComputeGeometry(ev.Latitude, ev.Longitude, st.Latitude, st.Longitude)
	if geo.DistanceDeg < a.opts.MinRadius || (a.opts.MaxRadius > 0 && geo.DistanceDeg > a.opts.MaxRadius) {
		return time.Time{}, false, a.skip(ev, st, "outside radius", zap.Float64("distance_deg", geo.DistanceDeg))
	}
	if (!st.Start.IsZero() && ev.Time.Before(st.Start)) || (!st.End.IsZero() && ev.Time.After(st.End)) {
		return time.Time{}, false, a.skip(ev, st, "station not operating")
	}

	key := storage.ArrivalKey{EventID: ev.ID, Network: st.Network, Station: st.Station, Model: a.opts.Model}
	if !a.opts.Recompute {
		rec, err := a.ix.Arrival(ctx, key)
		switch {
		case err == nil:
			return rec.PArrival, true, nil
		case !errors.Is(err, storage.ErrNotFound):
			return time.Time{}, false, err
		}
	}

	phases, err := a.tt.ComputeArrival(ctx, ev, st, a.opts.Model)
	if err != nil {
		if ctx.Err() != nil {
			return time.Time{}, false, ctx.Err()
		}
		return time.Time{}, false, a.skip(ev, st, "travel time unavailable", zap.Error(err))
	}

	rec := storage.ArrivalRecord{
		EventID:       ev.ID,
		EventLat:      ev.Latitude,
		EventLon:      ev.Longitude,
		EventDepthKm:  ev.DepthKm,
		EventMag:      ev.Magnitude,
		EventTime:     ev.Time,
		Network:       st.Network,
		Station:       st.Station,
		StationLat:    st.Latitude,
		StationLon:    st.Longitude,
		StationElevKm: st.ElevationKm,
		StationStart:  st.Start,
		StationEnd:    st.End,
		DistanceDeg:   geo.DistanceDeg,
		DistanceKm:    geo.DistanceKm,
		Azimuth:       geo.Azimuth,
		PArrival:      ev.Time.Add(phases.P),
		Model:         a.opts.Model,
	}
	if phases.S != nil {
		s := ev.Time.Add(*phases.S)
		rec.SArrival = &s
	}
	if _, err := a.ix.RecordArrival(ctx, rec, a.opts.Recompute); err != nil {
		return time.Time{}, false, err
	}
	return rec.PArrival, false, nil
}
