package storage

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
)

const arrivalColumns = `resource_id, e_mag, e_lat, e_long, e_depth, e_time,
	s_netcode, s_stacode, s_lat, s_long, s_elev, s_start, s_end,
	dist_deg, dist_km, azimuth, p_arrival, s_arrival, model, importtime`

// RecordArrival stores rec if its key is absent. An existing record is left
// untouched unless force is set, in which case it is replaced. The result
// reports whether a row was written.
func (ix *Index) RecordArrival(ctx context.Context, rec ArrivalRecord, force bool) (bool, error) {
	verb := "INSERT OR IGNORE"
	if force {
		verb = "INSERT OR REPLACE"
	}
	if rec.ImportedAt.IsZero() {
		rec.ImportedAt = ix.now()
	}

	var sArrival sql.NullFloat64
	if rec.SArrival != nil {
		sArrival = sql.NullFloat64{Float64: unixSeconds(*rec.SArrival), Valid: true}
	}
	var sStart, sEnd sql.NullFloat64
	if !rec.StationStart.IsZero() {
		sStart = sql.NullFloat64{Float64: unixSeconds(rec.StationStart), Valid: true}
	}
	if !rec.StationEnd.IsZero() {
		sEnd = sql.NullFloat64{Float64: unixSeconds(rec.StationEnd), Valid: true}
	}

	res, err := ix.db.ExecContext(ctx, verb+` INTO arrival_data (`+arrivalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.EventMag, rec.EventLat, rec.EventLon, rec.EventDepthKm, unixSeconds(rec.EventTime),
		rec.Network, rec.Station, rec.StationLat, rec.StationLon, rec.StationElevKm, sStart, sEnd,
		rec.DistanceDeg, rec.DistanceKm, rec.Azimuth, unixSeconds(rec.PArrival), sArrival, rec.Model, rec.ImportedAt.Unix(),
	)
	if err != nil {
		return false, indexErr(err, "record arrival %s/%s.%s/%s", rec.EventID, rec.Network, rec.Station, rec.Model)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, indexErr(err, "record arrival")
	}
	return n > 0, nil
}

// Arrival returns the record stored under key, or ErrNotFound.
func (ix *Index) Arrival(ctx context.Context, key ArrivalKey) (*ArrivalRecord, error) {
	rec, err := scanArrival(ix.getArrival.QueryRowContext(ctx, key.EventID, key.Network, key.Station, key.Model))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrNotFound, "arrival %s/%s.%s/%s", key.EventID, key.Network, key.Station, key.Model)
		}
		return nil, indexErr(err, "get arrival")
	}
	return rec, nil
}

// ArrivalsForEvent returns every stored record of one event, ordered by
// distance.
func (ix *Index) ArrivalsForEvent(ctx context.Context, eventID string) ([]ArrivalRecord, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT `+arrivalColumns+`
		FROM arrival_data WHERE resource_id = ? ORDER BY dist_deg, s_netcode, s_stacode`, eventID)
	if err != nil {
		return nil, indexErr(err, "list arrivals of %s", eventID)
	}
	defer rows.Close()

	var out []ArrivalRecord
	for rows.Next() {
		rec, err := scanArrival(rows)
		if err != nil {
			return nil, indexErr(err, "scan arrival")
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, indexErr(err, "list arrivals of %s", eventID)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArrival(row rowScanner) (*ArrivalRecord, error) {
	var (
		rec                    ArrivalRecord
		eTime, pArrival        float64
		sArrival, sStart, sEnd sql.NullFloat64
		imported               int64
	)
	err := row.Scan(
		&rec.EventID, &rec.EventMag, &rec.EventLat, &rec.EventLon, &rec.EventDepthKm, &eTime,
		&rec.Network, &rec.Station, &rec.StationLat, &rec.StationLon, &rec.StationElevKm, &sStart, &sEnd,
		&rec.DistanceDeg, &rec.DistanceKm, &rec.Azimuth, &pArrival, &sArrival, &rec.Model, &imported,
	)
	if err != nil {
		return nil, err
	}
	rec.EventTime = fromUnixSeconds(eTime)
	rec.PArrival = fromUnixSeconds(pArrival)
	if sArrival.Valid {
		t := fromUnixSeconds(sArrival.Float64)
		rec.SArrival = &t
	}
	if sStart.Valid {
		rec.StationStart = fromUnixSeconds(sStart.Float64)
	}
	if sEnd.Valid {
		rec.StationEnd = fromUnixSeconds(sEnd.Float64)
	}
	rec.ImportedAt = timeFromUnix(imported)
	return &rec, nil
}
