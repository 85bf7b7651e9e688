package storage

import "database/sql"

// migrateV001 creates the archive coverage and arrival tables. Column names
// match the index layout shared with other SDS tooling.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS archive_data (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			network    TEXT NOT NULL,
			station    TEXT NOT NULL,
			location   TEXT NOT NULL DEFAULT '',
			channel    TEXT NOT NULL,
			starttime  TEXT NOT NULL,
			endtime    TEXT NOT NULL,
			importtime INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS arrival_data (
			resource_id TEXT NOT NULL,
			e_mag       REAL,
			e_lat       REAL,
			e_long      REAL,
			e_depth     REAL,
			e_time      REAL,
			s_netcode   TEXT NOT NULL,
			s_stacode   TEXT NOT NULL,
			s_lat       REAL,
			s_long      REAL,
			s_elev      REAL,
			s_start     REAL,
			s_end       REAL,
			dist_deg    REAL,
			dist_km     REAL,
			azimuth     REAL,
			p_arrival   REAL,
			s_arrival   REAL,
			model       TEXT NOT NULL,
			importtime  INTEGER NOT NULL,
			PRIMARY KEY (resource_id, s_netcode, s_stacode, model)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_archive_nslc_start ON archive_data(network, station, location, channel, starttime)`,
		`CREATE INDEX IF NOT EXISTS idx_archive_nslc_end   ON archive_data(network, station, location, channel, endtime)`,
		`CREATE INDEX IF NOT EXISTS idx_arrival_station    ON arrival_data(s_netcode, s_stacode)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
