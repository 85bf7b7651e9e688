package config

import (
	"path"
	"strings"
)

// stationMatches reports whether NET.STA matches any entry of list. Entries
// are NET.STA glob patterns such as "IU.*" or "AU.ARMA".
func stationMatches(list []string, network, station string) bool {
	key := network + "." + station
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, ".") {
			entry += ".*"
		}
		if ok, err := path.Match(entry, key); err == nil && ok {
			return true
		}
	}
	return false
}

// Excluded reports whether a station is on the exclude_stations list.
func (s StationConfig) Excluded(network, station string) bool {
	return stationMatches(s.ExcludeStations, network, station)
}

// Forced reports whether a station is on the force_stations list. Forced
// stations bypass the sample rate filter but not the exclude list.
func (s StationConfig) Forced(network, station string) bool {
	return stationMatches(s.ForceStations, network, station)
}
