// Package sds maps streams onto the SeisComP Data Structure directory
// layout, writes fetched payloads into it, and scans existing trees into
// the archive index.
package sds

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/runnerr0/seedvault/internal/span"
	"github.com/runnerr0/seedvault/internal/storage"
)

// DefaultPatterns matches SDS day file names: NET.STA.LOC.CHA.TYPE.YEAR.DOY.
const DefaultPatterns = "??.*.*.???.?.????.???"

// DataType is the SDS type letter used for waveform data files.
const DataType = "D"

// FileName is a parsed SDS day file name.
type FileName struct {
	storage.NSLC
	Type string
	Year int
	DOY  int
}

// Day returns midnight UTC of the file's day.
func (f FileName) Day() time.Time {
	return DayStart(f.Year, f.DOY)
}

// Span returns the day the file covers.
func (f FileName) Span() span.Span {
	d := f.Day()
	return span.New(d, d.AddDate(0, 0, 1))
}

// DayStart returns midnight UTC of day doy of year.
func DayStart(year, doy int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1)
}

// Truncate returns midnight UTC of t's day.
func Truncate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Name returns the day file name for id on day.
func Name(id storage.NSLC, day time.Time) string {
	day = day.UTC()
	return fmt.Sprintf("%s.%s.%s.%s.%s.%04d.%03d",
		id.Network, id.Station, id.Location, id.Channel, DataType, day.Year(), day.YearDay())
}

// DayPath returns root/YEAR/NET/STA/CHA.D/NET.STA.LOC.CHA.D.YEAR.DOY.
func DayPath(root string, id storage.NSLC, day time.Time) string {
	day = day.UTC()
	return filepath.Join(root,
		strconv.Itoa(day.Year()), id.Network, id.Station, id.Channel+"."+DataType,
		Name(id, day))
}

// ParseFileName parses the base name of an SDS day file.
func ParseFileName(path string) (FileName, error) {
	base := filepath.Base(path)
	parts := strings.Split(base, ".")
	if len(parts) != 7 {
		return FileName{}, errors.Newf("%q is not an SDS day file name", base)
	}
	year, err := strconv.Atoi(parts[5])
	if err != nil || len(parts[5]) != 4 {
		return FileName{}, errors.Newf("%q: bad year %q", base, parts[5])
	}
	doy, err := strconv.Atoi(parts[6])
	if err != nil || doy < 1 || doy > 366 {
		return FileName{}, errors.Newf("%q: bad day of year %q", base, parts[6])
	}
	if parts[0] == "" || parts[1] == "" || parts[3] == "" {
		return FileName{}, errors.Newf("%q: empty network, station or channel", base)
	}
	return FileName{
		NSLC: storage.NSLC{Network: parts[0], Station: parts[1], Location: parts[2], Channel: parts[3]},
		Type: parts[4],
		Year: year,
		DOY:  doy,
	}, nil
}

// Days returns midnight UTC of every day s touches.
func Days(s span.Span) []time.Time {
	if s.Empty() {
		return nil
	}
	var out []time.Time
	for d := Truncate(s.Start); d.Before(s.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// ParsePatterns splits a comma-separated glob list, falling back to
// DefaultPatterns when s is blank.
func ParsePatterns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{DefaultPatterns}
	}
	return out
}

// matchAny reports whether the base name of path matches one of patterns.
func matchAny(patterns []string, path string) bool {
	base := filepath.Base(path)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}
