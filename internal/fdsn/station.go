package fdsn

import (
	"bufio"
	"bytes"
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/seedvault/internal/acquire"
	"github.com/runnerr0/seedvault/internal/failure"
	"github.com/runnerr0/seedvault/internal/storage"
)

const stationPath = "/fdsnws/station/1/query"

var _ acquire.StationSearcher = (*Client)(nil)

// SearchStations queries the station service at channel level.
func (c *Client) SearchStations(ctx context.Context, q acquire.StationQuery) ([]acquire.Station, error) {
	v := url.Values{}
	v.Set("level", "channel")
	v.Set("format", "text")
	v.Set("nodata", "204")
	setCode(v, "network", q.Network)
	setCode(v, "station", q.Station)
	setCode(v, "location", q.Location)
	setCode(v, "channel", q.Channel)
	if !q.Start.IsZero() {
		v.Set("starttime", formatTime(q.Start))
	}
	if !q.End.IsZero() {
		v.Set("endtime", formatTime(q.End))
	}

	body, err := c.get(ctx, stationPath, v)
	if err != nil {
		return nil, err
	}
	return parseStations(body)
}

func setCode(v url.Values, key, code string) {
	if code != "" && code != "*" {
		v.Set(key, code)
	}
}

// Column positions in a level=channel text reply.
const (
	colNet = iota
	colSta
	colLoc
	colCha
	colLat
	colLon
	colElev
	colDepth
	colAz
	colDip
	colSensor
	colScale
	colScaleFreq
	colScaleUnits
	colRate
	colStart
	colEnd
	channelCols
)

// parseStations groups channel rows by station. When a channel has several
// epochs the latest one wins.
func parseStations(body []byte) ([]acquire.Station, error) {
	stations := make(map[string]*acquire.Station)
	index := make(map[string]map[storage.NSLC]int)

	sc := bufio.NewScanner(bytes.NewReader(body))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		f := splitRow(text)
		if len(f) < channelCols {
			return nil, failure.Newf(failure.Parse, "station line %d: %d columns, want %d", line, len(f), channelCols)
		}
		ch, err := parseChannel(f)
		if err != nil {
			return nil, failure.Wrapf(err, failure.Parse, "station line %d", line)
		}
		lat, err1 := strconv.ParseFloat(f[colLat], 64)
		lon, err2 := strconv.ParseFloat(f[colLon], 64)
		if err1 != nil || err2 != nil {
			return nil, failure.Newf(failure.Parse, "station line %d: bad coordinates", line)
		}
		elev, _ := strconv.ParseFloat(f[colElev], 64)

		key := ch.NSLC.StationKey()
		st, ok := stations[key]
		if !ok {
			st = &acquire.Station{
				Network:     ch.Network,
				Station:     ch.Station,
				Latitude:    lat,
				Longitude:   lon,
				ElevationKm: elev / 1000,
			}
			stations[key] = st
			index[key] = make(map[storage.NSLC]int)
		}
		if i, seen := index[key][ch.NSLC]; seen {
			if ch.Start.After(st.Channels[i].Start) {
				st.Channels[i] = ch
			}
			continue
		}
		index[key][ch.NSLC] = len(st.Channels)
		st.Channels = append(st.Channels, ch)
	}
	if err := sc.Err(); err != nil {
		return nil, failure.Wrapf(err, failure.Parse, "reading station reply")
	}

	out := make([]acquire.Station, 0, len(stations))
	for _, st := range stations {
		st.Start, st.End = epochBounds(st.Channels)
		sort.Slice(st.Channels, func(i, j int) bool {
			return st.Channels[i].NSLC.String() < st.Channels[j].NSLC.String()
		})
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func parseChannel(f []string) (acquire.Channel, error) {
	ch := acquire.Channel{NSLC: storage.NSLC{
		Network:  f[colNet],
		Station:  f[colSta],
		Location: strings.Trim(f[colLoc], "-"),
		Channel:  f[colCha],
	}}
	var err error
	if f[colRate] != "" {
		if ch.SampleRate, err = strconv.ParseFloat(f[colRate], 64); err != nil {
			return ch, err
		}
	}
	if ch.Start, err = parseTime(f[colStart]); err != nil {
		return ch, err
	}
	if f[colEnd] != "" {
		if ch.End, err = parseTime(f[colEnd]); err != nil {
			return ch, err
		}
	}
	return ch, nil
}

// epochBounds returns the earliest channel start and the latest channel
// end. The end is zero when any channel is still open.
func epochBounds(chans []acquire.Channel) (start, end time.Time) {
	for i, c := range chans {
		if i == 0 || c.Start.Before(start) {
			start = c.Start
		}
	}
	for _, c := range chans {
		if c.End.IsZero() {
			return start, time.Time{}
		}
		if c.End.After(end) {
			end = c.End
		}
	}
	return start, end
}

func splitRow(line string) []string {
	f := strings.Split(line, "|")
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}
	return f
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}
