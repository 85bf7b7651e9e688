package fdsn

import (
	"bufio"
	"bytes"
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/runnerr0/seedvault/internal/acquire"
	"github.com/runnerr0/seedvault/internal/failure"
)

const eventPath = "/fdsnws/event/1/query"

var _ acquire.EventSearcher = (*Client)(nil)

// SearchEvents queries the event service, oldest first.
func (c *Client) SearchEvents(ctx context.Context, q acquire.EventQuery) ([]acquire.Event, error) {
	v := url.Values{}
	v.Set("format", "text")
	v.Set("orderby", "time-asc")
	v.Set("nodata", "204")
	if !q.Start.IsZero() {
		v.Set("starttime", formatTime(q.Start))
	}
	if !q.End.IsZero() {
		v.Set("endtime", formatTime(q.End))
	}
	setFloat(v, "minmagnitude", q.MinMagnitude)
	setFloat(v, "maxmagnitude", q.MaxMagnitude)
	setFloat(v, "mindepth", q.MinDepthKm)
	setFloat(v, "maxdepth", q.MaxDepthKm)

	body, err := c.get(ctx, eventPath, v)
	if err != nil {
		return nil, err
	}
	return parseEvents(body)
}

func setFloat(v url.Values, key string, f float64) {
	if f != 0 {
		v.Set(key, strconv.FormatFloat(f, 'f', -1, 64))
	}
}

// parseEvents reads the FDSN event text format:
// EventID|Time|Latitude|Longitude|Depth/km|Author|Catalog|Contributor|ContributorID|MagType|Magnitude|...
func parseEvents(body []byte) ([]acquire.Event, error) {
	var out []acquire.Event
	sc := bufio.NewScanner(bytes.NewReader(body))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		f := splitRow(text)
		if len(f) < 11 {
			return nil, failure.Newf(failure.Parse, "event line %d: %d columns, want at least 11", line, len(f))
		}
		t, err := parseTime(f[1])
		if err != nil {
			return nil, failure.Wrapf(err, failure.Parse, "event line %d", line)
		}
		ev := acquire.Event{ID: f[0], Time: t}
		if ev.Latitude, err = strconv.ParseFloat(f[2], 64); err != nil {
			return nil, failure.Wrapf(err, failure.Parse, "event line %d latitude", line)
		}
		if ev.Longitude, err = strconv.ParseFloat(f[3], 64); err != nil {
			return nil, failure.Wrapf(err, failure.Parse, "event line %d longitude", line)
		}
		ev.DepthKm, _ = strconv.ParseFloat(f[4], 64)
		ev.Magnitude, _ = strconv.ParseFloat(f[10], 64)
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, failure.Wrapf(err, failure.Parse, "reading event reply")
	}
	return out, nil
}
