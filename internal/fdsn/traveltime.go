package fdsn

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/seedvault/internal/acquire"
	"github.com/runnerr0/seedvault/internal/failure"
)

const traveltimePath = "/irisws/traveltime/1/query"

var _ acquire.TravelTimer = (*Client)(nil)

// ComputeArrival asks the traveltime service for the basic phase set
// between ev and st. The earliest arrival is taken as P and the earliest
// S-family phase as S.
func (c *Client) ComputeArrival(ctx context.Context, ev acquire.Event, st acquire.Station, model string) (acquire.Phases, error) {
	depth := ev.DepthKm
	if depth < 0 {
		depth = 0
	}
	v := url.Values{}
	v.Set("evloc", fmt.Sprintf("[%g,%g]", ev.Latitude, ev.Longitude))
	v.Set("staloc", fmt.Sprintf("[%g,%g]", st.Latitude, st.Longitude))
	v.Set("evdepth", strconv.FormatFloat(depth, 'f', -1, 64))
	v.Set("model", model)
	v.Set("phases", "ttbasic")
	v.Set("noheader", "true")
	v.Set("mintimeonly", "true")

	body, err := c.get(ctx, traveltimePath, v)
	if err != nil {
		return acquire.Phases{}, err
	}
	return parseArrivals(body)
}

// parseArrivals reads headerless traveltime rows:
// distance depth phase time rayparam takeoff incident purist-distance purist-name
func parseArrivals(body []byte) (acquire.Phases, error) {
	var (
		ph    acquire.Phases
		found bool
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) < 4 {
			continue
		}
		secs, err := strconv.ParseFloat(f[3], 64)
		if err != nil {
			continue
		}
		d := time.Duration(math.Round(secs * float64(time.Second)))
		if !found || d < ph.P {
			ph.P = d
			found = true
		}
		if isS(f[2]) && (ph.S == nil || d < *ph.S) {
			s := d
			ph.S = &s
		}
	}
	if err := sc.Err(); err != nil {
		return acquire.Phases{}, failure.Wrapf(err, failure.Parse, "reading traveltime reply")
	}
	if !found {
		return acquire.Phases{}, failure.Newf(failure.Permanent, "traveltime reply has no arrivals")
	}
	return ph, nil
}

// isS reports whether phase leaves the source and arrives as a shear wave.
func isS(phase string) bool {
	if !strings.HasPrefix(phase, "S") && !strings.HasPrefix(phase, "s") {
		return false
	}
	return !strings.ContainsAny(phase, "Pp")
}
