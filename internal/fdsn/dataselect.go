package fdsn

import (
	"context"
	"strings"
	"time"

	"github.com/runnerr0/seedvault/internal/acquire"
	"github.com/runnerr0/seedvault/internal/storage"
)

const dataselectPath = "/fdsnws/dataselect/1/query"

var _ acquire.Transfer = (*Client)(nil)

// FetchWaveform POSTs one selection line per channel and returns the raw
// miniSEED reply. An empty reply is acquire.ErrNoData.
func (c *Client) FetchWaveform(ctx context.Context, channels []storage.NSLC, start, end time.Time) ([]byte, error) {
	body, err := c.post(ctx, dataselectPath, selection(channels, start, end))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, acquire.ErrNoData
	}
	return body, nil
}

// selection builds a dataselect POST body.
func selection(channels []storage.NSLC, start, end time.Time) []byte {
	var b strings.Builder
	b.WriteString("nodata=204\n")
	s, e := formatTime(start), formatTime(end)
	for _, id := range channels {
		loc := id.Location
		if loc == "" {
			loc = "--"
		}
		b.WriteString(id.Network + " " + id.Station + " " + loc + " " + id.Channel + " " + s + " " + e + "\n")
	}
	return []byte(b.String())
}
