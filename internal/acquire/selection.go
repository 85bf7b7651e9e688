package acquire

import (
	"sort"
	"strings"

	"github.com/runnerr0/seedvault/internal/config"
)

// SelectChannels filters a station search result down to the channels that
// will be requested: excluded stations are dropped, the location and
// channel preference lists pick one location and one band per station,
// and the sample rate filters apply unless the station is forced.
// Stations left with no channels are dropped.
func SelectChannels(stations []Station, sc config.StationConfig, wc config.WaveformConfig) []Station {
	var out []Station
	for _, st := range stations {
		if sc.Excluded(st.Network, st.Station) {
			continue
		}
		chans := st.Channels
		if !sc.Forced(st.Network, st.Station) {
			chans = filterRate(chans, sc.MinSamplerate)
		}
		chans = preferLocation(chans, wc.LocationPref)
		chans = preferBand(chans, wc.ChannelPref)
		if sc.HighestSamplerateOnly {
			chans = highestRate(chans)
		}
		if len(chans) == 0 {
			continue
		}
		st.Channels = chans
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func filterRate(chans []Channel, min float64) []Channel {
	if min <= 0 {
		return chans
	}
	var out []Channel
	for _, c := range chans {
		if c.SampleRate >= min {
			out = append(out, c)
		}
	}
	return out
}

// preferLocation keeps only the channels of the first location in prefs
// that the station offers. With no match every location is kept.
func preferLocation(chans []Channel, prefs []string) []Channel {
	for _, loc := range prefs {
		loc = strings.TrimSpace(loc)
		if loc == "--" {
			loc = ""
		}
		var out []Channel
		for _, c := range chans {
			if c.Location == loc {
				out = append(out, c)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return chans
}

// preferBand keeps only the channels whose band and instrument codes (the
// first two letters, e.g. "HH") match the first preference offered.
func preferBand(chans []Channel, prefs []string) []Channel {
	for _, band := range prefs {
		band = strings.ToUpper(strings.TrimSpace(band))
		if band == "" {
			continue
		}
		var out []Channel
		for _, c := range chans {
			if strings.HasPrefix(c.Channel, band) {
				out = append(out, c)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return chans
}

func highestRate(chans []Channel) []Channel {
	var max float64
	for _, c := range chans {
		if c.SampleRate > max {
			max = c.SampleRate
		}
	}
	var out []Channel
	for _, c := range chans {
		if c.SampleRate == max {
			out = append(out, c)
		}
	}
	return out
}
