package config

import "time"

// DefaultEventConfig returns the event section used when download_type is
// event and the file leaves fields unset.
func DefaultEventConfig() *EventConfig {
	return &EventConfig{
		ClientURL:     "https://service.iris.edu",
		TravelTimeURL: "https://service.iris.edu",
		MinMagnitude:  5.0,
		MaxMagnitude:  10.0,
		MinDepth:      0,
		MaxDepth:      6800,
		MinRadius:     30,
		MaxRadius:     90,
		BeforePSec:    10,
		AfterPSec:     130,
		Model:         "iasp91",
	}
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		SDSPath:      "~/seedvault/sds",
		DBPath:       "",
		DownloadType: ModeContinuous,
		Waveform: WaveformConfig{
			ClientURL:          "https://service.iris.edu",
			DaysPerRequest:     1,
			StationsPerRequest: 10,
			ForceRedownload:    false,
			ChannelPref:        []string{},
			LocationPref:       []string{},
			MinRequestSeconds:  3,
			FetchTimeout:       Duration(60 * time.Second),
			MaxRetries:         3,
			RetryBase:          Duration(2 * time.Second),
			RetryMax:           Duration(time.Minute),
			RequestsPerSecond:  5,
			NoDataRetryAfter:   Duration(24 * time.Hour),
			DiscoverLocal:      true,
		},
		Station: StationConfig{
			ClientURL:       "https://service.iris.edu",
			Location:        "*",
			Channel:         "?H?",
			MinSamplerate:   10,
			ForceStations:   []string{},
			ExcludeStations: []string{},
			CacheTTL:        Duration(time.Hour),
		},
		Processing: ProcessingConfig{
			NumProcesses: 0,
			GapTolerance: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
