package config

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/runnerr0/seedvault/internal/failure"
)

func configError(err error) error {
	return failure.Mark(err, failure.Config)
}

// Validate checks every field and reports all problems at once. The
// returned error is marked failure.Config.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.SDSPath == "" {
		add("sds_path is required")
	}
	switch c.DownloadType {
	case ModeContinuous:
	case ModeEvent:
		if c.Event == nil {
			add("download_type event requires an event section")
		}
	default:
		add("download_type must be %q or %q, got %q", ModeContinuous, ModeEvent, c.DownloadType)
	}

	w := c.Waveform
	if w.DaysPerRequest < 1 {
		add("waveform.days_per_request must be >= 1")
	}
	if w.StationsPerRequest < 1 {
		add("waveform.stations_per_request must be >= 1")
	}
	if w.MaxRetries < 0 {
		add("waveform.max_retries must be >= 0")
	}
	if w.MinRequestSeconds < 0 {
		add("waveform.min_request_seconds must be >= 0")
	}
	if w.FetchTimeout <= 0 {
		add("waveform.fetch_timeout must be positive")
	}
	if w.RetryBase <= 0 || w.RetryMax < w.RetryBase {
		add("waveform.retry_base must be positive and <= retry_max")
	}
	if w.RequestsPerSecond < 0 {
		add("waveform.requests_per_second must be >= 0")
	}

	s := c.Station
	for name, v := range map[string]string{"station.start_time": s.StartTime, "station.end_time": s.EndTime} {
		if v == "" {
			continue
		}
		if _, err := ParseTime(v); err != nil {
			add("%s: %v", name, err)
		}
	}
	if s.StartTime != "" && s.EndTime != "" {
		start, err1 := ParseTime(s.StartTime)
		end, err2 := ParseTime(s.EndTime)
		if err1 == nil && err2 == nil && !end.After(start) {
			add("station.end_time must be after station.start_time")
		}
	}

	if e := c.Event; e != nil {
		if e.BeforePSec < 0 || e.AfterPSec < 0 {
			add("event.before_p_sec and event.after_p_sec must be >= 0")
		}
		// max_radius 0 means no upper limit.
		if e.MinRadius < 0 || e.MaxRadius < 0 || e.MaxRadius > 180 || (e.MaxRadius > 0 && e.MinRadius > e.MaxRadius) {
			add("event radius range [%g, %g] is invalid", e.MinRadius, e.MaxRadius)
		}
		if e.MinMagnitude > e.MaxMagnitude {
			add("event.min_magnitude exceeds event.max_magnitude")
		}
		if e.Model == "" {
			add("event.model is required")
		}
		for name, v := range map[string]string{"event.start_time": e.StartTime, "event.end_time": e.EndTime} {
			if v == "" {
				continue
			}
			if _, err := ParseTime(v); err != nil {
				add("%s: %v", name, err)
			}
		}
	}

	if c.Processing.NumProcesses < 0 {
		add("processing.num_processes must be >= 0")
	}
	if c.Processing.GapTolerance < 0 {
		add("processing.gap_tolerance must be >= 0")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if len(problems) == 0 {
		return nil
	}
	return configError(errors.Newf("invalid config: %s", strings.Join(problems, "; ")))
}
