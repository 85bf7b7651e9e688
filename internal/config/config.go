package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/seedvault/config.yaml"

// Download modes.
const (
	ModeContinuous = "continuous"
	ModeEvent      = "event"
)

// Config holds all seedvault configuration. Optional sections are pointers;
// a nil section means the feature is off.
type Config struct {
	SDSPath      string           `yaml:"sds_path" toml:"sds_path"`
	DBPath       string           `yaml:"db_path" toml:"db_path"`
	DownloadType string           `yaml:"download_type" toml:"download_type"`
	Waveform     WaveformConfig   `yaml:"waveform" toml:"waveform"`
	Station      StationConfig    `yaml:"station" toml:"station"`
	Event        *EventConfig     `yaml:"event,omitempty" toml:"event,omitempty"`
	Processing   ProcessingConfig `yaml:"processing" toml:"processing"`
	Logging      LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics      *MetricsConfig   `yaml:"metrics,omitempty" toml:"metrics,omitempty"`
}

type WaveformConfig struct {
	ClientURL          string   `yaml:"client_url" toml:"client_url"`
	DaysPerRequest     int      `yaml:"days_per_request" toml:"days_per_request"`
	StationsPerRequest int      `yaml:"stations_per_request" toml:"stations_per_request"`
	ForceRedownload    bool     `yaml:"force_redownload" toml:"force_redownload"`
	ChannelPref        []string `yaml:"channel_pref" toml:"channel_pref"`
	LocationPref       []string `yaml:"location_pref" toml:"location_pref"`
	MinRequestSeconds  float64  `yaml:"min_request_seconds" toml:"min_request_seconds"`
	FetchTimeout       Duration `yaml:"fetch_timeout" toml:"fetch_timeout"`
	MaxRetries         int      `yaml:"max_retries" toml:"max_retries"`
	RetryBase          Duration `yaml:"retry_base" toml:"retry_base"`
	RetryMax           Duration `yaml:"retry_max" toml:"retry_max"`
	RequestsPerSecond  float64  `yaml:"requests_per_second" toml:"requests_per_second"`
	NoDataRetryAfter   Duration `yaml:"no_data_retry_after" toml:"no_data_retry_after"`
	DiscoverLocal      bool     `yaml:"discover_local" toml:"discover_local"`
}

type StationConfig struct {
	ClientURL             string   `yaml:"client_url" toml:"client_url"`
	Network               string   `yaml:"network" toml:"network"`
	Station               string   `yaml:"station" toml:"station"`
	Location              string   `yaml:"location" toml:"location"`
	Channel               string   `yaml:"channel" toml:"channel"`
	StartTime             string   `yaml:"start_time" toml:"start_time"`
	EndTime               string   `yaml:"end_time" toml:"end_time"`
	HighestSamplerateOnly bool     `yaml:"highest_samplerate_only" toml:"highest_samplerate_only"`
	MinSamplerate         float64  `yaml:"min_samplerate" toml:"min_samplerate"`
	ForceStations         []string `yaml:"force_stations" toml:"force_stations"`
	ExcludeStations       []string `yaml:"exclude_stations" toml:"exclude_stations"`
	CacheTTL              Duration `yaml:"cache_ttl" toml:"cache_ttl"`
}

type EventConfig struct {
	ClientURL         string  `yaml:"client_url" toml:"client_url"`
	TravelTimeURL     string  `yaml:"traveltime_url" toml:"traveltime_url"`
	StartTime         string  `yaml:"start_time" toml:"start_time"`
	EndTime           string  `yaml:"end_time" toml:"end_time"`
	MinMagnitude      float64 `yaml:"min_magnitude" toml:"min_magnitude"`
	MaxMagnitude      float64 `yaml:"max_magnitude" toml:"max_magnitude"`
	MinDepth          float64 `yaml:"min_depth" toml:"min_depth"`
	MaxDepth          float64 `yaml:"max_depth" toml:"max_depth"`
	MinRadius         float64 `yaml:"min_radius" toml:"min_radius"`
	MaxRadius         float64 `yaml:"max_radius" toml:"max_radius"` // 0: no upper limit
	BeforePSec        float64 `yaml:"before_p_sec" toml:"before_p_sec"`
	AfterPSec         float64 `yaml:"after_p_sec" toml:"after_p_sec"`
	Model             string  `yaml:"model" toml:"model"`
	RecomputeArrivals bool    `yaml:"recompute_arrivals" toml:"recompute_arrivals"`
}

type ProcessingConfig struct {
	NumProcesses int     `yaml:"num_processes" toml:"num_processes"`
	GapTolerance float64 `yaml:"gap_tolerance" toml:"gap_tolerance"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile" toml:"textfile"`
}

// GapToleranceDuration returns processing.gap_tolerance as a duration.
func (c *Config) GapToleranceDuration() time.Duration {
	return seconds(c.Processing.GapTolerance)
}

// MinRequestWindow returns waveform.min_request_seconds as a duration.
func (c *Config) MinRequestWindow() time.Duration {
	return seconds(c.Waveform.MinRequestSeconds)
}

// ResolvedDBPath returns db_path, falling back to database.sqlite inside
// the SDS root.
func (c *Config) ResolvedDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.SDSPath, "database.sqlite")
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// Load reads a YAML or TOML config file at path, merges it with defaults,
// and validates the result. Files ending in .toml are decoded as TOML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	unmarshal := yaml.Unmarshal
	if isTOML(path) {
		unmarshal = toml.Unmarshal
	}

	// Optional sections present in the file start from their defaults so a
	// partial section only overrides what it names.
	var probe map[string]interface{}
	if err := unmarshal(data, &probe); err != nil {
		return nil, configError(errors.Wrap(err, "parsing config file"))
	}
	if _, ok := probe["event"]; ok {
		cfg.Event = DefaultEventConfig()
	}
	if _, ok := probe["metrics"]; ok {
		cfg.Metrics = &MetricsConfig{}
	}

	if err := unmarshal(data, cfg); err != nil {
		return nil, configError(errors.Wrap(err, "parsing config file"))
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.SDSPath, &c.DBPath} {
		expanded, err := expandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", configError(errors.Wrap(err, "resolve home directory"))
	}
	return filepath.Join(home, path[1:]), nil
}

// LoadOrCreate loads the config at DefaultConfigPath, writing defaults there
// on first use.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config at path. A missing file is created with
// the defaults, in TOML when path ends in .toml.
func LoadOrCreateAt(path string) (*Config, error) {
	_, err := os.Stat(path)
	if err == nil {
		return Load(path)
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	cfg := DefaultConfig()
	if err := writeDefaults(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	marshal := yaml.Marshal
	if isTOML(path) {
		marshal = toml.Marshal
	}
	data, err := marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode default config")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "write %s", path)
}
