// Package config loads quickassist settings: defaults, then an optional
// YAML file, then QUICKASSIST_* environment overrides. Command-line flags
// are applied last by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/quickassist/internal/jobs"
	"github.com/roach88/quickassist/internal/location"
	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/workflow"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QUICKASSIST_"

// Jobs modes.
const (
	JobsNone = "none"
	JobsDemo = "demo"
	JobsAMQP = "amqp"
)

type Config struct {
	Fallback  model.Coordinate `yaml:"fallback"`
	Location  Location         `yaml:"location"`
	Tracking  Tracking         `yaml:"tracking"`
	Donation  Donation         `yaml:"donation"`
	Directory Directory        `yaml:"directory"`
	Jobs      Jobs             `yaml:"jobs"`
	Server    Server           `yaml:"server"`
}

type Location struct {
	HighAccuracy bool          `yaml:"high_accuracy"`
	MaximumAge   time.Duration `yaml:"maximum_age"`
	Timeout      time.Duration `yaml:"timeout"`
}

type Tracking struct {
	Period    time.Duration `yaml:"period"`
	Increment float64       `yaml:"increment"`
}

type Donation struct {
	Delay time.Duration `yaml:"delay"`
}

// Directory configures the generative provider directory. Fixture, when
// set, replaces it with a YAML fixture file.
type Directory struct {
	Endpoint      string        `yaml:"endpoint"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	Count         int           `yaml:"count"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Fixture       string        `yaml:"fixture"`
}

type Jobs struct {
	Mode      string        `yaml:"mode"`
	DemoDelay time.Duration `yaml:"demo_delay"`
	AMQPURL   string        `yaml:"amqp_url"`
	Exchange  string        `yaml:"exchange"`
}

type Server struct {
	Addr      string        `yaml:"addr"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// Default returns the built-in settings.
func Default() Config {
	watch := location.DefaultWatchOptions()
	tracking := workflow.DefaultTrackingOptions()
	return Config{
		Fallback: model.DefaultFallback,
		Location: Location{
			HighAccuracy: watch.HighAccuracy,
			MaximumAge:   watch.MaximumAge,
			Timeout:      watch.Timeout,
		},
		Tracking: Tracking{Period: tracking.Period, Increment: tracking.Increment},
		Donation: Donation{Delay: workflow.DefaultDonationDelay},
		Directory: Directory{
			Count:         6,
			Timeout:       30 * time.Second,
			RatePerSecond: 1,
			Burst:         2,
		},
		Jobs: Jobs{
			Mode:      JobsDemo,
			DemoDelay: jobs.DefaultDemoDelay,
			Exchange:  jobs.DefaultExchange,
		},
		Server: Server{
			Addr:     ":8080",
			TokenTTL: 24 * time.Hour,
		},
	}
}

// Load returns the defaults overlaid with path (if not empty) and the
// process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Decode overlays YAML onto cfg. Unknown keys are rejected. An empty
// document leaves cfg unchanged.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays QUICKASSIST_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	float("FALLBACK_LAT", &c.Fallback.Lat)
	float("FALLBACK_LNG", &c.Fallback.Lng)
	duration("LOCATION_TIMEOUT", &c.Location.Timeout)
	duration("TRACKING_PERIOD", &c.Tracking.Period)
	float("TRACKING_INCREMENT", &c.Tracking.Increment)
	duration("DONATION_DELAY", &c.Donation.Delay)
	str("DIRECTORY_ENDPOINT", &c.Directory.Endpoint)
	str("DIRECTORY_MODEL", &c.Directory.Model)
	str("DIRECTORY_API_KEY", &c.Directory.APIKey)
	integer("DIRECTORY_COUNT", &c.Directory.Count)
	duration("DIRECTORY_TIMEOUT", &c.Directory.Timeout)
	float("DIRECTORY_RATE", &c.Directory.RatePerSecond)
	integer("DIRECTORY_BURST", &c.Directory.Burst)
	str("DIRECTORY_FIXTURE", &c.Directory.Fixture)
	str("JOBS_MODE", &c.Jobs.Mode)
	duration("JOBS_DEMO_DELAY", &c.Jobs.DemoDelay)
	str("AMQP_URL", &c.Jobs.AMQPURL)
	str("JOBS_EXCHANGE", &c.Jobs.Exchange)
	str("ADDR", &c.Server.Addr)
	str("JWT_SECRET", &c.Server.JWTSecret)
	duration("TOKEN_TTL", &c.Server.TokenTTL)

	return errors.Join(errs...)
}

// Validate checks ranges and required combinations.
func (c *Config) Validate() error {
	var problems []string

	if err := c.Fallback.Validate(); err != nil {
		problems = append(problems, "fallback: "+err.Error())
	}
	if c.Location.Timeout < 0 || c.Location.MaximumAge < 0 {
		problems = append(problems, "location durations must not be negative")
	}
	if c.Tracking.Period <= 0 {
		problems = append(problems, "tracking.period must be positive")
	}
	if c.Tracking.Increment <= 0 || c.Tracking.Increment > workflow.MaxProgress {
		problems = append(problems, "tracking.increment must be in (0,100]")
	}
	if c.Donation.Delay <= 0 {
		problems = append(problems, "donation.delay must be positive")
	}
	if c.Directory.Count <= 0 {
		problems = append(problems, "directory.count must be positive")
	}
	if c.Directory.RatePerSecond < 0 || c.Directory.Burst < 0 {
		problems = append(problems, "directory rate and burst must not be negative")
	}
	switch c.Jobs.Mode {
	case JobsNone, JobsDemo:
	case JobsAMQP:
		if c.Jobs.AMQPURL == "" {
			problems = append(problems, "jobs.amqp_url is required when jobs.mode is amqp")
		}
		if c.Jobs.Exchange == "" {
			problems = append(problems, "jobs.exchange is required when jobs.mode is amqp")
		}
	default:
		problems = append(problems, fmt.Sprintf("jobs.mode must be none, demo or amqp, got %q", c.Jobs.Mode))
	}
	if c.Server.TokenTTL <= 0 {
		problems = append(problems, "server.token_ttl must be positive")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// WatchOptions converts the location section.
func (c *Config) WatchOptions() location.WatchOptions {
	return location.WatchOptions{
		HighAccuracy: c.Location.HighAccuracy,
		MaximumAge:   c.Location.MaximumAge,
		Timeout:      c.Location.Timeout,
	}
}

// TrackingOptions converts the tracking section.
func (c *Config) TrackingOptions() workflow.TrackingOptions {
	return workflow.TrackingOptions{Period: c.Tracking.Period, Increment: c.Tracking.Increment}
}
