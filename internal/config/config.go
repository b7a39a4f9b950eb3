// Package config loads and validates go-rover runtime configuration.
//
// Configuration comes from three layers, later ones winning:
// built-in defaults, an optional YAML file, and ROVER_* environment
// variables. Controller tuning lives next to each controller
// (pid.PathConfig, nav.DefaultConfig, ...); this package only covers
// what changes between deployments.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvTelemetryTimeout overrides telemetry.timeout.
const EnvTelemetryTimeout = "ROVER_TELEMETRY_TIMEOUT"

// Config is the top-level runtime configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	Sim       SimConfig       `yaml:"sim" json:"sim"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Dashboard DashboardConfig `yaml:"dashboard" json:"dashboard"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
}

// SimConfig controls the fixed-timestep loop.
type SimConfig struct {
	// Rate is the loop frequency in Hz; dt = 1/Rate.
	Rate float64 `yaml:"rate" json:"rate" validate:"gt=0,lte=10000"`
	// Duration caps a run in simulated time.
	Duration time.Duration `yaml:"duration" json:"duration" validate:"gt=0"`
	// Seed feeds every sensor noise generator.
	Seed int64 `yaml:"seed" json:"seed"`
	// RealTime paces the loop against the wall clock.
	RealTime bool `yaml:"realtime" json:"realtime"`
	// FlushEvery is the number of ticks between telemetry flushes.
	FlushEvery int `yaml:"flush_every" json:"flush_every" validate:"gt=0"`
}

// Dt returns the fixed timestep in seconds.
func (s SimConfig) Dt() float64 {
	return 1.0 / s.Rate
}

// TelemetryConfig selects and tunes the telemetry transport.
type TelemetryConfig struct {
	Backend       string        `yaml:"backend" json:"backend" validate:"oneof=none http ws influx redis"`
	URL           string        `yaml:"url" json:"url" validate:"required_if=Backend http,required_if=Backend ws"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
	RatePerSecond float64       `yaml:"rate_per_second" json:"rate_per_second" validate:"gte=0"`
	Burst         int           `yaml:"burst" json:"burst" validate:"gte=1"`
	QueueSize     int           `yaml:"queue_size" json:"queue_size" validate:"gte=1"`
	Influx        InfluxConfig  `yaml:"influx" json:"influx"`
	Redis         RedisConfig   `yaml:"redis" json:"redis"`
}

// InfluxConfig holds InfluxDB v2 write settings.
type InfluxConfig struct {
	URL    string `yaml:"url" json:"url"`
	Token  string `yaml:"token" json:"-"`
	Org    string `yaml:"org" json:"org"`
	Bucket string `yaml:"bucket" json:"bucket"`
}

// RedisConfig holds Redis stream settings.
type RedisConfig struct {
	URL    string `yaml:"url" json:"url"`
	Prefix string `yaml:"prefix" json:"prefix"`
	MaxLen int64  `yaml:"max_len" json:"max_len" validate:"gte=0"`
}

// DashboardConfig configures `rover dashboard`.
type DashboardConfig struct {
	Addr      string `yaml:"addr" json:"addr" validate:"required"`
	EventKeep int    `yaml:"event_keep" json:"event_keep" validate:"gte=1"`

	// ViewerIdle drops a browser that stops answering pings.
	ViewerIdle time.Duration `yaml:"viewer_idle" json:"viewer_idle" validate:"gte=0"`
}

// StorageConfig locates persisted maps and run history.
type StorageConfig struct {
	MapBackend string `yaml:"map_backend" json:"map_backend" validate:"oneof=json badger"`
	MapDir     string `yaml:"map_dir" json:"map_dir" validate:"required"`
	History    string `yaml:"history" json:"history"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Sim: SimConfig{
			Rate:       240,
			Duration:   120 * time.Second,
			Seed:       1,
			FlushEvery: 240,
		},
		Telemetry: TelemetryConfig{
			Backend:       "none",
			URL:           DefaultDashboardURL,
			Timeout:       500 * time.Millisecond,
			RatePerSecond: 20,
			Burst:         10,
			QueueSize:     256,
			Influx: InfluxConfig{
				URL:    DefaultInfluxURL,
				Org:    "robotica",
				Bucket: "rover",
			},
			Redis: RedisConfig{
				URL:    DefaultRedisURL,
				Prefix: "robotica_n2",
				MaxLen: 10000,
			},
		},
		Dashboard: DashboardConfig{
			Addr:       ":" + DefaultDashboardPort,
			EventKeep:  500,
			ViewerIdle: 60 * time.Second,
		},
		Storage: StorageConfig{
			MapBackend: "json",
			MapDir:     "maps",
			History:    "rover.db",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result. A missing file is an error; an
// empty path is not.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv(EnvLogLevel, c.LogLevel)
	c.Telemetry.Backend = getEnv(EnvTelemetry, c.Telemetry.Backend)
	c.Telemetry.URL = DashboardURL(c.Telemetry.URL)
	c.Telemetry.Timeout = getEnvDuration(EnvTelemetryTimeout, c.Telemetry.Timeout)
	c.Telemetry.Redis.URL = getEnv(EnvRedisURL, c.Telemetry.Redis.URL)
	c.Telemetry.Influx.URL = getEnv(EnvInfluxURL, c.Telemetry.Influx.URL)
	c.Telemetry.Influx.Token = getEnv(EnvInfluxToken, c.Telemetry.Influx.Token)
	c.Storage.History = getEnv(EnvHistoryPath, c.Storage.History)
	c.Sim.Seed = getEnvInt(EnvSeed, c.Sim.Seed)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and returns a readable error listing
// every failing field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}
