package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestSimDt(t *testing.T) {
	cfg := Default()
	if got, want := cfg.Sim.Dt(), 1.0/240.0; got != want {
		t.Errorf("Dt() = %v, want %v", got, want)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Telemetry.Backend != "none" {
		t.Errorf("Backend = %q, want none", cfg.Telemetry.Backend)
	}
	if cfg.Sim.Rate != 240 {
		t.Errorf("Rate = %v, want 240", cfg.Sim.Rate)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rover.yaml")
	yml := `
log_level: debug
sim:
  rate: 120
  duration: 30s
  seed: 7
telemetry:
  backend: http
  url: http://dash.local/robo-data
  timeout: 250ms
storage:
  map_backend: badger
  map_dir: /tmp/maps
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Sim.Rate != 120 || cfg.Sim.Duration != 30*time.Second || cfg.Sim.Seed != 7 {
		t.Errorf("Sim = %+v", cfg.Sim)
	}
	if cfg.Telemetry.Timeout != 250*time.Millisecond {
		t.Errorf("Timeout = %v, want 250ms", cfg.Telemetry.Timeout)
	}
	if cfg.Storage.MapBackend != "badger" {
		t.Errorf("MapBackend = %q, want badger", cfg.Storage.MapBackend)
	}
	// untouched keys keep defaults
	if cfg.Telemetry.QueueSize != 256 {
		t.Errorf("QueueSize = %d, want 256", cfg.Telemetry.QueueSize)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvTelemetry, "redis")
	t.Setenv(EnvRedisURL, "redis://cache:6379/2")
	t.Setenv(EnvSeed, "42")
	t.Setenv(EnvTelemetryTimeout, "1s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telemetry.Backend != "redis" {
		t.Errorf("Backend = %q, want redis", cfg.Telemetry.Backend)
	}
	if cfg.Telemetry.Redis.URL != "redis://cache:6379/2" {
		t.Errorf("Redis.URL = %q", cfg.Telemetry.Redis.URL)
	}
	if cfg.Sim.Seed != 42 {
		t.Errorf("Seed = %d, want 42", cfg.Sim.Seed)
	}
	if cfg.Telemetry.Timeout != time.Second {
		t.Errorf("Timeout = %v, want 1s", cfg.Telemetry.Timeout)
	}
}

func TestLoad_MalformedEnvKeepsValue(t *testing.T) {
	t.Setenv(EnvSeed, "not-a-number")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sim.Seed != 1 {
		t.Errorf("Seed = %d, want default 1", cfg.Sim.Seed)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
		{"zero rate", func(c *Config) { c.Sim.Rate = 0 }, "Rate"},
		{"unknown backend", func(c *Config) { c.Telemetry.Backend = "mqtt" }, "Backend"},
		{"http without url", func(c *Config) { c.Telemetry.Backend = "http"; c.Telemetry.URL = "" }, "URL"},
		{"unknown map backend", func(c *Config) { c.Storage.MapBackend = "s3" }, "MapBackend"},
		{"zero queue", func(c *Config) { c.Telemetry.QueueSize = 0 }, "QueueSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not mention %s", err, tt.field)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}

func TestDashboardURL(t *testing.T) {
	if got := DashboardURL("http://fallback"); got != "http://fallback" {
		t.Errorf("DashboardURL() = %q, want fallback", got)
	}
	t.Setenv(EnvDashboardURL, "http://env/robo-data")
	if got := DashboardURL("http://fallback"); got != "http://env/robo-data" {
		t.Errorf("DashboardURL() = %q, want env value", got)
	}
}
