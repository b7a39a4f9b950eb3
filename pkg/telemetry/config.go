package telemetry

import (
	"fmt"

	"github.com/teslashibe/go-rover/internal/config"
)

// NewPublisher builds the publisher selected by cfg.Backend. It returns
// nil for "none".
func NewPublisher(cfg config.TelemetryConfig) (Publisher, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "http":
		return NewHTTPPublisher(cfg.URL, cfg.Timeout), nil
	case "ws":
		return NewWSPublisher(cfg.URL), nil
	case "influx":
		return NewInfluxPublisher(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket), nil
	case "redis":
		client, err := ConnectRedis(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		return NewRedisPublisher(client, cfg.Redis.Prefix, cfg.Redis.MaxLen), nil
	default:
		return nil, fmt.Errorf("unknown telemetry backend %q", cfg.Backend)
	}
}

// DispatcherConfig maps deployment settings onto a dispatcher Config.
func DispatcherConfig(cfg config.TelemetryConfig) Config {
	return Config{
		QueueSize: cfg.QueueSize,
		Rate:      cfg.RatePerSecond,
		Burst:     cfg.Burst,
		Timeout:   cfg.Timeout,
	}
}
