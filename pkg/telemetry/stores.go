package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/redis/go-redis/v9"

	"github.com/teslashibe/go-rover/pkg/protocol"
)

// InfluxPublisher writes each message as a point in measurement
// "rover_<type>", tagged with system and session.
type InfluxPublisher struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// NewInfluxPublisher connects to an InfluxDB v2 server.
func NewInfluxPublisher(url, token, org, bucket string) *InfluxPublisher {
	client := influxdb2.NewClient(url, token)
	return &InfluxPublisher{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
	}
}

func (p *InfluxPublisher) Name() string { return "influx" }

func (p *InfluxPublisher) Publish(ctx context.Context, msg *protocol.Message) error {
	fields, err := flatten(msg.Data)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	if len(fields) == 0 {
		// trajectories and pings carry nothing scalar
		return nil
	}

	tags := map[string]string{}
	if msg.System != "" {
		tags["system"] = msg.System
	}
	if msg.Session != "" {
		tags["session"] = msg.Session
	}

	ts := time.UnixMilli(msg.Timestamp)
	if msg.Timestamp == 0 {
		ts = time.Now()
	}
	point := influxdb2.NewPoint("rover_"+string(msg.Type), tags, fields, ts)
	if err := p.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write point: %w", err)
	}
	return nil
}

// Close releases the client.
func (p *InfluxPublisher) Close() error {
	p.client.Close()
	return nil
}

// RedisPublisher appends each message to a stream named after its topic,
// e.g. "robotica_n2/mobile/metrics".
type RedisPublisher struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// ConnectRedis creates a Redis client from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisPublisher publishes to streams under prefix, trimmed to
// roughly maxLen entries (0 keeps everything).
func NewRedisPublisher(client *redis.Client, prefix string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix, maxLen: maxLen}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, msg *protocol.Message) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: msg.Topic(p.prefix),
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: map[string]any{
			"type":    string(msg.Type),
			"ts":      msg.Timestamp,
			"system":  msg.System,
			"session": msg.Session,
			"data":    string(msg.Data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", msg.Topic(p.prefix), err)
	}
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
