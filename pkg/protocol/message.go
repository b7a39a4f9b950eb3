// Package protocol defines the JSON messages exchanged between robot
// sessions, telemetry publishers and the dashboard.
// The same envelope travels over HTTP, WebSocket, Redis streams and the
// dashboard's browser fan-out.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies the type of message
type MessageType string

const (
	// Session → dashboard
	TypeMetrics    MessageType = "metrics"           // Periodic metrics flush
	TypeTrajectory MessageType = "trajectory"        // Reference and actual paths
	TypeSummary    MessageType = "execution_summary" // Final record of a session
	TypeState      MessageType = "state"             // Session lifecycle

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Known reports whether t is a defined message type.
func (t MessageType) Known() bool {
	switch t {
	case TypeMetrics, TypeTrajectory, TypeSummary, TypeState, TypePing, TypePong:
		return true
	}
	return false
}

// Message is the base wrapper for all messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`      // Unix milliseconds
	System    string          `json:"system,omitempty"`  // "mobile", "vacuum", "route", "arm"
	Session   string          `json:"session,omitempty"` // session UUID
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// From stamps the message with its origin and returns it.
func (m *Message) From(system, session string) *Message {
	m.System, m.Session = system, session
	return m
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// Topic returns the stream/topic name for the message, e.g.
// "robotica_n2/mobile/metrics".
func (m *Message) Topic(prefix string) string {
	return Topic(prefix, m.System, m.Type)
}

// Topic builds "<prefix>/<system>/<type>", skipping empty parts.
func Topic(prefix, system string, t MessageType) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, system, string(t)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// legacyMetrics is the flat payload older dashboards publish:
// {"timestamp": <unix seconds>, "system": "...", "metrics": {...}}.
type legacyMetrics struct {
	Timestamp float64         `json:"timestamp"`
	System    string          `json:"system"`
	Metrics   json.RawMessage `json:"metrics"`
}

// ParseMessage parses a JSON message from bytes. A flat
// {timestamp, system, metrics} payload is accepted as a metrics message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type != "" {
		return &msg, nil
	}

	var legacy legacyMetrics
	if err := json.Unmarshal(data, &legacy); err == nil && len(legacy.Metrics) > 0 {
		return &Message{
			Type:      TypeMetrics,
			Timestamp: int64(legacy.Timestamp * 1000),
			System:    legacy.System,
			Data:      legacy.Metrics,
		}, nil
	}
	return nil, fmt.Errorf("failed to parse message: missing type")
}

// =============================================================================
// Session → Dashboard Message Types
// =============================================================================

// MetricsData is one periodic flush of a running session
type MetricsData struct {
	Time    float64 `json:"time"` // simulated seconds
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
	Mode    string  `json:"mode,omitempty"`

	Collisions       int     `json:"collisions"`
	Distance         float64 `json:"distance_traveled"`
	LateralErrorMean float64 `json:"mean_lateral_error"`
	Energy           float64 `json:"energy"`

	GoalDistance float64            `json:"goal_distance,omitempty"`    // mobile
	Coverage     float64            `json:"coverage_percent,omitempty"` // vacuum
	Readings     map[string]float64 `json:"readings,omitempty"`

	// arm: X, Y and Heading place the tool tip
	Joints        []float64 `json:"joint_angles,omitempty"`
	PositionError float64   `json:"position_error,omitempty"`
}

// Point is a planar position
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TimedPoint is a position with the simulated time it was reached
type TimedPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T float64 `json:"t"`
}

// TrajectoryData carries the reference path and the path actually driven
type TrajectoryData struct {
	Reference []Point      `json:"reference,omitempty"`
	Actual    []TimedPoint `json:"actual"`
}

// SummaryData is sent once when a session ends
type SummaryData struct {
	Outcome  string  `json:"outcome"` // "goal_reached", "timeout", "canceled", "disconnected", "coverage_reached", "settled"
	Duration float64 `json:"duration"`
	Ticks    int     `json:"ticks"`

	Collisions       int     `json:"collisions"`
	Distance         float64 `json:"distance_traveled"`
	LateralErrorMean float64 `json:"mean_lateral_error"`
	LateralErrorStd  float64 `json:"lateral_error_std"`
	Energy           float64 `json:"energy"`
	Escapes          int     `json:"escapes"`

	GoalDistance float64 `json:"goal_distance,omitempty"`
	Coverage     float64 `json:"coverage_percent,omitempty"`
	Efficiency   float64 `json:"efficiency,omitempty"` // coverage per unit energy

	PositionError float64 `json:"mean_position_error,omitempty"` // arm, rad
	Overshoot     float64 `json:"overshoot,omitempty"`           // arm, rad
	SettleTime    float64 `json:"settle_time,omitempty"`         // arm, longest setpoint
}

// StateData reports session lifecycle changes
type StateData struct {
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	Detail    string `json:"detail,omitempty"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
