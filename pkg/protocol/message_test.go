package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
		wantErr bool
	}{
		{
			name:    "metrics message",
			msgType: TypeMetrics,
			data:    MetricsData{Time: 1, X: 0.5, Collisions: 2},
		},
		{
			name:    "summary message",
			msgType: TypeSummary,
			data:    SummaryData{Outcome: "goal_reached", Ticks: 960},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeState,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	original := MetricsData{
		Time:         4,
		X:            -1.25,
		Y:            2.5,
		Heading:      0.3,
		Mode:         "gap_follow",
		Collisions:   1,
		Distance:     3.2,
		GoalDistance: 5.1,
		Readings:     map[string]float64{"front": 0.42},
	}

	msg, err := NewMetricsMessage("mobile", "abc", original)
	if err != nil {
		t.Fatalf("NewMetricsMessage() error = %v", err)
	}

	bytes, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(bytes)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	if parsed.Type != TypeMetrics {
		t.Errorf("parsed type = %v, want %v", parsed.Type, TypeMetrics)
	}
	if parsed.System != "mobile" || parsed.Session != "abc" {
		t.Errorf("parsed origin = %s/%s, want mobile/abc", parsed.System, parsed.Session)
	}

	data, err := parsed.GetMetricsData()
	if err != nil {
		t.Fatalf("GetMetricsData() error = %v", err)
	}
	if data.X != original.X || data.Mode != original.Mode {
		t.Errorf("metrics = %+v, want %+v", data, original)
	}
	if data.Readings["front"] != 0.42 {
		t.Errorf("readings[front] = %v, want 0.42", data.Readings["front"])
	}
}

func TestParseLegacyMetrics(t *testing.T) {
	raw := []byte(`{"timestamp": 1700000000.5, "system": "vacuum", "metrics": {"collisions": 3, "coverage_percent": 61.5}}`)

	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if msg.Type != TypeMetrics {
		t.Errorf("type = %v, want %v", msg.Type, TypeMetrics)
	}
	if msg.Timestamp != 1700000000500 {
		t.Errorf("ts = %d, want 1700000000500", msg.Timestamp)
	}
	if msg.System != "vacuum" {
		t.Errorf("system = %q, want vacuum", msg.System)
	}

	data, err := msg.GetMetricsData()
	if err != nil {
		t.Fatalf("GetMetricsData() error = %v", err)
	}
	if data.Collisions != 3 || data.Coverage != 61.5 {
		t.Errorf("metrics = %+v", data)
	}
}

func TestParseMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"ts": 1}`},
		{"legacy without metrics", `{"timestamp": 1, "system": "mobile"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tt.raw)); err == nil {
				t.Error("ParseMessage() expected error")
			}
		})
	}
}

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix string
		system string
		typ    MessageType
		want   string
	}{
		{"robotica_n2", "mobile", TypeMetrics, "robotica_n2/mobile/metrics"},
		{"", "vacuum", TypeSummary, "vacuum/execution_summary"},
		{"rover", "", TypeState, "rover/state"},
	}

	for _, tt := range tests {
		if got := Topic(tt.prefix, tt.system, tt.typ); got != tt.want {
			t.Errorf("Topic(%q, %q, %q) = %q, want %q", tt.prefix, tt.system, tt.typ, got, tt.want)
		}
	}

	msg := &Message{Type: TypeTrajectory, System: "route"}
	if got := msg.Topic("fleet"); got != "fleet/route/trajectory" {
		t.Errorf("Message.Topic() = %q", got)
	}
}

func TestKnownTypes(t *testing.T) {
	for _, typ := range []MessageType{TypeMetrics, TypeTrajectory, TypeSummary, TypeState, TypePing, TypePong} {
		if !typ.Known() {
			t.Errorf("%q should be known", typ)
		}
	}
	if MessageType("frame").Known() {
		t.Error("frame should not be known")
	}
}

func TestPingPong(t *testing.T) {
	ping, err := NewPingMessage("p1")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}
	pd, err := ping.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}
	if pd.ID != "p1" || pd.Timestamp == 0 {
		t.Errorf("ping = %+v", pd)
	}

	pong, err := NewPongMessage(pd.ID, 1000, 1025)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}
	po, err := pong.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if po.LatencyMs != 25 {
		t.Errorf("latency = %d, want 25", po.LatencyMs)
	}
}

func TestTrajectoryAndState(t *testing.T) {
	traj := TrajectoryData{
		Reference: []Point{{X: -3, Y: 3}, {X: 3, Y: -3}},
		Actual:    []TimedPoint{{X: -3, Y: 3, T: 0}},
	}
	msg, err := NewTrajectoryMessage("mobile", "s1", traj)
	if err != nil {
		t.Fatalf("NewTrajectoryMessage() error = %v", err)
	}
	got, err := msg.GetTrajectoryData()
	if err != nil {
		t.Fatalf("GetTrajectoryData() error = %v", err)
	}
	if len(got.Reference) != 2 || len(got.Actual) != 1 {
		t.Errorf("trajectory = %+v", got)
	}

	state, err := NewStateMessage(true, false, "finished")
	if err != nil {
		t.Fatalf("NewStateMessage() error = %v", err)
	}
	sd, err := state.GetStateData()
	if err != nil {
		t.Fatalf("GetStateData() error = %v", err)
	}
	if !sd.Connected || sd.Running || sd.Detail != "finished" {
		t.Errorf("state = %+v", sd)
	}
}

func TestParseDataNil(t *testing.T) {
	msg := &Message{Type: TypePing}
	var v json.RawMessage
	if err := msg.ParseData(&v); err != nil {
		t.Errorf("ParseData() on empty message error = %v", err)
	}
}
