package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/httpc"
	"github.com/teslashibe/go-rover/pkg/metrics"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

// recorder is a Publisher that keeps every message.
type recorder struct {
	mu   sync.Mutex
	msgs []*protocol.Message
	err  error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Publish(_ context.Context, msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) all() []*protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*protocol.Message(nil), r.msgs...)
}

// gate blocks every publish until released.
type gate struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gate) Name() string { return "gate" }

func (g *gate) Publish(ctx context.Context, _ *protocol.Message) error {
	g.started <- struct{}{}
	<-g.release
	return nil
}

func (g *gate) open() { g.once.Do(func() { close(g.release) }) }

func closeNow(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatcherDelivers(t *testing.T) {
	pub := &recorder{}
	d := NewDispatcher(pub, Config{Rate: 0})
	sink := d.For("mobile", "s1")

	for i := 0; i < 3; i++ {
		sink.Send(protocol.TypeMetrics, protocol.MetricsData{Time: float64(i)})
	}
	closeNow(t, d)

	msgs := pub.all()
	require.Len(t, msgs, 3)
	for i, msg := range msgs {
		assert.Equal(t, protocol.TypeMetrics, msg.Type)
		assert.Equal(t, "mobile", msg.System)
		assert.Equal(t, "s1", msg.Session)
		data, err := msg.GetMetricsData()
		require.NoError(t, err)
		assert.Equal(t, float64(i), data.Time)
	}
	assert.Equal(t, Stats{Sent: 3}, d.Stats())
}

func TestDispatcherRateLimitSparesSummaries(t *testing.T) {
	pub := &recorder{}
	col := metrics.NewCollector(prometheus.NewRegistry())
	d := NewDispatcher(pub, Config{Rate: 1, Burst: 2}, WithMetrics(col))

	for i := 0; i < 5; i++ {
		d.Send(protocol.TypeMetrics, protocol.MetricsData{})
	}
	d.Send(protocol.TypeSummary, protocol.SummaryData{Outcome: "goal_reached"})
	closeNow(t, d)

	msgs := pub.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, protocol.TypeSummary, msgs[2].Type)
	assert.Equal(t, 3.0, testutil.ToFloat64(col.TelemetryDrops.WithLabelValues(DropRateLimited)))
	assert.Equal(t, 3.0, testutil.ToFloat64(col.TelemetrySent.WithLabelValues("recorder")))
}

func TestDispatcherRateLimitSparesLifecycle(t *testing.T) {
	pub := &recorder{}
	d := NewDispatcher(pub, Config{Rate: 1, Burst: 1})
	sink := d.For("vacuum", "s2")

	sink.Send(protocol.TypeState, protocol.StateData{Running: true, Detail: "started"})
	for i := 0; i < 20; i++ {
		sink.Send(protocol.TypeMetrics, protocol.MetricsData{Time: float64(i)})
	}
	sink.Send(protocol.TypeTrajectory, protocol.TrajectoryData{})
	sink.Send(protocol.TypeSummary, protocol.SummaryData{Outcome: "timeout"})
	sink.Send(protocol.TypeState, protocol.StateData{Detail: "timeout"})
	closeNow(t, d)

	var types []protocol.MessageType
	for _, msg := range pub.all() {
		types = append(types, msg.Type)
	}
	want := []protocol.MessageType{
		protocol.TypeState, protocol.TypeMetrics,
		protocol.TypeTrajectory, protocol.TypeSummary, protocol.TypeState,
	}
	assert.Equal(t, want, types)
	assert.Equal(t, uint64(19), d.Stats().Dropped)
}

func TestDispatcherLifecycleRespectsQueue(t *testing.T) {
	g := newGate()
	d := NewDispatcher(g, Config{QueueSize: 1, Rate: 1, Burst: 1})

	d.Send(protocol.TypeState, nil)
	<-g.started

	d.Send(protocol.TypeTrajectory, nil) // queued
	d.Send(protocol.TypeSummary, nil)    // dropped: queue full

	g.open()
	closeNow(t, d)
	assert.Equal(t, Stats{Sent: 2, Dropped: 1}, d.Stats())
}

func TestDispatcherQueueFull(t *testing.T) {
	g := newGate()
	d := NewDispatcher(g, Config{QueueSize: 1, Rate: 0})

	d.Send(protocol.TypeMetrics, nil)
	<-g.started // worker holds the first message

	d.Send(protocol.TypeMetrics, nil) // queued
	d.Send(protocol.TypeMetrics, nil) // dropped

	g.open()
	closeNow(t, d)
	assert.Equal(t, Stats{Sent: 2, Dropped: 1}, d.Stats())
}

func TestDispatcherCountsPublishErrors(t *testing.T) {
	pub := &recorder{err: errors.New("boom")}
	d := NewDispatcher(pub, Config{Rate: 0})

	d.Send(protocol.TypeState, protocol.StateData{})
	d.Send(protocol.TypeState, protocol.StateData{})
	closeNow(t, d)

	assert.Equal(t, Stats{Sent: 0, Dropped: 2}, d.Stats())
}

func TestDispatcherEncodeError(t *testing.T) {
	d := NewDispatcher(&recorder{}, Config{Rate: 0})
	d.Send(protocol.TypeState, make(chan int))
	closeNow(t, d)
	assert.Equal(t, uint64(1), d.Stats().Dropped)
}

func TestDispatcherSendAfterClose(t *testing.T) {
	d := NewDispatcher(&recorder{}, Config{Rate: 0})
	closeNow(t, d)

	assert.NotPanics(t, func() { d.Send(protocol.TypeMetrics, nil) })
	assert.Equal(t, uint64(1), d.Stats().Dropped)
	closeNow(t, d) // idempotent
}

func TestDispatcherCloseHonorsContext(t *testing.T) {
	g := newGate()
	d := NewDispatcher(g, Config{Rate: 0})
	defer g.open()

	d.Send(protocol.TypeMetrics, nil)
	<-g.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Send(protocol.TypeMetrics, protocol.MetricsData{}) })
}

func metricsMessage(t *testing.T) *protocol.Message {
	t.Helper()
	msg, err := protocol.NewMetricsMessage("mobile", "s1", protocol.MetricsData{
		Time:       2,
		Collisions: 2,
		Readings:   map[string]float64{"front": 0.5},
	})
	require.NoError(t, err)
	return msg
}

func TestHTTPPublisher(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		got = nil
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pub := NewHTTPPublisher(srv.URL, time.Second)
	require.NoError(t, pub.Publish(context.Background(), metricsMessage(t)))
	assert.JSONEq(t, `"metrics"`, string(got["type"]))
	assert.JSONEq(t, `"s1"`, string(got["session"]))

	pub.Legacy = true
	require.NoError(t, pub.Publish(context.Background(), metricsMessage(t)))
	assert.JSONEq(t, `"mobile"`, string(got["system"]))
	assert.Contains(t, got, "timestamp")
	assert.NotContains(t, got, "type")

	var m protocol.MetricsData
	require.NoError(t, json.Unmarshal(got["metrics"], &m))
	assert.Equal(t, 2, m.Collisions)
}

func TestHTTPPublisherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPPublisher(srv.URL, time.Second).Publish(context.Background(), metricsMessage(t))
	var se *httpc.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestWSPublisher(t *testing.T) {
	received := make(chan []byte, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	defer srv.Close()

	pub := NewWSPublisher("ws" + strings.TrimPrefix(srv.URL, "http"))
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pub.Publish(ctx, metricsMessage(t)))
	require.NoError(t, pub.Publish(ctx, metricsMessage(t)))

	for i := 0; i < 2; i++ {
		select {
		case data := <-received:
			msg, err := protocol.ParseMessage(data)
			require.NoError(t, err)
			assert.Equal(t, "mobile", msg.System)
		case <-time.After(2 * time.Second):
			t.Fatal("message not received")
		}
	}
}

func TestWSPublisherDialError(t *testing.T) {
	pub := NewWSPublisher("ws://127.0.0.1:1/none")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, pub.Publish(ctx, metricsMessage(t)))
	assert.NoError(t, pub.Close())
}

func TestInfluxPublisher(t *testing.T) {
	var body string
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		b, _ := io.ReadAll(r.Body)
		body, query = string(b), r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pub := NewInfluxPublisher(srv.URL, "token", "robotica", "rover")
	defer pub.Close()

	require.NoError(t, pub.Publish(context.Background(), metricsMessage(t)))
	assert.Contains(t, query, "bucket=rover")
	assert.True(t, strings.HasPrefix(body, "rover_metrics,"), body)
	assert.Contains(t, body, "system=mobile")
	assert.Contains(t, body, "session=s1")
	assert.Contains(t, body, "readings_front=0.5")
	assert.Contains(t, body, "sim_time=2")

	// nothing scalar to write
	traj, err := protocol.NewTrajectoryMessage("mobile", "s1", protocol.TrajectoryData{})
	require.NoError(t, err)
	body = ""
	require.NoError(t, pub.Publish(context.Background(), traj))
	assert.Empty(t, body)
}

func TestRedisPublisherUnreachable(t *testing.T) {
	client, err := ConnectRedis("redis://127.0.0.1:1/0")
	require.NoError(t, err)
	pub := NewRedisPublisher(client, "robotica_n2", 100)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = pub.Publish(ctx, metricsMessage(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "robotica_n2/mobile/metrics")
}

func TestConnectRedisBadURL(t *testing.T) {
	_, err := ConnectRedis("not-a-url")
	assert.Error(t, err)
}

func TestFanout(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("down")}
	f := Fanout{ok, bad}

	err := f.Publish(context.Background(), metricsMessage(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recorder: down")
	assert.Len(t, ok.all(), 1)
	assert.NoError(t, f.Close())
}

func TestFlatten(t *testing.T) {
	fields, err := flatten(json.RawMessage(`{"a":1,"b":"x","c":true,"d":[1,2],"e":{"f":2,"g":[3]}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0, "b": "x", "c": true, "e_f": 2.0}, fields)

	fields, err = flatten(nil)
	require.NoError(t, err)
	assert.Nil(t, fields)

	_, err = flatten(json.RawMessage(`[1]`))
	assert.Error(t, err)
}

func TestNewPublisher(t *testing.T) {
	cfg := config.Default().Telemetry

	tests := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{"none", "", false},
		{"http", "http", false},
		{"ws", "ws", false},
		{"influx", "influx", false},
		{"redis", "redis", false},
		{"mqtt", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			c := cfg
			c.Backend = tt.backend
			pub, err := NewPublisher(c)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, pub)
				return
			}
			require.NotNil(t, pub)
			assert.Equal(t, tt.want, pub.Name())
			if c, ok := pub.(io.Closer); ok {
				c.Close()
			}
		})
	}

	dc := DispatcherConfig(cfg)
	assert.Equal(t, cfg.QueueSize, dc.QueueSize)
	assert.Equal(t, cfg.Timeout, dc.Timeout)
}
