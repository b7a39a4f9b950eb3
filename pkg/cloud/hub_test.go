package cloud

import (
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-rover/pkg/protocol"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.RobotCount() != 0 {
		t.Error("RobotCount should be 0 initially")
	}
	if len(hub.GetRobotInfos()) != 0 {
		t.Error("GetRobotInfos should return empty slice initially")
	}
	if hub.GetRobot("nonexistent") != nil {
		t.Error("GetRobot should return nil for nonexistent robot")
	}
}

func TestGetStats(t *testing.T) {
	stats := NewHub().GetStats()

	if stats.RobotCount != 0 || stats.MessagesReceived != 0 || stats.MessagesSent != 0 {
		t.Errorf("GetStats() = %+v, want zero", stats)
	}
}

func TestGenerateRobotID(t *testing.T) {
	a, b := generateRobotID(), generateRobotID()

	if !strings.HasPrefix(a, "robot-") || len(a) != len("robot-")+8 {
		t.Errorf("generateRobotID() = %q", a)
	}
	if a == b {
		t.Error("generateRobotID should not repeat")
	}
}

// startServer serves app on a free local port and returns its address.
func startServer(t *testing.T, hub *Hub) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })
	return ln.Addr().String()
}

func dial(t *testing.T, addr, path string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+path, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketConnection(t *testing.T) {
	hub := NewHub()
	addr := startServer(t, hub)

	ws := dial(t, addr, "/ws/robot/test-robot")
	waitFor(t, func() bool { return hub.RobotCount() == 1 })

	if hub.GetRobot("test-robot") == nil {
		t.Error("GetRobot should return the connected robot")
	}

	ws.Close()
	waitFor(t, func() bool { return hub.RobotCount() == 0 })
}

func TestAnonymousRobotGetsID(t *testing.T) {
	hub := NewHub()
	addr := startServer(t, hub)

	dial(t, addr, "/ws/robot")
	waitFor(t, func() bool { return hub.RobotCount() == 1 })

	infos := hub.GetRobotInfos()
	if !strings.HasPrefix(infos[0].ID, "robot-") {
		t.Errorf("ID = %q, want generated robot id", infos[0].ID)
	}
}

func TestMessageCallback(t *testing.T) {
	hub := NewHub()
	addr := startServer(t, hub)

	var mu sync.Mutex
	var gotRobot string
	var gotMsg *protocol.Message
	hub.OnMessage(func(robotID string, msg *protocol.Message) {
		mu.Lock()
		defer mu.Unlock()
		gotRobot, gotMsg = robotID, msg
	})

	ws := dial(t, addr, "/ws/robot/nav-1")

	msg, _ := protocol.NewMetricsMessage("mobile", "s1", protocol.MetricsData{Collisions: 4})
	data, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotMsg != nil
	})

	mu.Lock()
	if gotRobot != "nav-1" {
		t.Errorf("robot = %s, want nav-1", gotRobot)
	}
	m, err := gotMsg.GetMetricsData()
	if err != nil || m.Collisions != 4 {
		t.Errorf("metrics = %+v, err = %v", m, err)
	}
	mu.Unlock()

	waitFor(t, func() bool { return hub.GetRobot("nav-1").Info().Messages == 1 })
	if info := hub.GetRobot("nav-1").Info(); info.System != "mobile" {
		t.Errorf("system = %q, want mobile", info.System)
	}
}

func TestParseErrorsCounted(t *testing.T) {
	hub := NewHub()
	addr := startServer(t, hub)

	ws := dial(t, addr, "/ws/robot/bad")
	ws.WriteMessage(websocket.TextMessage, []byte("{not json"))

	waitFor(t, func() bool { return hub.GetStats().ParseErrors == 1 })
	if hub.GetStats().MessagesReceived != 1 {
		t.Error("MessagesReceived should count unparsable messages")
	}
}

func TestPingPong(t *testing.T) {
	hub := NewHub()
	addr := startServer(t, hub)

	called := false
	hub.OnMessage(func(string, *protocol.Message) { called = true })

	ws := dial(t, addr, "/ws/robot/ping-test")

	msg, _ := protocol.NewPingMessage("p-1")
	data, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, respData, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}

	var resp protocol.Message
	json.Unmarshal(respData, &resp)
	if resp.Type != protocol.TypePong {
		t.Errorf("Type = %s, want pong", resp.Type)
	}
	pong, err := resp.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pong.ID != "p-1" {
		t.Errorf("pong id = %q, want p-1", pong.ID)
	}
	if pong.LatencyMs < 0 {
		t.Errorf("latency = %d, want >= 0", pong.LatencyMs)
	}
	if called {
		t.Error("pings should not reach the message callback")
	}
	if hub.GetStats().MessagesSent != 1 {
		t.Error("MessagesSent should count the pong")
	}
}

func TestSendToNonexistentRobot(t *testing.T) {
	if err := NewHub().SendPong("nonexistent", "", 0); err == nil {
		t.Error("SendPong should return error for nonexistent robot")
	}
}

func TestAPI(t *testing.T) {
	hub := NewHub()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/api/robots/", 200, "robots"},
		{"/api/robots/stats", 200, "messages_received"},
		{"/api/robots/missing", 404, "not connected"},
		{"/ws/robot/x", fiber.StatusUpgradeRequired, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			if err != nil {
				t.Fatalf("Request error: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("Status = %d, want %d", resp.StatusCode, tt.status)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tt.contains) {
				t.Errorf("body %q should contain %q", body, tt.contains)
			}
		})
	}
}
