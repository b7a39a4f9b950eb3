// Package cloud accepts robot sessions that stream telemetry to the
// dashboard over a websocket instead of HTTP.
package cloud

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

// RobotConnection represents a connected robot
type RobotConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	mu       sync.Mutex
	lastSeen time.Time
	system   string
	messages uint64
}

// Send sends a message to the robot
func (r *RobotConnection) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Conn.WriteMessage(websocket.TextMessage, data)
}

func (r *RobotConnection) seen(msg *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen = time.Now()
	r.messages++
	if msg != nil && msg.System != "" {
		r.system = msg.System
	}
}

// Info returns a snapshot of the connection.
func (r *RobotConnection) Info() RobotInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RobotInfo{
		ID:        r.ID,
		System:    r.system,
		Connected: r.Connected,
		LastSeen:  r.lastSeen,
		Messages:  r.messages,
	}
}

// MessageHandler receives every parsed message except pings.
type MessageHandler func(robotID string, msg *protocol.Message)

// Hub manages WebSocket connections from robots
type Hub struct {
	mu     sync.RWMutex
	robots map[string]*RobotConnection
	log    *slog.Logger

	onMessage MessageHandler

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	parseErrors      atomic.Uint64
}

// NewHub creates a new robot hub
func NewHub() *Hub {
	return &Hub{
		robots: make(map[string]*RobotConnection),
		log:    log.Component("cloud"),
	}
}

// OnMessage sets the callback for incoming robot messages
func (h *Hub) OnMessage(callback MessageHandler) {
	h.mu.Lock()
	h.onMessage = callback
	h.mu.Unlock()
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/robot", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/robot", websocket.New(h.handleRobot))
	app.Get("/ws/robot/:id", websocket.New(h.handleRobot))
}

// handleRobot handles a robot WebSocket connection
func (h *Hub) handleRobot(c *websocket.Conn) {
	robotID := c.Params("id")
	if robotID == "" {
		robotID = generateRobotID()
	}

	now := time.Now()
	robot := &RobotConnection{
		ID:        robotID,
		Conn:      c,
		Connected: now,
		lastSeen:  now,
	}

	h.mu.Lock()
	if old, ok := h.robots[robotID]; ok {
		// same id reconnected; the newest connection wins
		old.Conn.Close()
	}
	h.robots[robotID] = robot
	robotCount := len(h.robots)
	h.mu.Unlock()

	h.log.Info("robot connected", "robot", robotID, "robots", robotCount)

	defer func() {
		h.mu.Lock()
		if h.robots[robotID] == robot {
			delete(h.robots, robotID)
		}
		robotCount := len(h.robots)
		h.mu.Unlock()

		h.log.Info("robot disconnected", "robot", robotID, "robots", robotCount)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.log.Debug("robot read ended", "robot", robotID, "error", err)
			return
		}

		h.messagesReceived.Add(1)
		msg := h.handleMessage(robotID, data)
		robot.seen(msg)
	}
}

// handleMessage processes an incoming message from a robot and returns
// it, or nil when it could not be parsed.
func (h *Hub) handleMessage(robotID string, data []byte) *protocol.Message {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.parseErrors.Add(1)
		h.log.Debug("parse error", "robot", robotID, "error", err)
		return nil
	}

	if msg.Type == protocol.TypePing {
		ping, err := msg.GetPingData()
		if err != nil {
			ping = &protocol.PingData{}
		}
		pingTS := ping.Timestamp
		if pingTS == 0 {
			pingTS = msg.Timestamp
		}
		if err := h.SendPong(robotID, ping.ID, pingTS); err != nil {
			h.log.Debug("pong failed", "robot", robotID, "error", err)
		}
		return msg
	}

	h.mu.RLock()
	cb := h.onMessage
	h.mu.RUnlock()

	if cb != nil {
		cb(robotID, msg)
	}
	return msg
}

// SendPong sends a pong response to a robot
func (h *Hub) SendPong(robotID, id string, pingTS int64) error {
	msg, err := protocol.NewPongMessage(id, pingTS, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return h.sendToRobot(robotID, msg)
}

// sendToRobot sends a message to a specific robot
func (h *Hub) sendToRobot(robotID string, msg *protocol.Message) error {
	h.mu.RLock()
	robot, ok := h.robots[robotID]
	h.mu.RUnlock()

	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "robot not connected")
	}

	h.messagesSent.Add(1)
	return robot.Send(msg)
}

// GetRobot returns a robot connection by ID
func (h *Hub) GetRobot(robotID string) *RobotConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.robots[robotID]
}

// RobotCount returns the number of connected robots
func (h *Hub) RobotCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.robots)
}

// Stats contains hub statistics
type Stats struct {
	RobotCount       int    `json:"robot_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	ParseErrors      uint64 `json:"parse_errors"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		RobotCount:       h.RobotCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		ParseErrors:      h.parseErrors.Load(),
	}
}

// RobotInfo contains info about a connected robot
type RobotInfo struct {
	ID        string    `json:"id"`
	System    string    `json:"system,omitempty"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Messages  uint64    `json:"messages"`
}

// GetRobotInfos returns info about all connected robots
func (h *Hub) GetRobotInfos() []RobotInfo {
	h.mu.RLock()
	robots := make([]*RobotConnection, 0, len(h.robots))
	for _, r := range h.robots {
		robots = append(robots, r)
	}
	h.mu.RUnlock()

	infos := make([]RobotInfo, 0, len(robots))
	for _, r := range robots {
		infos = append(infos, r.Info())
	}
	return infos
}

// RegisterAPIRoutes registers API routes for robot management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	robots := api.Group("/robots")

	robots.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"robots": h.GetRobotInfos(),
			"count":  h.RobotCount(),
		})
	})

	robots.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})

	robots.Get("/:id", func(c *fiber.Ctx) error {
		robot := h.GetRobot(c.Params("id"))
		if robot == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "robot not connected"})
		}
		return c.JSON(robot.Info())
	})
}

// generateRobotID generates a unique robot ID
func generateRobotID() string {
	return "robot-" + uuid.NewString()[:8]
}
