package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-rover/pkg/hub"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

const (
	defaultEventLimit = 100
	defaultRunLimit   = 20
)

// handleIngest accepts an envelope or a legacy Node-RED payload
func (s *Server) handleIngest(c *fiber.Ctx) error {
	msg, err := protocol.ParseMessage(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	s.Ingest(SourceHTTP, "", msg)
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleStatus returns the dashboard overview
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

// handleEvents returns recent events, filtered by ?type=, ?system= and ?limit=
func (s *Server) handleEvents(c *fiber.Ctx) error {
	f := EventFilter{
		Type:   protocol.MessageType(c.Query("type")),
		System: c.Query("system"),
		Limit:  c.QueryInt("limit", defaultEventLimit),
	}
	if f.Type != "" && !f.Type.Known() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown message type",
		})
	}
	if f.Limit <= 0 || f.Limit > s.keep {
		f.Limit = s.keep
	}

	events := s.Events(f)
	if events == nil {
		events = []Event{}
	}
	return c.JSON(events)
}

// handleRuns lists stored runs, filtered by ?system= and ?limit=
func (s *Server) handleRuns(c *fiber.Ctx) error {
	if s.runs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "run history not configured",
		})
	}

	runs, err := s.runs.List(c.UserContext(), c.Query("system"), c.QueryInt("limit", defaultRunLimit))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleTelemetryWS streams every ingested event to a browser
func (s *Server) handleTelemetryWS(c *websocket.Conn) {
	hub.NewViewer(s.viewers, c).Run()
}
