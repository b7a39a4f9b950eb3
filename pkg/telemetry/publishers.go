package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-rover/internal/httpc"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

// HTTPPublisher POSTs each message as JSON, e.g. to a Node-RED
// /robo-data endpoint or the rover dashboard.
type HTTPPublisher struct {
	URL    string
	Client *http.Client
	// Legacy sends metrics as the flat {timestamp, system, metrics}
	// payload older Node-RED flows expect.
	Legacy bool
}

// NewHTTPPublisher creates a publisher with a client bounded by timeout.
func NewHTTPPublisher(url string, timeout time.Duration) *HTTPPublisher {
	return &HTTPPublisher{URL: url, Client: httpc.NewClient(timeout)}
}

func (p *HTTPPublisher) Name() string { return "http" }

func (p *HTTPPublisher) Publish(ctx context.Context, msg *protocol.Message) error {
	var body any = msg
	if p.Legacy && msg.Type == protocol.TypeMetrics {
		body = map[string]any{
			"timestamp": float64(msg.Timestamp) / 1000,
			"system":    msg.System,
			"metrics":   msg.Data,
		}
	}
	return httpc.PostJSON(ctx, p.Client, p.URL, body)
}

// WSPublisher streams messages over a websocket, dialing lazily and
// redialing on the next publish after a write failure.
type WSPublisher struct {
	URL    string
	Dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSPublisher creates a publisher for a ws:// or wss:// URL.
func NewWSPublisher(url string) *WSPublisher {
	return &WSPublisher{
		URL: url,
		Dialer: &websocket.Dialer{
			HandshakeTimeout: httpc.DefaultConnectTimeout,
		},
	}
}

func (p *WSPublisher) Name() string { return "ws" }

func (p *WSPublisher) Publish(ctx context.Context, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		conn, _, err := p.Dialer.DialContext(ctx, p.URL, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", p.URL, err)
		}
		p.conn = conn
	}

	if deadline, ok := ctx.Deadline(); ok {
		p.conn.SetWriteDeadline(deadline)
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		p.conn.Close()
		p.conn = nil
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close sends a close frame and drops the connection.
func (p *WSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := p.conn.Close()
	p.conn = nil
	return err
}

// Fanout publishes every message to all publishers and joins their errors.
type Fanout []Publisher

func (f Fanout) Name() string { return "fanout" }

func (f Fanout) Publish(ctx context.Context, msg *protocol.Message) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher that holds resources.
func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if c, ok := p.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// flatten turns a JSON payload into scalar fields, expanding one level
// of nested objects as "<key>_<subkey>". Arrays are skipped and "time",
// which Influx reserves, becomes "sim_time".
func flatten(data json.RawMessage) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "time" {
			k = "sim_time"
		}
		switch val := v.(type) {
		case float64, bool, string:
			fields[k] = val
		case map[string]any:
			for sk, sv := range val {
				switch s := sv.(type) {
				case float64, bool, string:
					fields[k+"_"+sk] = s
				}
			}
		}
	}
	return fields, nil
}
