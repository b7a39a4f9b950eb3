package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

// Timing controls how the hub keeps viewer connections alive.
type Timing struct {
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// IdleTimeout closes a viewer that has not answered a ping in time.
	IdleTimeout time.Duration
	// PingEvery is the ping interval. It must be shorter than IdleTimeout;
	// zero picks nine tenths of it.
	PingEvery time.Duration
}

// DefaultTiming suits browsers on a local network.
func DefaultTiming() Timing {
	return Timing{
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (t Timing) normalized() Timing {
	d := DefaultTiming()
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = d.WriteTimeout
	}
	if t.IdleTimeout <= 0 {
		t.IdleTimeout = d.IdleTimeout
	}
	if t.PingEvery <= 0 || t.PingEvery >= t.IdleTimeout {
		t.PingEvery = t.IdleTimeout * 9 / 10
	}
	return t
}

const (
	// viewers only send control frames
	viewerReadLimit = 4 << 10

	viewerQueue = 256
)

// Viewer is one browser following the telemetry stream.
type Viewer struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	timing Timing
}

// NewViewer registers conn with h. A viewer joining a stopped hub gets a
// close frame as soon as Run is called.
func NewViewer(h *Hub, conn *websocket.Conn) *Viewer {
	v := &Viewer{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, viewerQueue),
		timing: h.timing,
	}
	if !h.add(v) {
		close(v.send)
	}
	return v
}

// Run serves the viewer until the connection drops or the hub stops.
// Call it from the websocket handler.
func (v *Viewer) Run() {
	go v.write()
	v.read()
}

// read discards whatever the browser sends; it exists to notice
// disconnects and to extend the deadline on every pong.
func (v *Viewer) read() {
	defer func() {
		v.hub.remove(v)
		v.conn.Close()
	}()

	idle := v.timing.IdleTimeout
	v.conn.SetReadLimit(viewerReadLimit)
	v.conn.SetReadDeadline(time.Now().Add(idle))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// write owns every write on the connection. Events already queued when
// it wakes up go out under one deadline.
func (v *Viewer) write() {
	ping := time.NewTicker(v.timing.PingEvery)
	defer func() {
		ping.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case event, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(v.timing.WriteTimeout))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, event); err != nil {
				return
			}
			for n := len(v.send); n > 0; n-- {
				event, ok = <-v.send
				if !ok {
					v.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := v.conn.WriteMessage(websocket.TextMessage, event); err != nil {
					return
				}
			}

		case <-ping.C:
			v.conn.SetWriteDeadline(time.Now().Add(v.timing.WriteTimeout))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
