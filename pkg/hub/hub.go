// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
//
// The dashboard keeps one hub for browser telemetry viewers; every
// ingested event is broadcast to all of them.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-rover/internal/log"
)

// Hub maintains the set of connected viewers and broadcasts events to them
type Hub struct {
	name   string
	log    *slog.Logger
	timing Timing

	viewers map[*Viewer]struct{}

	// Encoded events waiting for the fan-out
	broadcast chan []byte

	join  chan *Viewer
	leave chan *Viewer

	// Guards viewers for Viewers
	mu sync.RWMutex

	// Closed when Run returns
	done chan struct{}

	running atomic.Bool
	dropped atomic.Uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithTiming sets the keepalive timing of viewer connections.
func WithTiming(t Timing) Option {
	return func(h *Hub) { h.timing = t.normalized() }
}

// New creates a new Hub
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:      name,
		log:       log.Component("hub").With("hub", name),
		timing:    DefaultTiming().normalized(),
		viewers:   make(map[*Viewer]struct{}),
		broadcast: make(chan []byte, 256),
		join:      make(chan *Viewer),
		leave:     make(chan *Viewer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main loop and returns when ctx is done, closing
// every viewer's queue. A hub runs once.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer close(h.done)
	defer h.running.Store(false)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case v := <-h.join:
			h.mu.Lock()
			h.viewers[v] = struct{}{}
			count := len(h.viewers)
			h.mu.Unlock()
			h.log.Info("viewer connected", "viewers", count)

		case v := <-h.leave:
			h.mu.Lock()
			if _, ok := h.viewers[v]; ok {
				delete(h.viewers, v)
				close(v.send)
			}
			count := len(h.viewers)
			h.mu.Unlock()
			h.log.Info("viewer disconnected", "viewers", count)

		case event := <-h.broadcast:
			h.mu.Lock()
			for v := range h.viewers {
				select {
				case v.send <- event:
				default:
					// a viewer that cannot keep up is cut off
					close(v.send)
					delete(h.viewers, v)
					h.log.Warn("dropped slow viewer")
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) add(v *Viewer) bool {
	select {
	case h.join <- v:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(v *Viewer) {
	select {
	case h.leave <- v:
	case <-h.done:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		close(v.send)
		delete(h.viewers, v)
	}
}

// Broadcast queues pre-encoded JSON for every viewer. It never blocks;
// when the queue is full the event is dropped.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		h.log.Debug("broadcast channel full, dropping event")
	}
}

// BroadcastJSON encodes and broadcasts a JSON message
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Viewers returns the number of connected viewers
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Dropped returns the number of broadcasts lost to a full queue.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}
