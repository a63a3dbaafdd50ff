// Package telemetry streams governance and risk events to operator
// dashboards over WebSocket.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/quantfabric/riskcore/internal/events"
)

// Streamer fans every bus event out to connected WebSocket clients.
type Streamer struct {
	bus        *events.Bus
	clients    map[*websocket.Conn]bool
	broadcast  chan *events.Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	unsub      func()
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewStreamer creates a streamer attached to the event bus.
func NewStreamer(bus *events.Bus) *Streamer {
	return &Streamer{
		bus:        bus,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan *events.Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		stopCh: make(chan struct{}),
	}
}

// Run subscribes to the bus and serves the hub loop until Stop. Call in a
// goroutine.
func (s *Streamer) Run() {
	s.unsub = s.bus.SubscribeAll(func(_ context.Context, event *events.Event) {
		select {
		case s.broadcast <- event:
		default:
			// A slow dashboard must not stall event producers.
		}
	})

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			total := len(s.clients)
			s.mu.Unlock()
			slog.Info("Telemetry client connected", "total", total)

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.Close()
			}
			total := len(s.clients)
			s.mu.Unlock()
			slog.Info("Telemetry client disconnected", "total", total)

		case event := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				if err := client.WriteJSON(event); err != nil {
					slog.Warn("Telemetry write failed, dropping client", "error", err)
					client.Close()
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()

		case <-s.stopCh:
			s.mu.Lock()
			for client := range s.clients {
				client.Close()
			}
			s.clients = make(map[*websocket.Conn]bool)
			s.mu.Unlock()
			return
		}
	}
}

// Stop detaches from the bus and closes every client.
func (s *Streamer) Stop() {
	s.stopOnce.Do(func() {
		if s.unsub != nil {
			s.unsub()
		}
		close(s.stopCh)
	})
}

// HandleWebSocket upgrades the connection and registers the client.
func (s *Streamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	// The hub may already be stopped; never block a handler on a loop
	// that is no longer receiving.
	select {
	case s.register <- conn:
	case <-s.stopCh:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case s.unregister <- conn:
			case <-s.stopCh:
				conn.Close()
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Statistics reports hub state for the status endpoint.
func (s *Streamer) Statistics() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"connected_clients": len(s.clients),
		"broadcast_queue":   len(s.broadcast),
	}
}
