// Package wshub pushes telemetry events to websocket subscribers.
//
// Delivery is strictly best-effort: each client has a bounded send queue and
// events are dropped for that client when it falls behind. Publishers never
// block, so the telemetry cadence stays decoupled from slow consumers.
package wshub

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeTimeout = 5 * time.Second

	// sendQueueLen buffers ~1 s of metrics events per client at the
	// telemetry cadence before frames start dropping.
	sendQueueLen = 32
)

// Event is one telemetry message as it appears on the wire.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans telemetry events out to connected websocket clients.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan Event]*websocket.Conn
	closed  bool
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clients: make(map[chan Event]*websocket.Conn),
	}
}

// Register binds the websocket route on an Echo router.
func (h *Hub) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and streams events to it until the
// peer disconnects or the hub closes.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "upgrade websocket: "+err.Error())
	}
	h.serveConn(conn)
	return nil
}

func (h *Hub) serveConn(conn *websocket.Conn) {
	send := make(chan Event, sendQueueLen)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[send] = conn
	count := len(h.clients)
	h.mu.Unlock()
	slog.Debug("telemetry client connected", "clients", count)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}()

	// The stream is one-way; the read loop only notices disconnects.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if _, ok := h.clients[send]; ok {
		delete(h.clients, send)
		close(send)
	}
	h.mu.Unlock()
	<-done
	_ = conn.Close()
	slog.Debug("telemetry client disconnected")
}

// Broadcast queues an event for every connected client. Clients whose queue
// is full miss this event; Broadcast never blocks.
func (h *Hub) Broadcast(event string, data any) {
	ev := Event{Event: event, Data: data}
	h.mu.Lock()
	defer h.mu.Unlock()
	for send := range h.clients {
		select {
		case send <- ev:
		default: // slow consumer, drop the frame
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all subscribers and rejects future ones. Closing the
// underlying conns unblocks each client's read loop so shutdown is prompt.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for send, conn := range h.clients {
		delete(h.clients, send)
		close(send)
		_ = conn.Close()
	}
}
