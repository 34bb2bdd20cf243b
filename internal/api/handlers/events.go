package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/orrn/printsink/internal/capture"
	"github.com/orrn/printsink/internal/observability"
)

const eventWriteTimeout = 5 * time.Second

type EventMessage struct {
	Event string      `json:"event"`
	Time  time.Time   `json:"time"`
	Data  interface{} `json:"data,omitempty"`
}

type CaptureStateEvent struct {
	Addr string `json:"addr,omitempty"`
}

// EventHub fans captured-job and capture-state events out to WebSocket
// clients. Clients only listen; a per-connection reader goroutine
// discards inbound frames and notices the disconnect. Each connection
// gets its own write mutex so a slow client never blocks the others
// beyond its write deadline.
type EventHub struct {
	clients   map[*websocket.Conn]*sync.Mutex
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*websocket.Conn]*sync.Mutex),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *EventHub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[api] websocket upgrade failed: %v", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.clientsMu.Unlock()

	observability.EventClientConnected()
	log.Printf("[api] event client connected from %s (total: %d)", conn.RemoteAddr(), count)

	go h.readLoop(conn)
}

// readLoop drains a client until it goes away, then unregisters it.
func (h *EventHub) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.dropClient(conn)
}

func (h *EventHub) dropClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, known := h.clients[conn]
	if known {
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	if known {
		conn.Close()
		observability.EventClientDisconnected()
		log.Printf("[api] event client disconnected from %s", conn.RemoteAddr())
	}
}

func (h *EventHub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) BroadcastJobCaptured(job *capture.Job) {
	h.broadcast("job.captured", jobToSummary(job))
}

func (h *EventHub) BroadcastCaptureStarted(addr string) {
	h.broadcast("capture.started", CaptureStateEvent{Addr: addr})
}

func (h *EventHub) BroadcastCaptureStopped() {
	h.broadcast("capture.stopped", nil)
}

func (h *EventHub) broadcast(event string, data interface{}) {
	msg := EventMessage{Event: event, Time: time.Now().UTC(), Data: data}

	h.clientsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	locks := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mu := range h.clients {
		conns = append(conns, conn)
		locks = append(locks, mu)
	}
	h.clientsMu.RUnlock()

	var failed []*websocket.Conn
	for i, conn := range conns {
		mu := locks[i]
		mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		err := conn.WriteJSON(msg)
		mu.Unlock()

		if err != nil {
			failed = append(failed, conn)
		}
	}

	for _, conn := range failed {
		log.Printf("[api] dropping slow event client %s", conn.RemoteAddr())
		h.dropClient(conn)
	}
}

// Close disconnects every client, for shutdown.
func (h *EventHub) Close() {
	h.clientsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.clientsMu.Unlock()

	for _, conn := range conns {
		conn.Close()
		observability.EventClientDisconnected()
	}
}

func (h *EventHub) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/events", h.HandleWebSocket)
}
