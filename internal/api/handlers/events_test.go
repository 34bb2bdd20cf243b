package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/orrn/printsink/internal/capture"
	"github.com/orrn/printsink/internal/escpos"
)

func newEventEnv(t *testing.T) (*EventHub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewEventHub()
	r := gin.New()
	api := r.Group("/api")
	hub.RegisterRoutes(api)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
}

func dialEvents(t *testing.T, hub *EventHub, url string, expectClients int) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < expectClients {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), expectClients)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestEventHubCaptureState(t *testing.T) {
	hub, url := newEventEnv(t)
	conn := dialEvents(t, hub, url, 1)

	hub.BroadcastCaptureStarted("127.0.0.1:9100")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg EventMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != "capture.started" {
		t.Errorf("event = %q", msg.Event)
	}
	data, ok := msg.Data.(map[string]interface{})
	if !ok || data["addr"] != "127.0.0.1:9100" {
		t.Errorf("data = %+v", msg.Data)
	}

	hub.BroadcastCaptureStopped()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != "capture.stopped" {
		t.Errorf("event = %q", msg.Event)
	}
}

func TestEventHubJobCaptured(t *testing.T) {
	hub, url := newEventEnv(t)
	conn := dialEvents(t, hub, url, 1)

	raw := []byte("Latte 42,00\n")
	job := &capture.Job{
		Seq:        7,
		Label:      "till-1",
		Source:     capture.SourceNetwork,
		ReceivedAt: time.Now(),
		Raw:        raw,
		Doc:        escpos.NewParser(0).Parse(raw),
	}
	hub.BroadcastJobCaptured(job)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg EventMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != "job.captured" {
		t.Errorf("event = %q", msg.Event)
	}

	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %+v", msg.Data)
	}
	if data["seq"] != float64(7) {
		t.Errorf("seq = %v", data["seq"])
	}
	if data["label"] != "till-1" {
		t.Errorf("label = %v", data["label"])
	}
	if data["text_preview"] != "Latte 42,00" {
		t.Errorf("preview = %v", data["text_preview"])
	}
}

func TestEventHubFanout(t *testing.T) {
	hub, url := newEventEnv(t)
	connA := dialEvents(t, hub, url, 1)
	connB := dialEvents(t, hub, url, 2)

	hub.BroadcastCaptureStopped()

	for _, conn := range []*websocket.Conn{connA, connB} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg EventMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Event != "capture.stopped" {
			t.Errorf("event = %q", msg.Event)
		}
	}
}

func TestEventHubDisconnectUnregisters(t *testing.T) {
	hub, url := newEventEnv(t)
	conn := dialEvents(t, hub, url, 1)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d after close, want 0", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
