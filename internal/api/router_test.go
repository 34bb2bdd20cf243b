package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/printsink/internal/api/handlers"
	"github.com/orrn/printsink/internal/api/middleware"
	"github.com/orrn/printsink/internal/capture"
	"github.com/orrn/printsink/internal/config"
	"github.com/orrn/printsink/internal/escpos"
	"github.com/orrn/printsink/internal/webhook"
)

func newTestRouter(t *testing.T, passwordHash string) (*gin.Engine, *capture.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Defaults()
	cfg.Capture.Host = "127.0.0.1"
	cfg.Capture.Port = 0

	history := capture.NewHistory(10, 0)
	server := capture.NewServer(cfg, history)
	t.Cleanup(server.Stop)

	auth, err := middleware.NewAuthMiddleware(passwordHash, time.Hour)
	if err != nil {
		t.Fatalf("NewAuthMiddleware: %v", err)
	}

	r := NewRouter(Deps{
		Version: "test",
		History: history,
		Server:  server,
		Store:   nil,
		Parser:  escpos.NewParser(0),
		Hub:     handlers.NewEventHub(),
		Sender:  webhook.NewSender(nil, webhook.Options{}),
		Auth:    auth,
	})
	return r, server
}

func get(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := get(t, r, "/api/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, server := newTestRouter(t, "")

	server.Ingest("warmup.bin", []byte("some receipt data\n"))

	w := get(t, r, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "printsink_capture_bytes_total") {
		t.Error("metrics output missing capture counters")
	}
	if !strings.Contains(w.Body.String(), "printsink_history_jobs") {
		t.Error("metrics output missing history gauge")
	}
}

func TestMutatingRoutesRequireAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sekrit"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	r, _ := newTestRouter(t, string(hash))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/9", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated delete status = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"sekrit"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}

	var login middleware.LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/api/jobs/9", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("authenticated delete status = %d, want 404 for unknown job", w.Code)
	}

	w = get(t, r, "/api/jobs")
	if w.Code != http.StatusOK {
		t.Errorf("read route status = %d, reads should stay public", w.Code)
	}
}

func TestArchiveRoutesDisabledThroughRouter(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := get(t, r, "/api/archive/months")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when archiving disabled", w.Code)
	}
}
