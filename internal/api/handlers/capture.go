package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printsink/internal/capture"
	"github.com/orrn/printsink/internal/webhook"
)

type CaptureStatusResponse struct {
	Running           bool   `json:"running"`
	ListenAddr        string `json:"listen_addr"`
	BoundAddr         string `json:"bound_addr,omitempty"`
	ActiveConnections int    `json:"active_connections"`
	HistoryJobs       int    `json:"history_jobs"`
	HistoryBytes      int64  `json:"history_bytes"`
	TotalJobs         uint64 `json:"total_jobs"`
	TotalBytes        int64  `json:"total_bytes"`
}

type CaptureSettingsResponse struct {
	NoiseFilterEnabled bool   `json:"noise_filter_enabled"`
	NoiseMinBytes      int    `json:"noise_min_bytes"`
	IdleTimeout        string `json:"idle_timeout"`
	MaxJobs            int    `json:"max_jobs"`
	MaxTotalBytes      int64  `json:"max_total_bytes"`
}

// UpdateCaptureSettingsRequest uses pointers so absent fields leave the
// current value alone. Changes apply to the running process only.
type UpdateCaptureSettingsRequest struct {
	NoiseFilterEnabled *bool   `json:"noise_filter_enabled"`
	NoiseMinBytes      *int    `json:"noise_min_bytes" binding:"omitempty,min=0"`
	IdleTimeout        *string `json:"idle_timeout"`
	MaxJobs            *int    `json:"max_jobs" binding:"omitempty,min=0"`
	MaxTotalBytes      *int64  `json:"max_total_bytes" binding:"omitempty,min=0"`
}

type CaptureHandler struct {
	server  *capture.Server
	history *capture.History
	hub     *EventHub
	sender  *webhook.Sender
}

func NewCaptureHandler(server *capture.Server, history *capture.History, hub *EventHub, sender *webhook.Sender) *CaptureHandler {
	return &CaptureHandler{
		server:  server,
		history: history,
		hub:     hub,
		sender:  sender,
	}
}

func (h *CaptureHandler) GetStatus(c *gin.Context) {
	totalJobs, totalBytes := h.server.Totals()

	c.JSON(http.StatusOK, CaptureStatusResponse{
		Running:           h.server.Running(),
		ListenAddr:        h.server.ListenAddr(),
		BoundAddr:         h.server.Addr(),
		ActiveConnections: h.server.ConnCount(),
		HistoryJobs:       h.history.Len(),
		HistoryBytes:      h.history.TotalBytes(),
		TotalJobs:         totalJobs,
		TotalBytes:        totalBytes,
	})
}

func (h *CaptureHandler) StartCapture(c *gin.Context) {
	if err := h.server.Start(); err != nil {
		if errors.Is(err, capture.ErrServerRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "capture already running"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	addr := h.server.Addr()
	h.hub.BroadcastCaptureStarted(addr)
	h.sender.SendCaptureStarted(addr)

	c.JSON(http.StatusOK, gin.H{"message": "capture started", "addr": addr})
}

func (h *CaptureHandler) StopCapture(c *gin.Context) {
	if !h.server.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "capture not running"})
		return
	}

	h.server.Stop()
	h.hub.BroadcastCaptureStopped()
	h.sender.SendCaptureStopped()

	c.JSON(http.StatusOK, gin.H{"message": "capture stopped"})
}

func (h *CaptureHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settingsResponse())
}

func (h *CaptureHandler) UpdateSettings(c *gin.Context) {
	var req UpdateCaptureSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	enabled, minBytes := h.server.NoiseFilter()
	if req.NoiseFilterEnabled != nil {
		enabled = *req.NoiseFilterEnabled
	}
	if req.NoiseMinBytes != nil {
		minBytes = *req.NoiseMinBytes
	}
	h.server.SetNoiseFilter(enabled, minBytes)

	if req.IdleTimeout != nil {
		d, err := time.ParseDuration(*req.IdleTimeout)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "idle_timeout must be a non-negative duration like \"30s\"",
			})
			return
		}
		h.server.SetIdleTimeout(d)
	}

	maxJobs, maxBytes := h.history.Limits()
	if req.MaxJobs != nil {
		maxJobs = *req.MaxJobs
	}
	if req.MaxTotalBytes != nil {
		maxBytes = *req.MaxTotalBytes
	}
	h.history.SetLimits(maxJobs, maxBytes)

	c.JSON(http.StatusOK, h.settingsResponse())
}

func (h *CaptureHandler) settingsResponse() CaptureSettingsResponse {
	enabled, minBytes := h.server.NoiseFilter()
	maxJobs, maxBytes := h.history.Limits()

	return CaptureSettingsResponse{
		NoiseFilterEnabled: enabled,
		NoiseMinBytes:      minBytes,
		IdleTimeout:        h.server.IdleTimeout().String(),
		MaxJobs:            maxJobs,
		MaxTotalBytes:      maxBytes,
	}
}

func (h *CaptureHandler) RegisterRoutes(r *gin.RouterGroup, auth gin.HandlerFunc) {
	r.GET("/capture/status", h.GetStatus)
	r.GET("/capture/settings", h.GetSettings)
	r.POST("/capture/start", auth, h.StartCapture)
	r.POST("/capture/stop", auth, h.StopCapture)
	r.PUT("/capture/settings", auth, h.UpdateSettings)
}
