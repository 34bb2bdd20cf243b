package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printsink/internal/capture"
	"github.com/orrn/printsink/internal/escpos"
)

const (
	previewRunes  = 80
	maxIngestSize = 64 << 20
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type JobSummary struct {
	Seq          uint64    `json:"seq"`
	Label        string    `json:"label"`
	Source       string    `json:"source"`
	PeerAddr     string    `json:"peer_addr,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
	SizeBytes    int64     `json:"size_bytes"`
	Status       string    `json:"status"`
	ElementCount int       `json:"element_count"`
	TextPreview  string    `json:"text_preview,omitempty"`
}

type JobDetail struct {
	JobSummary
	Elements []ElementDTO `json:"elements"`
}

// ElementDTO carries exactly one of the typed payloads, selected by Type.
type ElementDTO struct {
	Type    string      `json:"type"`
	Text    *TextDTO    `json:"text,omitempty"`
	Raster  *RasterDTO  `json:"raster,omitempty"`
	Barcode *BarcodeDTO `json:"barcode,omitempty"`
	Qr      *QrDTO      `json:"qr,omitempty"`
	Cut     *CutDTO     `json:"cut,omitempty"`
}

type TextDTO struct {
	Content   string `json:"content"`
	Bold      bool   `json:"bold"`
	Alignment string `json:"alignment"`
	WidthMul  int    `json:"width_mul"`
	HeightMul int    `json:"height_mul"`
}

type RasterDTO struct {
	WidthPx  int    `json:"width_px"`
	HeightPx int    `json:"height_px"`
	Bitmap   []byte `json:"bitmap"`
}

type BarcodeDTO struct {
	Symbology   string `json:"symbology"`
	Data        string `json:"data"`
	ModuleWidth int    `json:"module_width"`
	Height      int    `json:"height"`
	Hri         string `json:"hri"`
	HriFont     int    `json:"hri_font"`
}

type QrDTO struct {
	Payload    string `json:"payload"`
	Model      int    `json:"model"`
	ModuleSize int    `json:"module_size"`
	Ecc        int    `json:"ecc"`
}

type CutDTO struct {
	Kind string `json:"kind"`
}

type ClearJobsResponse struct {
	Removed int `json:"removed"`
}

type JobsHandler struct {
	history *capture.History
	server  *capture.Server
}

func NewJobsHandler(history *capture.History, server *capture.Server) *JobsHandler {
	return &JobsHandler{
		history: history,
		server:  server,
	}
}

func (h *JobsHandler) ListJobs(c *gin.Context) {
	jobs := h.history.Jobs()

	responses := make([]JobSummary, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobToSummary(job))
	}

	c.JSON(http.StatusOK, responses)
}

func (h *JobsHandler) GetJob(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}

	detail := JobDetail{
		JobSummary: jobToSummary(job),
		Elements:   make([]ElementDTO, 0, len(job.Doc.Elements)),
	}
	for _, el := range job.Doc.Elements {
		detail.Elements = append(detail.Elements, elementToDTO(el))
	}

	c.JSON(http.StatusOK, detail)
}

func (h *JobsHandler) GetJobRaw(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}

	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Transfer-Encoding", "binary")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=job_%d.bin", job.Seq))
	c.Data(http.StatusOK, "application/octet-stream", job.Raw)
}

func (h *JobsHandler) GetJobHex(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}

	c.String(http.StatusOK, hexDump(job.Raw))
}

func (h *JobsHandler) DeleteJob(c *gin.Context) {
	seq, ok := h.parseSeq(c)
	if !ok {
		return
	}

	if !h.history.Remove(seq) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: fmt.Sprintf("No job with sequence %d", seq),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job removed"})
}

func (h *JobsHandler) ClearJobs(c *gin.Context) {
	removed := h.history.Clear()
	c.JSON(http.StatusOK, ClearJobsResponse{Removed: removed})
}

// IngestJob accepts printer bytes outside the capture listener, either
// as a multipart "file" field or as the raw request body.
func (h *JobsHandler) IngestJob(c *gin.Context) {
	label := c.Query("label")

	var data []byte
	if file, err := c.FormFile("file"); err == nil {
		if label == "" {
			label = c.PostForm("label")
		}
		if label == "" {
			label = file.Filename
		}

		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "upload_error",
				Message: "Failed to open uploaded file",
			})
			return
		}
		defer f.Close()

		data, err = io.ReadAll(io.LimitReader(f, maxIngestSize))
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "upload_error",
				Message: "Failed to read uploaded file",
			})
			return
		}
	} else {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIngestSize))
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "upload_error",
				Message: "Failed to read request body",
			})
			return
		}
		data = body
	}

	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "empty_upload",
			Message: "No printer data in request",
		})
		return
	}

	if label == "" {
		label = "api upload"
	}

	job := h.server.Ingest(label, data)
	c.JSON(http.StatusCreated, jobToSummary(job))
}

func (h *JobsHandler) parseSeq(c *gin.Context) (uint64, bool) {
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Job sequence must be a positive integer",
		})
		return 0, false
	}
	return seq, true
}

func (h *JobsHandler) lookupJob(c *gin.Context) (*capture.Job, bool) {
	seq, ok := h.parseSeq(c)
	if !ok {
		return nil, false
	}

	job, ok := h.history.Get(seq)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: fmt.Sprintf("No job with sequence %d", seq),
		})
		return nil, false
	}
	return job, true
}

func jobToSummary(job *capture.Job) JobSummary {
	return JobSummary{
		Seq:          job.Seq,
		Label:        job.Label,
		Source:       string(job.Source),
		PeerAddr:     job.PeerAddr,
		ReceivedAt:   job.ReceivedAt,
		SizeBytes:    int64(job.Size()),
		Status:       string(job.Doc.Status),
		ElementCount: len(job.Doc.Elements),
		TextPreview:  textPreview(job.Doc),
	}
}

func elementToDTO(el escpos.Element) ElementDTO {
	switch e := el.(type) {
	case escpos.TextRun:
		return ElementDTO{Type: "text", Text: &TextDTO{
			Content:   e.Content,
			Bold:      e.Bold,
			Alignment: string(e.Alignment),
			WidthMul:  e.WidthMul,
			HeightMul: e.HeightMul,
		}}
	case escpos.RasterImage:
		return ElementDTO{Type: "raster", Raster: &RasterDTO{
			WidthPx:  e.WidthPx,
			HeightPx: e.HeightPx,
			Bitmap:   e.Bitmap,
		}}
	case escpos.Barcode:
		return ElementDTO{Type: "barcode", Barcode: &BarcodeDTO{
			Symbology:   string(e.Symbology),
			Data:        string(e.Data),
			ModuleWidth: e.ModuleWidth,
			Height:      e.Height,
			Hri:         string(e.Hri),
			HriFont:     e.HriFont,
		}}
	case escpos.QrCode:
		return ElementDTO{Type: "qrcode", Qr: &QrDTO{
			Payload:    string(e.Payload),
			Model:      e.Model,
			ModuleSize: e.ModuleSize,
			Ecc:        e.Ecc,
		}}
	case escpos.Cut:
		return ElementDTO{Type: "cut", Cut: &CutDTO{Kind: string(e.Kind)}}
	default:
		return ElementDTO{Type: "unknown"}
	}
}

// textPreview joins the document's text runs into a single line capped
// at previewRunes runes.
func textPreview(doc *escpos.Document) string {
	var sb strings.Builder
	for _, el := range doc.Elements {
		run, ok := el.(escpos.TextRun)
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.TrimSpace(run.Content))
		if sb.Len() >= previewRunes*4 {
			break
		}
	}

	preview := strings.Join(strings.Fields(sb.String()), " ")
	runes := []rune(preview)
	if len(runes) > previewRunes {
		return string(runes[:previewRunes])
	}
	return preview
}

// hexDump renders data 16 bytes per line with an offset column.
func hexDump(data []byte) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 16 {
		fmt.Fprintf(&sb, "%04x: ", i)
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		for j := i; j < end; j++ {
			fmt.Fprintf(&sb, "%02x ", data[j])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (h *JobsHandler) RegisterRoutes(r *gin.RouterGroup, auth gin.HandlerFunc) {
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:seq", h.GetJob)
	r.GET("/jobs/:seq/raw", h.GetJobRaw)
	r.GET("/jobs/:seq/hex", h.GetJobHex)
	r.DELETE("/jobs/:seq", auth, h.DeleteJob)
	r.DELETE("/jobs", auth, h.ClearJobs)
	r.POST("/jobs/ingest", auth, h.IngestJob)
}
