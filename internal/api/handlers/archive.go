package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printsink/internal/archive"
	"github.com/orrn/printsink/internal/escpos"
)

type ArchiveMonthsResponse struct {
	Months []archive.MonthInfo `json:"months"`
	Count  int                 `json:"count"`
}

type ArchivedJobsResponse struct {
	Month string                `json:"month"`
	Jobs  []archive.ArchivedJob `json:"jobs"`
	Count int                   `json:"count"`
}

type ArchivedJobDetail struct {
	archive.ArchivedJob
	ParseStatus string       `json:"parse_status"`
	Elements    []ElementDTO `json:"elements"`
}

// ArchiveHandler serves the on-disk archive. The store is nil when
// archiving is disabled, in which case every route answers 404.
type ArchiveHandler struct {
	store  *archive.Store
	parser *escpos.Parser
}

func NewArchiveHandler(store *archive.Store, parser *escpos.Parser) *ArchiveHandler {
	return &ArchiveHandler{
		store:  store,
		parser: parser,
	}
}

func (h *ArchiveHandler) enabled(c *gin.Context) bool {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archiving is disabled"})
		return false
	}
	return true
}

func (h *ArchiveHandler) ListMonths(c *gin.Context) {
	if !h.enabled(c) {
		return
	}

	months, err := h.store.Months()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list archive months"})
		return
	}

	c.JSON(http.StatusOK, ArchiveMonthsResponse{
		Months: months,
		Count:  len(months),
	})
}

func (h *ArchiveHandler) ListArchivedJobs(c *gin.Context) {
	if !h.enabled(c) {
		return
	}

	month := c.Query("month")
	if month == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "month query parameter is required, format YYYY-MM",
		})
		return
	}

	jobs, err := h.store.ListJobs(month)
	if err != nil {
		if errors.Is(err, archive.ErrMonthNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no archive for " + month})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list archived jobs"})
		return
	}

	if jobs == nil {
		jobs = []archive.ArchivedJob{}
	}

	c.JSON(http.StatusOK, ArchivedJobsResponse{
		Month: month,
		Jobs:  jobs,
		Count: len(jobs),
	})
}

// GetArchivedJob re-parses the stored bytes on demand. Only raw bytes
// live in the archive, so the document model is rebuilt here.
func (h *ArchiveHandler) GetArchivedJob(c *gin.Context) {
	if !h.enabled(c) {
		return
	}

	month, id, meta, ok := h.lookupArchived(c)
	if !ok {
		return
	}

	raw, err := h.store.JobRaw(month, id)
	if err != nil {
		h.archiveError(c, err)
		return
	}

	doc := h.parser.Parse(raw)
	detail := ArchivedJobDetail{
		ArchivedJob: meta,
		ParseStatus: string(doc.Status),
		Elements:    make([]ElementDTO, 0, len(doc.Elements)),
	}
	for _, el := range doc.Elements {
		detail.Elements = append(detail.Elements, elementToDTO(el))
	}

	c.JSON(http.StatusOK, detail)
}

func (h *ArchiveHandler) GetArchivedJobRaw(c *gin.Context) {
	if !h.enabled(c) {
		return
	}

	month, id, _, ok := h.lookupArchived(c)
	if !ok {
		return
	}

	raw, err := h.store.JobRaw(month, id)
	if err != nil {
		h.archiveError(c, err)
		return
	}

	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Transfer-Encoding", "binary")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=archived_job_%d.bin", id))
	c.Data(http.StatusOK, "application/octet-stream", raw)
}

func (h *ArchiveHandler) lookupArchived(c *gin.Context) (string, int64, archive.ArchivedJob, bool) {
	var none archive.ArchivedJob

	month := c.Query("month")
	if month == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "month query parameter is required, format YYYY-MM",
		})
		return "", 0, none, false
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Archived job id must be an integer",
		})
		return "", 0, none, false
	}

	jobs, err := h.store.ListJobs(month)
	if err != nil {
		h.archiveError(c, err)
		return "", 0, none, false
	}
	for _, j := range jobs {
		if j.ID == id {
			return month, id, j, true
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no archived job %d in %s", id, month)})
	return "", 0, none, false
}

func (h *ArchiveHandler) archiveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, archive.ErrMonthNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "archive month not found"})
	case errors.Is(err, archive.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "archived job not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "archive query failed"})
	}
}

func (h *ArchiveHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/archive/months", h.ListMonths)
	r.GET("/archive/jobs", h.ListArchivedJobs)
	r.GET("/archive/jobs/:id", h.GetArchivedJob)
	r.GET("/archive/jobs/:id/raw", h.GetArchivedJobRaw)
}
