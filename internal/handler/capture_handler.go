// internal/handler/capture_handler.go
package handler

import (
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"scope-service/internal/model"
	"scope-service/internal/repository"
	"scope-service/internal/service"
	"scope-service/internal/utils"
)

// CaptureHandler handles deep-memory capture HTTP requests
type CaptureHandler struct {
	captureService *service.CaptureService
	logger         *utils.ServiceLogger
}

// NewCaptureHandler creates a new capture handler
func NewCaptureHandler(captureService *service.CaptureService, logger *zap.Logger) *CaptureHandler {
	return &CaptureHandler{
		captureService: captureService,
		logger:         utils.NewServiceLogger(logger, "capture-handler"),
	}
}

// RegisterRoutes registers capture routes
func (h *CaptureHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/sessions/:id/captures", h.StartCapture)
	router.GET("/sessions/:id/captures", h.ListSessionCaptures)

	captures := router.Group("/captures")
	{
		captures.GET("", h.ListCaptures)
		captures.GET("/:capture_id", h.GetCapture)
		captures.GET("/:capture_id/data", h.DownloadData)
		captures.PUT("/:capture_id/cancel", h.CancelCapture)
		captures.DELETE("/:capture_id", h.DeleteCapture)
	}
}

// StartCapture begins a deep-memory download
// @Summary Start a capture
// @Description Download the acquisition memory of every displayed channel in the background
// @Tags Captures
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body service.CaptureRequest false "Capture options"
// @Success 202 {object} utils.APIResponse{data=model.Capture} "Capture started"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Failure 409 {object} utils.APIResponse "Capture already running"
// @Router /sessions/{id}/captures [post]
func (h *CaptureHandler) StartCapture(c *gin.Context) {
	sessionID, ok := paramUUID(c, "id", "session ID")
	if !ok {
		return
	}

	var req service.CaptureRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	capture, err := h.captureService.StartCapture(c.Request.Context(), sessionID, &req)
	if err != nil {
		respondError(c, h.logger, "Failed to start capture", err)
		return
	}
	utils.SuccessResponse(c, http.StatusAccepted, "Capture started", capture)
}

// ListSessionCaptures lists the captures of one session
// @Summary List session captures
// @Tags Captures
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=object{captures=[]model.Capture,pagination=service.PaginationResult}} "Captures retrieved"
// @Router /sessions/{id}/captures [get]
func (h *CaptureHandler) ListSessionCaptures(c *gin.Context) {
	sessionID, ok := paramUUID(c, "id", "session ID")
	if !ok {
		return
	}

	filter := parseCaptureFilter(c)
	filter.SessionID = &sessionID
	h.list(c, filter)
}

// ListCaptures lists captures with filtering and pagination
// @Summary List captures
// @Tags Captures
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param session_id query string false "Filter by session ID"
// @Param model query string false "Filter by model"
// @Param status query string false "Filter by status" Enums(RUNNING, COMPLETED, FAILED, CANCELLED)
// @Param start_date query string false "Captures started at or after (RFC 3339)"
// @Param end_date query string false "Captures started at or before (RFC 3339)"
// @Success 200 {object} utils.APIResponse{data=object{captures=[]model.Capture,pagination=service.PaginationResult}} "Captures retrieved"
// @Router /captures [get]
func (h *CaptureHandler) ListCaptures(c *gin.Context) {
	h.list(c, parseCaptureFilter(c))
}

func (h *CaptureHandler) list(c *gin.Context, filter *repository.CaptureFilter) {
	captures, pagination, err := h.captureService.ListCaptures(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, "Failed to list captures", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Captures retrieved successfully", gin.H{
		"captures":   captures,
		"pagination": pagination,
	})
}

// parseCaptureFilter reads the listing query; malformed values are ignored
func parseCaptureFilter(c *gin.Context) *repository.CaptureFilter {
	filter := &repository.CaptureFilter{Page: 1, PerPage: 20}

	if page := c.Query("page"); page != "" {
		if p, err := strconv.Atoi(page); err == nil && p > 0 {
			filter.Page = p
		}
	}
	if perPage := c.Query("per_page"); perPage != "" {
		if pp, err := strconv.Atoi(perPage); err == nil && pp > 0 && pp <= 100 {
			filter.PerPage = pp
		}
	}

	if sessionID := c.Query("session_id"); sessionID != "" {
		if id, err := uuid.Parse(sessionID); err == nil {
			filter.SessionID = &id
		}
	}
	if m := c.Query("model"); m != "" {
		filter.Model = &m
	}
	if status := c.Query("status"); status != "" {
		s := model.CaptureStatus(status)
		filter.Status = &s
	}
	if start := c.Query("start_date"); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			filter.StartDate = &t
		}
	}
	if end := c.Query("end_date"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			filter.EndDate = &t
		}
	}
	return filter
}

// GetCapture retrieves one capture record
// @Summary Get capture
// @Tags Captures
// @Produce json
// @Param capture_id path string true "Capture ID"
// @Success 200 {object} utils.APIResponse{data=model.Capture} "Capture retrieved"
// @Failure 404 {object} utils.APIResponse "Capture not found"
// @Router /captures/{capture_id} [get]
func (h *CaptureHandler) GetCapture(c *gin.Context) {
	id, ok := paramUUID(c, "capture_id", "capture ID")
	if !ok {
		return
	}

	capture, err := h.captureService.GetCapture(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Capture not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Capture retrieved successfully", capture)
}

// DownloadData streams the data file of a completed capture
// @Summary Download capture data
// @Description Raw captures are little endian int16 codes, channel after channel
// @Tags Captures
// @Produce application/octet-stream
// @Produce text/csv
// @Param capture_id path string true "Capture ID"
// @Success 200 {file} binary "Capture data"
// @Failure 404 {object} utils.APIResponse "No data"
// @Router /captures/{capture_id}/data [get]
func (h *CaptureHandler) DownloadData(c *gin.Context) {
	id, ok := paramUUID(c, "capture_id", "capture ID")
	if !ok {
		return
	}

	_, path, err := h.captureService.CaptureData(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Capture data not available", err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

// CancelCapture stops a running capture
// @Summary Cancel capture
// @Tags Captures
// @Accept json
// @Produce json
// @Param capture_id path string true "Capture ID"
// @Param request body CancelRequest false "Cancellation reason"
// @Success 200 {object} utils.APIResponse "Capture cancelled"
// @Failure 409 {object} utils.APIResponse "Capture is not running"
// @Router /captures/{capture_id}/cancel [put]
func (h *CaptureHandler) CancelCapture(c *gin.Context) {
	id, ok := paramUUID(c, "capture_id", "capture ID")
	if !ok {
		return
	}

	var req CancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by request"
	}

	if err := h.captureService.CancelCapture(id, req.Reason); err != nil {
		respondError(c, h.logger, "Failed to cancel capture", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Capture cancelled", gin.H{"capture_id": id})
}

// DeleteCapture removes a capture and its files
// @Summary Delete capture
// @Tags Captures
// @Produce json
// @Param capture_id path string true "Capture ID"
// @Success 200 {object} utils.APIResponse "Capture deleted"
// @Failure 404 {object} utils.APIResponse "Capture not found"
// @Router /captures/{capture_id} [delete]
func (h *CaptureHandler) DeleteCapture(c *gin.Context) {
	id, ok := paramUUID(c, "capture_id", "capture ID")
	if !ok {
		return
	}

	if err := h.captureService.DeleteCapture(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, "Failed to delete capture", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Capture deleted", gin.H{"capture_id": id})
}

// CancelRequest represents a cancellation request
type CancelRequest struct {
	Reason string `json:"reason"`
}
