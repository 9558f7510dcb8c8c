// internal/handler/session_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scope-service/internal/service"
	"scope-service/internal/utils"
)

const commandTimeout = 10 * time.Second

// SessionHandler handles instrument session HTTP requests
type SessionHandler struct {
	scopeService *service.ScopeService
	logger       *utils.ServiceLogger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(scopeService *service.ScopeService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		scopeService: scopeService,
		logger:       utils.NewServiceLogger(logger, "session-handler"),
	}
}

// RegisterRoutes registers session routes
func (h *SessionHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/models", h.ListModels)

	sessions := router.Group("/sessions")
	{
		sessions.POST("", h.Connect)
		sessions.GET("", h.ListSessions)

		session := sessions.Group("/:id")
		{
			session.GET("", h.GetSession)
			session.DELETE("", h.Disconnect)
			session.GET("/settings", h.GetSettings)
			session.POST("/resync", h.Resync)
			session.POST("/commands", h.SendCommand)
			session.POST("/controls/:action", h.ApplyControl)
			session.GET("/trigger-level", h.GetTriggerLevel)
			session.GET("/screenshot", h.Screenshot)
			session.GET("/stats", h.GetStats)
		}
	}
}

// Connect opens an instrument session
// @Summary Connect an instrument
// @Description Open the transport, identify the instrument and read its settings
// @Tags Sessions
// @Accept json
// @Produce json
// @Param request body service.ConnectRequest true "Connection request"
// @Success 201 {object} utils.APIResponse{data=model.Instrument} "Instrument connected"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 409 {object} utils.APIResponse "Untested model not accepted"
// @Failure 502 {object} utils.APIResponse "Instrument unreachable"
// @Router /sessions [post]
func (h *SessionHandler) Connect(c *gin.Context) {
	var req service.ConnectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	inst, err := h.scopeService.Connect(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, "Failed to connect instrument", err)
		return
	}

	h.logger.Info("Instrument session opened",
		zap.String("session_id", inst.SessionID.String()),
		zap.String("model", inst.Model),
	)
	utils.SuccessResponse(c, http.StatusCreated, "Instrument connected", inst)
}

// ListSessions lists connected instruments
// @Summary List sessions
// @Tags Sessions
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{sessions=[]model.Instrument,total=int}} "Sessions retrieved"
// @Router /sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	list := h.scopeService.ListInstruments()
	utils.SuccessResponse(c, http.StatusOK, "Sessions retrieved successfully", gin.H{
		"sessions": list,
		"total":    len(list),
	})
}

// GetSession describes one session
// @Summary Get session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=model.Instrument} "Session retrieved"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Router /sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := paramUUID(c, "id", "session ID")
	if !ok {
		return
	}

	inst, err := h.scopeService.GetInstrument(id)
	if err != nil {
		respondError(c, h.logger, "Session not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Session retrieved successfully", inst)
}

// Disconnect closes a session
// @Summary Disconnect an instrument
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse "Instrument disconnected"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Router /sessions/{id} [delete]
func (h *SessionHandler) Disconnect(c *gin.Context) {
	id, ok := paramUUID(c, "id", "session ID")
	if !ok {
		return
	}

	if err := h.scopeService.Disconnect(id); err != nil {
		respondError(c, h.logger, "Failed to disconnect instrument", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Instrument disconnected", gin.H{"session_id": id})
}

// GetSettings returns the settings snapshot
// @Summary Get instrument settings
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=model.Settings} "Settings retrieved"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Router /sessions/{id}/settings [get]
func (h *SessionHandler) GetSettings(c *gin.Context) {
	id, ok := paramUUID(c, "id", "session ID")
	if !ok {
		return
	}

	st, err := h.scopeService.Settings(id)
	if err != nil {
		respondError(c, h.logger, "Failed to get settings", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Settings retrieved successfully", st)
}

// Resync reads the instrument configuration again
// @Summary Resynchronise settings
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=model.Settings} "Settings synchronised"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Failure 422 {object} utils.APIResponse "Unexpected instrument response"
// @Router /sessions/{id}/resync [post]
func (h *SessionHandler) Resync(c *gin.Context) {
	id, ok := paramUUID(c, "id", "session ID")
	if !ok {
		return
	}

	st, err := h.scopeService.Resync(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to resync settings", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Settings synchronised", st)
}

// SendCommand queues a raw SCPI command
// @Summary Send a raw command
// @Description Queue a command; queries wait for the instrument response
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body CommandRequest true "Command"
// @Success 200 {object} utils.APIResponse{data=object{command=string,response=string}} "Command sent"
// @Failure 400 {object} utils.APIResponse "Invalid command"
// @Failure 504 {object} utils.APIResponse "No response"
// @Router /sessions/{id}/commands [post]
func (h *SessionHandler) SendCommand(c *gin.Context) {
	id, ok := paramUUID(c, "id", "session ID")
	if !ok {
		return
	}

	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	resp, err := h.scopeService.SendCommand(ctx, id, req.Command)
	if err != nil {
		respondError(c, h.logger, "Failed to send command", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Command sent", gin.H{
		"command":  req.Command,
		"response": resp,
	})
}

// ApplyControl runs a front panel control
// @Summary Apply a control
// @Description Actions run, stop, single, force, auto, clear and the named controls of the service
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param action path string true "Control name"
// @Param request body service.ControlRequest false "Control arguments"
// @Success 202 {object} utils.APIResponse "Control queued"
// @Failure 400 {object} utils.APIResponse "Invalid control"
// @Failure 503 {object} utils.APIResponse "Command cue full"
// @Router /sessions/{id}/controls/{action} [post]
func (h *SessionHandler) ApplyControl(c *gin.Context) {
	id, ok := paramUUID(c, "id", "session ID")
	if !ok {
		return
	}

	var req service.ControlRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	action := c.Param("action")
	if err := h.scopeService.ApplyControl(id, action, &req); err != nil {
		respondError(c, h.logger, "Failed to apply control", err)
		return
	}

	st, err := h.scopeService.Settings(id)
	if err != nil {
		respondError(c, h.logger, "Failed to get settings", err)
		return
	}
	utils.SuccessResponse(c, http.StatusAccepted, "Control queued", gin.H{
		"action":   action,
		"settings": st,
	})
}

// GetTriggerLevel asks the instrument for the edge trigger level
// @Summary Query trigger level
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=object{level=string}} "Trigger level"
// @Router /sessions/{id}/trigger-level [get]
func (h *SessionHandler) GetTriggerLevel(c *gin.Context) {
	id, ok := paramUUID(c, "id", "session ID")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	level, err := h.scopeService.TriggerLevel(ctx, id)
	if err != nil {
		respondError(c, h.logger, "Failed to query trigger level", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Trigger level retrieved", gin.H{"level": level})
}

// Screenshot returns the display bitmap
// @Summary Capture the display
// @Tags Sessions
// @Produce image/bmp
// @Param id path string true "Session ID"
// @Success 200 {file} binary "BMP image"
// @Failure 404 {object} utils.APIResponse "Session not found"
// @Router /sessions/{id}/screenshot [get]
func (h *SessionHandler) Screenshot(c *gin.Context) {
	id, ok := paramUUID(c, "id", "session ID")
	if !ok {
		return
	}

	shot, err := h.scopeService.Screenshot(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to read screenshot", err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="screenshot-`+id.String()+`.bmp"`)
	c.Data(http.StatusOK, "image/bmp", shot.Data)
}

// GetStats returns transport counters
// @Summary Transport statistics
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} utils.APIResponse{data=protocol.ProtocolStats} "Statistics"
// @Router /sessions/{id}/stats [get]
func (h *SessionHandler) GetStats(c *gin.Context) {
	id, ok := paramUUID(c, "id", "session ID")
	if !ok {
		return
	}

	stats, err := h.scopeService.Stats(id)
	if err != nil {
		respondError(c, h.logger, "Failed to get statistics", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Statistics retrieved", stats)
}

// ListModels lists the supported models
// @Summary Supported models
// @Tags Sessions
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{models=[]string}} "Models"
// @Router /models [get]
func (h *SessionHandler) ListModels(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Supported models", gin.H{
		"models": h.scopeService.SupportedModels(),
	})
}

// CommandRequest carries a raw SCPI command
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}
