// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"scope-service/internal/model"
	"scope-service/internal/service"
	"scope-service/internal/utils"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = 54 * time.Second
	wsWriteWait    = 10 * time.Second
	wsEventBuffer  = 256
	wsCommandLimit = 30 * time.Second
)

// WebSocketHandler streams session events and accepts commands over
// WebSocket connections
type WebSocketHandler struct {
	upgrader     websocket.Upgrader
	connections  *clientSet
	scopeService *service.ScopeService
	bus          *service.EventBus
	logger       *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler. An empty origin list
// or "*" accepts every origin.
func NewWebSocketHandler(
	scopeService *service.ScopeService,
	bus *service.EventBus,
	allowedOrigins []string,
	logger *zap.Logger,
) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}

	return &WebSocketHandler{
		upgrader:     upgrader,
		connections:  newClientSet(),
		scopeService: scopeService,
		bus:          bus,
		logger:       utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Events and commands of one session
	router.GET("/sessions/:id", h.HandleSessionConnection)

	// Events of every session
	router.GET("/events", h.HandleEventConnection)

	router.GET("/stats", h.HandleStats)
}

// HandleSessionConnection handles session WebSocket connections
func (h *WebSocketHandler) HandleSessionConnection(c *gin.Context) {
	sessionID, ok := paramUUID(c, "id", "session ID")
	if !ok {
		return
	}
	if _, err := h.scopeService.GetInstrument(sessionID); err != nil {
		respondError(c, h.logger, "Session not found", err)
		return
	}

	client := h.accept(c, clientSession, &sessionID)
	if client == nil {
		return
	}
	h.logger.Info("Session WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("session_id", sessionID.String()),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendInitialStatus(client, sessionID)
}

// HandleEventConnection handles WebSocket connections following every session
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	client := h.accept(c, clientEvents, nil)
	if client == nil {
		return
	}
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)
}

// accept upgrades the connection, registers the client and starts its
// goroutines
func (h *WebSocketHandler) accept(c *gin.Context, kind string, sessionID *uuid.UUID) *Client {
	frames := true
	if v := c.Query("frames"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			frames = b
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return nil
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, wsEventBuffer),
		Type:        kind,
		SessionID:   sessionID,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
		Frames:      frames,
		done:        make(chan struct{}),
	}

	h.connections.add(client)
	events, cancel := h.bus.SubscribeAll(wsEventBuffer)

	go h.forwardEvents(client, events, cancel)
	go h.handleClientRead(client)
	go h.handleClientWrite(client)
	return client
}

// forwardEvents relays bus events to the client until it goes away
func (h *WebSocketHandler) forwardEvents(client *Client, events <-chan model.SessionEvent, cancel func()) {
	defer cancel()

	for {
		select {
		case <-client.Done():
			return
		case event := <-events:
			if !client.wants(event.SessionID, event.EventType == model.EventFrame) {
				continue
			}
			h.sendMessage(client, &WebSocketMessage{
				Type:      "event",
				Data:      event,
				Timestamp: event.Timestamp,
			})
		}
	}
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.remove(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-client.Done():
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	case "command", "control", "resync", "settings":
		if client.SessionID == nil {
			h.sendError(client, message.Type+" only available on session connections")
			return
		}
		go h.executeSessionRequest(client, *client.SessionID, message)
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

// sessionRequest is the payload of command and control messages
type sessionRequest struct {
	Command string `json:"command"`
	Action  string `json:"action"`
	service.ControlRequest
}

// executeSessionRequest runs a client request against its session
func (h *WebSocketHandler) executeSessionRequest(client *Client, sessionID uuid.UUID, message *WebSocketMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), wsCommandLimit)
	defer cancel()

	var req sessionRequest
	if message.Data != nil {
		raw, err := json.Marshal(message.Data)
		if err == nil {
			err = json.Unmarshal(raw, &req)
		}
		if err != nil {
			h.sendError(client, "invalid request data")
			return
		}
	}

	var result interface{}
	var err error

	switch message.Type {
	case "command":
		var resp string
		resp, err = h.scopeService.SendCommand(ctx, sessionID, req.Command)
		result = map[string]interface{}{"command": req.Command, "response": resp}
	case "control":
		err = h.scopeService.ApplyControl(sessionID, req.Action, &req.ControlRequest)
		result = map[string]interface{}{"action": req.Action}
	case "resync":
		result, err = h.scopeService.Resync(ctx, sessionID)
	case "settings":
		result, err = h.scopeService.Settings(sessionID)
	}

	data := map[string]interface{}{
		"request": message.Type,
		"success": err == nil,
		"result":  result,
	}
	if err != nil {
		data["error"] = err.Error()
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "response",
		Data:      data,
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// sendInitialStatus sends the instrument and its settings to a new client
func (h *WebSocketHandler) sendInitialStatus(client *Client, sessionID uuid.UUID) {
	inst, err := h.scopeService.GetInstrument(sessionID)
	if err != nil {
		h.sendError(client, fmt.Sprintf("failed to get session: %v", err))
		return
	}
	settings, err := h.scopeService.Settings(sessionID)
	if err != nil {
		h.sendError(client, fmt.Sprintf("failed to get settings: %v", err))
		return
	}

	h.sendMessage(client, &WebSocketMessage{
		Type: "initial_status",
		Data: map[string]interface{}{
			"instrument": inst,
			"settings":   settings,
		},
		Timestamp: time.Now(),
	})
}

// sendMessage queues a message for a client; slow clients lose messages
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case client.Send <- messageBytes:
	case <-client.Done():
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: "error",
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
	})
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.stats()
}

// HandleStats lists connected websocket clients
// @Summary WebSocket clients
// @Tags WebSocket
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ConnectionStats}
// @Router /ws/stats [get]
func (h *WebSocketHandler) HandleStats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "WebSocket clients retrieved", h.GetConnectionStats())
}

// Shutdown disconnects every client
func (h *WebSocketHandler) Shutdown() {
	h.connections.closeAll()
}
