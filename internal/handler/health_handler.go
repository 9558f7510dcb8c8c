// internal/handler/health_handler.go
package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/database"
	"scope-service/internal/service"
	"scope-service/internal/utils"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
	statusDisabled  = "disabled"
)

// MigrationVersioner reports the applied schema migration
type MigrationVersioner interface {
	Version() (version uint, dirty bool, err error)
}

// HealthHandler reports the state of the database and the open
// instrument sessions. db is nil when capture records live in memory.
type HealthHandler struct {
	db         *database.DB
	migrations MigrationVersioner
	scopes     *service.ScopeService
	config     *config.Config
	logger     *utils.ServiceLogger
	startedAt  time.Time
}

func NewHealthHandler(db *database.DB, scopes *service.ScopeService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		scopes:    scopes,
		config:    config,
		logger:    utils.NewServiceLogger(logger, "health-handler"),
		startedAt: time.Now(),
	}
}

// WithMigrations adds the schema migration state to the health reports
func (h *HealthHandler) WithMigrations(m MigrationVersioner) *HealthHandler {
	h.migrations = m
	return h
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/health/db", h.DatabaseHealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Database connectivity and the link state of every instrument session. A dropped instrument link reports degraded.
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy or degraded"
// @Failure 503 {object} HealthResponse "Database unreachable"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks: map[string]CheckResult{
			"database": h.checkDatabase(c),
			"sessions": h.checkSessions(),
		},
	}
	if h.migrations != nil {
		health.Checks["migrations"] = h.checkMigrations()
	}

	for _, check := range health.Checks {
		switch check.Status {
		case statusUnhealthy:
			health.Status = statusUnhealthy
		case statusDegraded:
			if health.Status == statusHealthy {
				health.Status = statusDegraded
			}
		}
	}

	statusCode := http.StatusOK
	if health.Status == statusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, health)
}

func (h *HealthHandler) checkDatabase(c *gin.Context) CheckResult {
	if h.db == nil {
		return CheckResult{Status: statusDisabled, Message: "Capture records kept in memory"}
	}
	if err := h.db.Health(c.Request.Context()); err != nil {
		return CheckResult{Status: statusUnhealthy, Message: err.Error()}
	}
	stats := h.db.Stats()
	return CheckResult{
		Status: statusHealthy,
		Data: map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
		},
	}
}

// checkMigrations fails on a dirty schema, left by a migration that
// stopped halfway
func (h *HealthHandler) checkMigrations() CheckResult {
	version, dirty, err := h.migrations.Version()
	switch {
	case err != nil:
		return CheckResult{Status: statusUnhealthy, Message: err.Error()}
	case dirty:
		return CheckResult{
			Status:  statusUnhealthy,
			Message: fmt.Sprintf("migration %d is dirty", version),
			Data:    map[string]interface{}{"version": version, "dirty": true},
		}
	}
	return CheckResult{
		Status: statusHealthy,
		Data:   map[string]interface{}{"version": version, "dirty": false},
	}
}

// checkSessions lists each instrument with its link counters. Sessions
// whose transport has dropped make the check degraded, not unhealthy:
// the service itself still answers.
func (h *HealthHandler) checkSessions() CheckResult {
	result := CheckResult{Status: statusHealthy}
	instruments := h.scopes.ListInstruments()

	sessions := make([]map[string]interface{}, 0, len(instruments))
	for _, inst := range instruments {
		entry := map[string]interface{}{
			"session_id": inst.SessionID,
			"model":      inst.Model,
			"state":      inst.State,
		}
		if stats, err := h.scopes.Stats(inst.SessionID); err == nil {
			entry["errors"] = stats.ErrorCount
			entry["last_activity"] = stats.LastActivity
			if !stats.IsConnected {
				result.Status = statusDegraded
			}
		}
		if !inst.IsConnected() {
			result.Status = statusDegraded
		}
		sessions = append(sessions, entry)
	}

	result.Data = map[string]interface{}{
		"connected": len(instruments),
		"sessions":  sessions,
	}
	return result
}

// DatabaseHealthCheck checks database connectivity
// @Summary Database health check
// @Tags Health
// @Produce json
// @Success 200 {object} utils.APIResponse "Database is healthy"
// @Failure 404 {object} utils.APIResponse "Database disabled"
// @Failure 503 {object} utils.APIResponse "Database is unhealthy"
// @Router /health/db [get]
func (h *HealthHandler) DatabaseHealthCheck(c *gin.Context) {
	if h.db == nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Database disabled", nil)
		return
	}

	started := time.Now()
	if err := h.db.Health(c.Request.Context()); err != nil {
		h.logger.Error("Database health check failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Database unhealthy", err)
		return
	}

	stats := h.db.Stats()
	data := gin.H{
		"response_time_ms": time.Since(started).Milliseconds(),
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration":    stats.WaitDuration.String(),
	}
	if h.migrations != nil {
		data["migrations"] = h.checkMigrations()
	}
	utils.SuccessResponse(c, http.StatusOK, "Database is healthy", data)
}

// ReadinessCheck fails while a configured database is unreachable or its schema is dirty
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.db != nil && h.db.Health(c.Request.Context()) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": "database not available"})
		return
	}
	if h.migrations != nil {
		if check := h.checkMigrations(); check.Status != statusHealthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": check.Message})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// LivenessCheck always answers while the process serves HTTP
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
