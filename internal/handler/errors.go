// internal/handler/errors.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"scope-service/internal/repository"
	"scope-service/internal/scope"
	"scope-service/internal/scpi"
	"scope-service/internal/service"
	"scope-service/internal/utils"
)

// errorStatus maps service and instrument errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrCaptureNoData):
		return http.StatusNotFound

	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrUnknownControl),
		errors.Is(err, scope.ErrInvalidValue),
		errors.Is(err, scope.ErrInvalidChannel),
		errors.Is(err, scope.ErrScaleLimit),
		errors.Is(err, scope.ErrTriggerSourceNotChannel):
		return http.StatusBadRequest

	case errors.Is(err, scope.ErrNotConfirmed),
		errors.Is(err, scope.ErrSessionClosed),
		errors.Is(err, service.ErrCaptureInProgress),
		errors.Is(err, service.ErrCaptureNotRunning):
		return http.StatusConflict

	case errors.Is(err, scope.ErrCueFull):
		return http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, scpi.ErrTransport):
		return http.StatusBadGateway

	case errors.Is(err, scpi.ErrProtocol),
		errors.Is(err, scpi.ErrUnknownIdentity),
		errors.Is(err, scope.ErrAutoMemoryDepth),
		errors.Is(err, scope.ErrNoActiveChannels),
		errors.Is(err, scope.ErrDownloadStalled):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// respondError logs server side failures and writes the error envelope
func respondError(c *gin.Context, logger *utils.ServiceLogger, message string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(message, zap.Error(err), zap.String("path", c.Request.URL.Path))
	}
	utils.ErrorResponse(c, status, message, err)
}

// paramUUID parses a path parameter; on failure the response is written
func paramUUID(c *gin.Context, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid "+label, err)
		return uuid.Nil, false
	}
	return id, true
}
