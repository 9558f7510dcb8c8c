// internal/middleware/logging_middleware.go
package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"scope-service/internal/utils"
)

// LoggingMiddleware logs every API request. Health probes are skipped.
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if path == "/live" || path == "/ready" || strings.HasPrefix(path, "/swagger/") {
			return
		}

		logger.LogAPIRequest(
			c.Request.Method,
			path,
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(startTime),
		)
	}
}
