// internal/routes/routes_test.go
package routes

import (
	"testing"

	"github.com/gin-gonic/gin"

	"scope-service/internal/config"
)

func TestGinMode(t *testing.T) {
	tests := []struct {
		environment string
		debug       bool
		want        string
	}{
		{"development", false, gin.DebugMode},
		{"staging", false, gin.ReleaseMode},
		{"staging", true, gin.DebugMode},
		{"production", false, gin.ReleaseMode},
		{"production", true, gin.DebugMode},
		{"test", true, gin.TestMode},
	}

	for _, tt := range tests {
		cfg := &config.Config{App: config.AppConfig{Environment: tt.environment, Debug: tt.debug}}
		if got := ginMode(cfg); got != tt.want {
			t.Errorf("%s debug=%v: mode = %q, want %q", tt.environment, tt.debug, got, tt.want)
		}
	}
}
