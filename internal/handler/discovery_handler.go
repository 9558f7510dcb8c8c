// internal/handler/discovery_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scope-service/internal/service"
	"scope-service/internal/utils"
)

// DiscoveryHandler handles instrument discovery requests
type DiscoveryHandler struct {
	discoveryService *service.DiscoveryService
	logger           *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(discoveryService *service.DiscoveryService, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		discoveryService: discoveryService,
		logger:           utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	discovery := router.Group("/discovery")
	{
		discovery.GET("/scan", h.ScanDevices)
		discovery.GET("/scanners", h.GetScanners)
	}
}

// ScanDevices scans for instruments
// @Summary Scan for instruments
// @Description Probe usbtmc devices, USB buses, serial ports and configured network hosts
// @Tags Discovery
// @Produce json
// @Param type query string false "Scan type" Enums(all, usbtmc, usb, serial, tcp) default(all)
// @Param timeout query string false "Scan timeout" default(30s)
// @Success 200 {object} utils.APIResponse{data=object{devices_found=int,devices=[]discovery.DiscoveredDevice}} "Device scan completed"
// @Failure 400 {object} utils.APIResponse "Invalid scan type"
// @Failure 500 {object} utils.APIResponse "Scan failed"
// @Router /discovery/scan [get]
func (h *DiscoveryHandler) ScanDevices(c *gin.Context) {
	req := &service.ScanRequest{
		ScanType: c.DefaultQuery("type", "all"),
		Timeout:  c.DefaultQuery("timeout", "30s"),
	}

	devices, err := h.discoveryService.ScanDevices(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "Failed to scan devices", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device scan completed", gin.H{
		"devices_found": len(devices),
		"devices":       devices,
	})
}

// GetScanners lists the scanners usable on this host
// @Summary Available scanners
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{scanners=[]string}} "Scanners"
// @Router /discovery/scanners [get]
func (h *DiscoveryHandler) GetScanners(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Scanners retrieved", gin.H{
		"scanners": h.discoveryService.AvailableScanners(),
	})
}
