// internal/handler/metric_handler.go
package handler

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scope-service/internal/metric"
	"scope-service/internal/utils"
)

// MetricHandler exposes the engineering notation helpers
type MetricHandler struct {
	logger *utils.ServiceLogger
}

// NewMetricHandler creates a new metric handler
func NewMetricHandler(logger *zap.Logger) *MetricHandler {
	return &MetricHandler{
		logger: utils.NewServiceLogger(logger, "metric-handler"),
	}
}

// RegisterRoutes registers metric routes
func (h *MetricHandler) RegisterRoutes(router *gin.RouterGroup) {
	m := router.Group("/metric")
	{
		m.GET("/format", h.Format)
		m.GET("/parse", h.Parse)
		m.GET("/step", h.Step)
	}
}

// Format renders a value with an engineering suffix
// @Summary Format a value
// @Tags Metric
// @Produce json
// @Param value query number true "Value"
// @Param decimals query int false "Decimals (0-6)" default(3)
// @Success 200 {object} utils.APIResponse{data=object{value=number,text=string}} "Formatted"
// @Failure 400 {object} utils.APIResponse "Invalid value"
// @Router /metric/format [get]
func (h *MetricHandler) Format(c *gin.Context) {
	value, ok := queryFloat(c, "value")
	if !ok {
		return
	}

	decimals := 3
	if d := c.Query("decimals"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			utils.ValidationErrorResponse(c, map[string]string{"decimals": "must be an integer"})
			return
		}
		decimals = n
	}

	utils.SuccessResponse(c, http.StatusOK, "Value formatted", gin.H{
		"value": value,
		"text":  metric.ToMetricSuffix(value, decimals),
	})
}

// Parse reads a number with an optional engineering suffix
// @Summary Parse a value
// @Tags Metric
// @Produce json
// @Param text query string true "Text such as 2.5m or 10K"
// @Success 200 {object} utils.APIResponse{data=object{text=string,value=number}} "Parsed"
// @Failure 400 {object} utils.APIResponse "Invalid text"
// @Router /metric/parse [get]
func (h *MetricHandler) Parse(c *gin.Context) {
	text := c.Query("text")
	if text == "" {
		utils.ValidationErrorResponse(c, map[string]string{"text": "is required"})
		return
	}

	value, err := metric.ParseMetric(text)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid metric value", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Value parsed", gin.H{
		"text":  text,
		"value": value,
	})
}

// Step returns the neighbouring value of the 1-2-5 sequence
// @Summary Step a 1-2-5 value
// @Tags Metric
// @Produce json
// @Param value query number true "Current value, positive"
// @Param direction query string false "Step direction" Enums(up, down) default(up)
// @Success 200 {object} utils.APIResponse{data=object{value=number,result=number,ratio=number,category=int}} "Stepped"
// @Failure 400 {object} utils.APIResponse "Invalid value"
// @Router /metric/step [get]
func (h *MetricHandler) Step(c *gin.Context) {
	value, ok := queryFloat(c, "value")
	if !ok {
		return
	}
	if value <= 0 {
		utils.ValidationErrorResponse(c, map[string]string{"value": "must be positive"})
		return
	}

	var result, ratio float64
	switch direction := c.DefaultQuery("direction", "up"); direction {
	case "up":
		result, ratio = metric.RoundUpStep125Ratio(value)
	case "down":
		result, ratio = metric.RoundDownStep125Ratio(value)
	default:
		utils.ValidationErrorResponse(c, map[string]string{"direction": fmt.Sprintf("unknown direction %q", direction)})
		return
	}
	if !finite(result) {
		utils.ValidationErrorResponse(c, map[string]string{"value": "out of range"})
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Value stepped", gin.H{
		"value":    value,
		"result":   result,
		"ratio":    ratio,
		"category": metric.Round125Category(result),
	})
}

func queryFloat(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		utils.ValidationErrorResponse(c, map[string]string{name: "is required"})
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !finite(v) {
		utils.ValidationErrorResponse(c, map[string]string{name: "must be a finite number"})
		return 0, false
	}
	return v, true
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}
