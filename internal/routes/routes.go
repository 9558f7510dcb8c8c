// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/database"
	"scope-service/internal/handler"
	"scope-service/internal/middleware"
	"scope-service/internal/service"
	"scope-service/internal/utils"
)

// OpenAPIPath is where the API document is served
const OpenAPIPath = "/api/openapi.yaml"

// Router holds all dependencies for routing
type Router struct {
	config           *config.Config
	logger           *zap.Logger
	db               *database.DB
	scopeService     *service.ScopeService
	captureService   *service.CaptureService
	discoveryService *service.DiscoveryService
	bus              *service.EventBus

	wsHandler *handler.WebSocketHandler
}

// NewRouter creates a new router instance. db may be nil.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	scopeService *service.ScopeService,
	captureService *service.CaptureService,
	discoveryService *service.DiscoveryService,
	bus *service.EventBus,
) *Router {
	return &Router{
		config:           config,
		logger:           logger,
		db:               db,
		scopeService:     scopeService,
		captureService:   captureService,
		discoveryService: discoveryService,
		bus:              bus,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	gin.SetMode(ginMode(r.config))

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// ginMode picks debug output only for development or app.debug
func ginMode(cfg *config.Config) string {
	switch {
	case cfg.App.Environment == "test":
		return gin.TestMode
	case cfg.IsDebugEnabled():
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

// WebSocket returns the WebSocket handler, available after SetupRouter
func (r *Router) WebSocket() *handler.WebSocketHandler {
	return r.wsHandler
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(r.logger))

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured",
		zap.Bool("rate_limit", r.config.Security.RateLimitEnabled),
	)
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.scopeService, r.config, r.logger)
	if r.db != nil {
		healthHandler.WithMigrations(database.NewMigrator(r.config.GetDatabaseDSN(), r.logger, &r.config.Database))
	}
	sessionHandler := handler.NewSessionHandler(r.scopeService, r.logger)
	captureHandler := handler.NewCaptureHandler(r.captureService, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.discoveryService, r.logger)
	metricHandler := handler.NewMetricHandler(r.logger)
	r.wsHandler = handler.NewWebSocketHandler(r.scopeService, r.bus, r.config.Security.AllowedOrigins, r.logger)

	// Health checks are not rate limited
	healthHandler.RegisterRoutes(router.Group(""))

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.RateLimitMiddleware(&r.config.Security, r.logger))
	sessionHandler.RegisterRoutes(apiV1)
	captureHandler.RegisterRoutes(apiV1)
	discoveryHandler.RegisterRoutes(apiV1)
	metricHandler.RegisterRoutes(apiV1)

	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.StaticFile(OpenAPIPath, "./api/openapi.yaml")
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler, ginSwagger.URL(OpenAPIPath)))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
