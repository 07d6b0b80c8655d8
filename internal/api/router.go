package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/api/handlers"
	"github.com/leozw/monitrix/internal/api/middleware"
	"github.com/leozw/monitrix/internal/config"
)

type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	handler *handlers.Handler
	metrics http.Handler
	logger  *zap.Logger
}

// NewServer builds the gin engine. metrics may be nil to leave /metrics
// unrouted.
func NewServer(cfg *config.Config, handler *handlers.Handler, metrics http.Handler, logger *zap.Logger) *Server {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config:  cfg,
		Router:  router,
		handler: handler,
		metrics: metrics,
		logger:  logger,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	h := s.handler

	s.Router.GET("/health", h.Health)
	s.Router.GET("/ready", h.Ready)
	if s.metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := s.Router.Group("/api/v1")
	api.Use(middleware.AuthRequired(s.Config.Auth.JWTSecret))
	{
		api.GET("/resources", h.ListResources)
		api.POST("/resources", h.CreateResource)
		api.GET("/resources/:id", h.GetResource)
		api.PUT("/resources/:id", h.UpdateResource)
		api.PATCH("/resources/:id/status", h.ChangeStatus)
		api.DELETE("/resources/:id", h.DeleteResource)
		api.DELETE("/resources/:id/permanent", h.PurgeResource)
		api.POST("/resources/:id/check", h.CheckResource)
		api.GET("/resources/:id/incidents", h.ListIncidents)
		api.GET("/resources/:id/resolutions", h.ListResolutions)

		api.GET("/status-counts", h.StatusCounts)
		api.GET("/activity-logs", h.ListActivityLogs)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AdminRequired())
	{
		admin.GET("/blacklist-servers", h.ListBlacklistServers)
		admin.POST("/blacklist-servers", h.CreateBlacklistServer)
		admin.DELETE("/blacklist-servers/:id", h.DeleteBlacklistServer)

		admin.GET("/locations", h.ListLocations)
		admin.POST("/locations", h.CreateLocation)

		admin.GET("/jobs", h.ListJobs)
		admin.POST("/jobs/:kind/run", h.RunJob)
	}
}
