package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deploywatch/deploywatch/internal/config"
)

// Server wraps the HTTP server and its route table.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer builds the router and binds it to the configured address.
func NewServer(cfg config.ServerConfig, handlers *Handlers) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", handlers.Health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/forensics/analyze", handlers.AnalyzeIncident)
		v1.POST("/tracking/start", handlers.StartTracking)
		v1.POST("/tracking/stop", handlers.StopTracking)
		v1.GET("/deployments", handlers.ListDeployments)
		v1.GET("/deployments/:id", handlers.GetDeployment)
		v1.GET("/incidents", handlers.ListIncidents)
		v1.GET("/patterns", handlers.GetPatterns)
		v1.GET("/events", handlers.Events)
	}

	return &Server{
		cfg:    cfg,
		router: router,
		httpServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the route table (useful for tests).
func (s *Server) Router() http.Handler {
	return s.router
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout.Std()
}
