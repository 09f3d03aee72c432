package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/database"
	"github.com/tarsyhq/tarsy-pipeline/pkg/events"
	"github.com/tarsyhq/tarsy-pipeline/pkg/mcp"
	"github.com/tarsyhq/tarsy-pipeline/pkg/queue"
	"github.com/tarsyhq/tarsy-pipeline/pkg/services"
	"github.com/tarsyhq/tarsy-pipeline/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg             *config.Config
	dbClient        *database.Client
	alertService    *services.AlertService
	sessionService  *services.SessionService
	timelineService *services.TimelineService
	workerPool      *queue.WorkerPool
	healthMonitor   *mcp.HealthMonitor  // nil if MCP health monitoring disabled
	progressHub     *events.ProgressHub // nil disables the progress stream
}

// NewServer creates a new API server with Echo v5.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	alertService *services.AlertService,
	sessionService *services.SessionService,
	timelineService *services.TimelineService,
	workerPool *queue.WorkerPool,
) *Server {
	s := &Server{
		echo:            echo.New(),
		cfg:             cfg,
		dbClient:        dbClient,
		alertService:    alertService,
		sessionService:  sessionService,
		timelineService: timelineService,
		workerPool:      workerPool,
	}
	s.setupRoutes()
	return s
}

// SetHealthMonitor sets the MCP health monitor for the health endpoint.
func (s *Server) SetHealthMonitor(monitor *mcp.HealthMonitor) {
	s.healthMonitor = monitor
}

// SetProgressHub enables the per-session progress stream endpoint.
func (s *Server) SetProgressHub(hub *events.ProgressHub) {
	s.progressHub = hub
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	// Server-wide body size limit — rejects multi-MB payloads at the HTTP
	// read level before deserialization.
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.corsOrigins(),
	}))

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/alerts", s.submitAlertHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.POST("/sessions/:id/cancel", s.cancelSessionHandler)
	v1.GET("/sessions/:id/progress", s.sessionProgressHandler)
}

func (s *Server) corsOrigins() []string {
	if s.cfg != nil && s.cfg.Defaults != nil && len(s.cfg.Defaults.CORSOrigins) > 0 {
		return s.cfg.Defaults.CORSOrigins
	}
	return []string{"*"}
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by tests to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health: audit-store connectivity, registry
// load state, worker pool, and MCP server health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status:        "healthy",
		Version:       version.Full(),
		Configuration: statsFromConfig(s.cfg),
	}

	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	response.Database = dbHealth
	if err != nil {
		response.Status = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, response)
	}

	if s.workerPool != nil {
		health := s.workerPool.Health()
		response.WorkerPool = &health
	}

	if s.healthMonitor != nil {
		response.MCPHealth = s.healthMonitor.GetStatuses()
		if !s.healthMonitor.IsHealthy() {
			response.Status = "degraded"
		}
	}

	return c.JSON(http.StatusOK, response)
}
