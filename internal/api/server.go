//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mchestr/plex-wrapped-sub007/internal/api/handlers"
	"github.com/mchestr/plex-wrapped-sub007/internal/api/middleware"
	"github.com/mchestr/plex-wrapped-sub007/internal/candidates"
	"github.com/mchestr/plex-wrapped-sub007/internal/config"
	"github.com/mchestr/plex-wrapped-sub007/internal/defaults"
	"github.com/mchestr/plex-wrapped-sub007/internal/deletion"
	"github.com/mchestr/plex-wrapped-sub007/internal/plex"
	"github.com/mchestr/plex-wrapped-sub007/internal/progress"
	"github.com/mchestr/plex-wrapped-sub007/internal/rules"
	"github.com/mchestr/plex-wrapped-sub007/internal/scan"
	"github.com/mchestr/plex-wrapped-sub007/internal/scheduler"
	"github.com/mchestr/plex-wrapped-sub007/internal/websocket"
)

// Version is set at build time via ldflags.
var Version = "0.1.0-dev"

// Server handles HTTP requests for the retention API.
type Server struct {
	echo   *echo.Echo
	db     *sql.DB
	hub    *websocket.Hub
	logger zerolog.Logger
	cfg    *config.Config

	// Services
	plexClient       *plex.Client
	ruleService      *rules.Service
	candidateService *candidates.Service
	scanService      *scan.Service
	executor         *deletion.Executor
	defaultsService  *defaults.Service
	progressManager  *progress.Manager
	sched            *scheduler.Scheduler
	logs             LogsProvider
}

// NewServer creates a new API server instance and wires the services
// behind it.
func NewServer(db *sql.DB, hub *websocket.Hub, cfg *config.Config, sched *scheduler.Scheduler, logs LogsProvider, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:           e,
		db:             db,
		hub:            hub,
		logger:         log,
		cfg:            cfg,
		sched:          sched,
		logs:           logs,
	}

	s.plexClient = plex.NewClient(cfg.Plex.URL, cfg.Plex.Token, nil, log, Version)
	s.ruleService = rules.NewService(db, log)
	s.candidateService = candidates.NewService(db, log)
	s.executor = deletion.NewExecutor(db, s.candidateService, s.plexClient, cfg.Plex.ServerName, log)
	s.defaultsService = defaults.NewService(db, s.ruleService, log)

	s.progressManager = progress.NewManager(hub, log)

	s.scanService = scan.NewService(db, s.ruleService, s.candidateService, plexInventory{client: s.plexClient}, s.executor, log)
	s.scanService.SetProgressManager(s.progressManager)

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(echomw.BodyLimit("2M"))
	s.echo.Use(middleware.SecurityHeaders())
	s.echo.Use(middleware.SameOriginCORS())

	// Request logging
	s.echo.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Info().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	// Gzip compression
	s.echo.Use(echomw.GzipWithConfig(echomw.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			// Skip compression for WebSocket
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", s.healthCheck)

	// API v1 group
	api := s.echo.Group("/api/v1")

	api.GET("/status", s.getStatus)

	ruleHandlers := rules.NewHandlers(s.ruleService)
	ruleHandlers.RegisterRoutes(api.Group("/rules"))

	scanHandlers := scan.NewHandlers(s.scanService)
	scanHandlers.RegisterRoutes(api.Group("/scans"))

	candidateHandlers := candidates.NewHandlers(s.candidateService)
	candidateHandlers.RegisterRoutes(api.Group("/candidates"))

	deletionHandlers := deletion.NewHandlers(s.executor)
	deletionHandlers.RegisterRoutes(api.Group("/deletions"))

	if s.sched != nil {
		schedulerHandler := handlers.NewSchedulerHandler(s.sched)
		schedGroup := api.Group("/scheduler")
		schedGroup.GET("/tasks", schedulerHandler.ListTasks)
		schedGroup.GET("/tasks/:id", schedulerHandler.GetTask)
		schedGroup.POST("/tasks/:id/run", schedulerHandler.RunTask)
	}

	if s.logs != nil {
		logsHandlers := NewLogsHandlers(s.logs)
		logsHandlers.RegisterRoutes(api.Group("/logs"))
	}

	// WebSocket endpoint for live scan and deletion progress
	s.echo.GET("/ws", s.hub.HandleWebSocket)
}

// Start begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// EnsureDefaults seeds the starter rules on first run.
func (s *Server) EnsureDefaults(ctx context.Context) error {
	return s.defaultsService.Seed(ctx)
}

// RuleService exposes the rule service for scheduled task wiring.
func (s *Server) RuleService() *rules.Service {
	return s.ruleService
}

// ScanService exposes the scan service for scheduled task wiring.
func (s *Server) ScanService() *scan.Service {
	return s.scanService
}

// --- Handler implementations ---

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(c echo.Context) error {
	ctx := c.Request().Context()

	var ruleCount, pendingCount int64
	_ = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rules").Scan(&ruleCount)
	_ = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM candidates WHERE review_status = 'pending'").Scan(&pendingCount)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"version":           Version,
		"ruleCount":         ruleCount,
		"pendingCandidates": pendingCount,
		"wsClients":         s.hub.ClientCount(),
	})
}
