package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/nzbwatch/nzbwatch/internal/api/handlers"
	"github.com/nzbwatch/nzbwatch/internal/api/middleware"
	"github.com/nzbwatch/nzbwatch/internal/api/ratelimit"
	"github.com/nzbwatch/nzbwatch/internal/config"
	"github.com/nzbwatch/nzbwatch/internal/downloader"
	"github.com/nzbwatch/nzbwatch/internal/events"
	"github.com/nzbwatch/nzbwatch/internal/health"
	"github.com/nzbwatch/nzbwatch/internal/notification"
	"github.com/nzbwatch/nzbwatch/internal/scheduler"
	"github.com/nzbwatch/nzbwatch/internal/scheduler/tasks"
)

// Poller is the coordinator surface exposed over HTTP.
type Poller interface {
	Refresh(ctx context.Context) (*downloader.CycleResult, error)
	Data() *downloader.CycleResult
	State() downloader.State
}

// BackoffReporter exposes the retry state of the scheduled refresh.
type BackoffReporter interface {
	State() tasks.BackoffState
}

// WebSocketHandler upgrades a request to a push connection.
type WebSocketHandler interface {
	HandleWebSocket(c echo.Context) error
}

// Dependencies are the services the server exposes. Only Poller is required;
// routes for a nil dependency are not registered.
type Dependencies struct {
	Poller        Poller
	Backoff       BackoffReporter
	Bus           *events.Bus
	Hub           WebSocketHandler
	Health        *health.Service
	ClientID      string
	ClientTester  health.ClientTester
	Scheduler     *scheduler.Scheduler
	Notifications *notification.Service
	Logs          LogsProvider
	Metrics       http.Handler
}

// Server handles HTTP requests for the nzbwatch API.
type Server struct {
	echo      *echo.Echo
	deps      Dependencies
	cfg       *config.Config
	logger    zerolog.Logger
	limiter   *ratelimit.Limiter
	startTime time.Time
}

// NewServer creates a new API server instance.
func NewServer(deps Dependencies, cfg *config.Config, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		deps:      deps,
		cfg:       cfg,
		logger:    logger.With().Str("component", "api").Logger(),
		limiter:   ratelimit.NewLimiter(cfg.Server.RefreshRate, cfg.Server.RefreshBurst),
		startTime: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	s.echo.Use(middleware.RequestLogger(s.logger, "/health", s.metricsPath()))
	s.echo.Use(middleware.SecurityHeaders())
	s.echo.Use(echomw.GzipWithConfig(echomw.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	if s.deps.Metrics != nil && s.cfg.Metrics.Enabled {
		s.echo.GET(s.metricsPath(), echo.WrapHandler(s.deps.Metrics))
	}
	if s.deps.Hub != nil {
		s.echo.GET("/ws", s.deps.Hub.HandleWebSocket)
	}

	api := s.echo.Group("/api/v1")

	api.GET("/status", s.getStatus)
	api.GET("/downloads", s.getDownloads)
	api.POST("/refresh", s.refresh, s.limiter.Middleware())

	if s.deps.Bus != nil {
		api.GET("/events", s.getEvents)
	}

	if s.deps.Health != nil {
		healthHandlers := health.NewHandlers(s.deps.Health, s.deps.ClientID, s.deps.ClientTester)
		healthHandlers.RegisterRoutes(api.Group("/health"))
	}

	if s.deps.Scheduler != nil {
		schedulerHandler := handlers.NewSchedulerHandler(s.deps.Scheduler)
		schedulerHandler.RegisterRoutes(api.Group("/scheduler"))
	}

	if s.deps.Notifications != nil {
		notifications := api.Group("/notifications")
		notifications.GET("", s.getNotifications)
		notifications.POST("/test", s.testNotifications)
	}

	if s.deps.Logs != nil {
		NewLogsHandlers(s.deps.Logs).RegisterRoutes(api.Group("/system/logs"))
	}
}

func (s *Server) metricsPath() string {
	if s.cfg.Metrics.Path == "" {
		return "/metrics"
	}
	return s.cfg.Metrics.Path
}

// Start begins listening for HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	s.limiter.StartCleanup(time.Minute)
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	s.limiter.StopCleanup()
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
