// Package httpapi provides a read-only REST introspection surface over
// a running hub.Server: health, channel listing, stats, and link
// edges. It runs on its own TCP port, separate from the chat listener.
package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"dechat/internal/metricsexp"
	"dechat/internal/store"
)

// Server exposes hub.Server state over HTTP.
type Server struct {
	hub   Hub
	store *store.Store
	echo  *echo.Echo
}

// Hub is the subset of hub.Server this package depends on; declared
// here (rather than importing internal/hub directly) so the REST layer
// can be unit tested against a fake.
type Hub interface {
	Stats() (channels, users int, uptime time.Duration)
	ChannelNames() []string
	Hostname() string
	Port() int
}

// New constructs a Server and registers all routes.
func New(hub Hub, st *store.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[httpapi] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{hub: hub, store: st, echo: e}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/channels", s.handleChannels)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/links/:channel", s.handleLinks)
	s.echo.GET("/audit", s.handleAudit)
	s.echo.GET("/metrics", s.handleMetrics)
}

func (s *Server) handleMetrics(c echo.Context) error {
	metricsexp.Default().WritePrometheus(c.Response())
	return nil
}

// Run starts the Echo HTTP server on addr and blocks until ctx is
// canceled.
func (s *Server) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("[httpapi] server error: %v", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		log.Printf("[httpapi] shutdown: %v", err)
	}
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// StatsResponse is the payload for GET /stats.
type StatsResponse struct {
	Hostname   string `json:"hostname"`
	Port       int    `json:"port"`
	Channels   int    `json:"channels"`
	Users      int    `json:"users"`
	UptimeSecs int64  `json:"uptime_seconds"`
}

func (s *Server) handleStats(c echo.Context) error {
	channels, users, uptime := s.hub.Stats()
	return c.JSON(http.StatusOK, StatsResponse{
		Hostname:   s.hub.Hostname(),
		Port:       s.hub.Port(),
		Channels:   channels,
		Users:      users,
		UptimeSecs: int64(uptime.Seconds()),
	})
}

// ChannelsResponse is the payload for GET /channels.
type ChannelsResponse struct {
	Channels []string `json:"channels"`
}

func (s *Server) handleChannels(c echo.Context) error {
	return c.JSON(http.StatusOK, ChannelsResponse{Channels: s.hub.ChannelNames()})
}

func (s *Server) handleLinks(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no persistent store configured")
	}
	edges, err := s.store.LinkEdgesForChannel(c.Request().Context(), c.Param("channel"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, edges)
}

func (s *Server) handleAudit(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no persistent store configured")
	}
	entries, err := s.store.RecentAudit(c.Request().Context(), 200)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}

// jsonErrorHandler ensures all error responses have a consistent JSON
// body ({"error": "message"}), replacing Echo's default handler which
// varies between text and JSON.
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
		} else {
			_ = c.JSON(code, map[string]string{"error": msg})
		}
	}
}
