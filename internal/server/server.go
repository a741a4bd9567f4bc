package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Addr    string // Server bind address (e.g., ":8090")
	DevMode bool   // Include error details in responses
	APIKey  string // Optional X-API-Key value

	ReadTimeout     time.Duration // default 15s
	WriteTimeout    time.Duration // default 75s, covers the AI route
	ShutdownTimeout time.Duration // default 10s
}

// ServerDeps contains dependencies required to create a new Server
type ServerDeps struct {
	Handlers *Handlers
	Config   ServerConfig
}

// Server is the swap API: echo router plus the websocket hub it owns.
type Server struct {
	e      *echo.Echo
	cfg    ServerConfig
	hub    *Hub
	logger *logrus.Logger
	closed chan struct{}
}

// NewServer validates the handler wiring and registers every route.
func NewServer(deps ServerDeps) (*Server, error) {
	h := deps.Handlers
	if h == nil {
		return nil, fmt.Errorf("server: handlers are required")
	}
	if h.Prices == nil || h.Catalog == nil || h.Book == nil || h.Engine == nil {
		return nil, fmt.Errorf("server: prices, catalog, book and engine are required")
	}
	if h.Logger == nil {
		h.Logger = logrus.New()
	}

	cfg := deps.Config
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 75 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Server.IdleTimeout = 60 * time.Second

	e.Use(middleware.Recover())
	e.Use(requestLogger(h.Logger))

	RegisterRoutes(e, h, cfg)

	return &Server{e: e, cfg: cfg, hub: h.Hub, logger: h.Logger, closed: make(chan struct{})}, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start() error {
	s.logger.WithField("addr", s.cfg.Addr).Info("http server listening")
	return s.e.Start(s.cfg.Addr)
}

// Shutdown drains in-flight requests. Websocket subscribers are hijacked
// connections, so the hub closes them itself.
func (s *Server) Shutdown(ctx context.Context) error {
	defer close(s.closed)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	return s.e.Shutdown(ctx)
}

// WaitClosed blocks until Shutdown has finished or ctx is done.
func (s *Server) WaitClosed(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return nil
	}
}

// requestLogger logs one line per request through logrus.
func requestLogger(logger *logrus.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			})
			switch {
			case v.Error != nil:
				entry.WithError(v.Error).Warn("request")
			case v.Status >= http.StatusInternalServerError:
				entry.Warn("request")
			default:
				entry.Debug("request")
			}
			return nil
		},
	})
}

// SetNoCacheHeaders keeps prices and order state out of intermediary caches.
func SetNoCacheHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("Cache-Control", "no-store")
		return next(c)
	}
}

// SetJSONContentType defaults every response to JSON.
func SetJSONContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		return next(c)
	}
}
