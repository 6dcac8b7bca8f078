// Package api serves the worker over HTTP: a control API under /_sw/ for
// lifecycle, push, click and sync events, the client websocket, the
// notification stream, Prometheus metrics, and a catch-all route that
// hands every other request to the fetch router.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/diitku/diitku-offline/internal/clients"
	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/notification"
	"github.com/diitku/diitku-offline/internal/observability/hoststats"
	"github.com/diitku/diitku-offline/internal/telemetry"
	"github.com/diitku/diitku-offline/internal/worker"
)

// ControlPrefix is reserved for the control API and never reaches the
// fetch router.
const ControlPrefix = "/_sw"

// maxPushBody bounds a push message body.
const maxPushBody = "64K"

// Config wires a Server.
type Config struct {
	Worker  *worker.Worker
	Clients *clients.Registry
	// Notifications defaults to the process notification service.
	Notifications *notification.Service
	SyncRetry     conf.RetrySettings
	// ControlRateLimit is requests per second per client IP on control
	// routes. Zero disables limiting.
	ControlRateLimit float64
	Gatherer         prometheus.Gatherer
	Reporter         *telemetry.Reporter
	// HostStats defaults to hoststats.Collect.
	HostStats func(ctx context.Context) (*hoststats.Stats, error)
	Log       logger.Logger
}

// Server is the worker's HTTP front.
type Server struct {
	echo          *echo.Echo
	worker        *worker.Worker
	clients       *clients.Registry
	notifications *notification.Service
	syncRetry     conf.RetrySettings
	reporter      *telemetry.Reporter
	hostStats     func(ctx context.Context) (*hoststats.Stats, error)
	log           logger.Logger
}

// New builds the echo instance and registers every route.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logger.Global()
	}
	hostStats := cfg.HostStats
	if hostStats == nil {
		hostStats = hoststats.Collect
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:          e,
		worker:        cfg.Worker,
		clients:       cfg.Clients,
		notifications: cfg.Notifications,
		syncRetry:     cfg.SyncRetry,
		reporter:      cfg.Reporter,
		hostStats:     hostStats,
		log:           log.Module("api"),
	}
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())

	control := e.Group(ControlPrefix)
	if cfg.ControlRateLimit > 0 {
		control.Use(controlRateLimiter(cfg.ControlRateLimit))
	}
	s.registerControlRoutes(control)

	if cfg.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	e.Any("/*", s.fetch)
	return s
}

func controlRateLimiter(limit float64) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(limit),
				Burst:     max(int(limit), 1),
				ExpiresIn: 3 * time.Minute,
			},
		),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "too many control requests, slow down"})
		},
	})
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("listening", logger.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("addr", addr).
			Build()
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// fetch hands a request to the worker's fetch handling. Any failure,
// including a malformed share submission, is a 500.
func (s *Server) fetch(c echo.Context) error {
	if err := s.worker.ServeFetch(c.Response(), c.Request()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "request handling failed").SetInternal(err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleError maps worker errors to status codes. Server errors are
// reported to telemetry.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		s.log.Debug("error after response was committed",
			logger.String("path", c.Request().URL.Path),
			logger.Error(err))
		return
	}

	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.String("method", c.Request().Method),
			logger.String("path", c.Request().URL.Path),
			logger.Error(err))
		s.reporter.CaptureError(err, map[string]string{"path": c.Path()})
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorResponse{Error: msg})
	}
	if err != nil {
		s.log.Warn("failed to write error response", logger.Error(err))
	}
}

func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			return he.Code, m
		}
		return he.Code, http.StatusText(he.Code)
	}
	switch {
	case errors.Is(err, worker.ErrNotActive), errors.Is(err, worker.ErrInvalidState):
		return http.StatusConflict, err.Error()
	case errors.Is(err, worker.ErrUnsupportedEvent):
		return http.StatusNotImplemented, err.Error()
	case errors.Is(err, clients.ErrClientNotFound):
		return http.StatusNotFound, err.Error()
	}
	if errors.CategoryOf(err) == errors.CategoryValidation {
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}
