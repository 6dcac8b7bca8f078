package api

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/diitku/diitku-offline/internal/backgroundsync"
	"github.com/diitku/diitku-offline/internal/clients"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/notification"
	"github.com/diitku/diitku-offline/internal/observability/hoststats"
	"github.com/diitku/diitku-offline/internal/worker"
)

func (s *Server) registerControlRoutes(g *echo.Group) {
	g.POST("/install", s.Install)
	g.POST("/activate", s.Activate)
	g.POST("/push", s.Push, middleware.BodyLimit(maxPushBody))
	g.POST("/notificationclick", s.NotificationClick)
	g.POST("/sync/:tag", s.Sync)
	g.GET("/status", s.Status)
	g.GET("/clients", s.ListClients)
	g.GET("/clients/ws", s.ClientSocket)
	g.GET("/notifications", s.ListNotifications)
	g.GET("/notifications/stream", s.StreamNotifications)
	g.Any("/*", func(echo.Context) error { return echo.ErrNotFound })
}

// LifecycleResponse reports the state after a lifecycle request.
type LifecycleResponse struct {
	Version string       `json:"version"`
	State   worker.State `json:"state"`
}

func (s *Server) lifecycle(c echo.Context) error {
	return c.JSON(http.StatusOK, LifecycleResponse{
		Version: s.worker.Profile().Version,
		State:   s.worker.State(),
	})
}

// Install runs one install attempt.
// POST /_sw/install
func (s *Server) Install(c echo.Context) error {
	if err := s.worker.Install(c.Request().Context()); err != nil {
		return err
	}
	return s.lifecycle(c)
}

// Activate activates an installed worker.
// POST /_sw/activate
func (s *Server) Activate(c echo.Context) error {
	if err := s.worker.Activate(c.Request().Context()); err != nil {
		return err
	}
	return s.lifecycle(c)
}

// Push delivers the raw request body as a push message.
// POST /_sw/push
func (s *Server) Push(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read push body").SetInternal(err)
	}
	if err := s.worker.Push(c.Request().Context(), body); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "delivered"})
}

// ClickRequest is a notification click.
type ClickRequest struct {
	Action string `json:"action"`
	Tag    string `json:"tag"`
}

// NotificationClick delivers a notification click.
// POST /_sw/notificationclick
func (s *Server) NotificationClick(c echo.Context) error {
	var req ClickRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid click payload").SetInternal(err)
	}
	if err := s.worker.NotificationClick(c.Request().Context(), req.Action, req.Tag); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "handled"})
}

// SyncResponse reports a completed sync trigger.
type SyncResponse struct {
	Tag    string `json:"tag"`
	Status string `json:"status"`
}

// Sync triggers background sync for a tag, retrying with backoff.
// POST /_sw/sync/:tag
func (s *Server) Sync(c echo.Context) error {
	tag := c.Param("tag")
	err := backgroundsync.Retry(c.Request().Context(), s.syncRetry, s.log, func(ctx context.Context) error {
		err := s.worker.Sync(ctx, tag)
		if err != nil && !worker.Retryable(err) {
			return backgroundsync.Permanent(err)
		}
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SyncResponse{Tag: tag, Status: "completed"})
}

// StatusResponse is the worker status plus connected clients and, when
// available, host stats.
type StatusResponse struct {
	*worker.Status
	Clients []clients.Info   `json:"clients"`
	Host    *hoststats.Stats `json:"host,omitempty"`
}

// Status reports lifecycle state, buckets, clients and host stats.
// GET /_sw/status
func (s *Server) Status(c echo.Context) error {
	st, err := s.worker.Status(c.Request().Context())
	if err != nil {
		return err
	}
	resp := StatusResponse{Status: st, Clients: []clients.Info{}}
	if s.clients != nil {
		resp.Clients = s.clients.MatchAll()
	}
	if host, err := s.hostStats(c.Request().Context()); err != nil {
		s.log.Debug("host stats unavailable", logger.Error(err))
	} else {
		resp.Host = host
	}
	return c.JSON(http.StatusOK, resp)
}

// ListClients returns connected clients.
// GET /_sw/clients
func (s *Server) ListClients(c echo.Context) error {
	if s.clients == nil {
		return c.JSON(http.StatusOK, []clients.Info{})
	}
	return c.JSON(http.StatusOK, s.clients.MatchAll())
}

// ClientSocket upgrades an application page to the client websocket.
// GET /_sw/clients/ws
func (s *Server) ClientSocket(c echo.Context) error {
	if s.clients == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "client registry not available")
	}
	if err := s.clients.ServeWS(c.Response(), c.Request()); err != nil {
		s.log.Debug("client socket closed", logger.Error(err))
		if !c.Response().Committed {
			return errors.New(err).
				Component("api").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	return nil
}

func (s *Server) notificationService() *notification.Service {
	if s.notifications != nil {
		return s.notifications
	}
	return notification.GetService()
}

// ListNotifications returns notifications that can still be clicked.
// GET /_sw/notifications
func (s *Server) ListNotifications(c echo.Context) error {
	svc := s.notificationService()
	if svc == nil {
		return c.JSON(http.StatusOK, []*notification.Notification{})
	}
	return c.JSON(http.StatusOK, svc.Displayed())
}
