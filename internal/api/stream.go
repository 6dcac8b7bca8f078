package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/diitku/diitku-offline/internal/logger"
)

const (
	heartbeatInterval        = 30 * time.Second
	maxSSEConnectionDuration = 30 * time.Minute
)

// StreamNotifications streams shown notifications as server-sent events.
// Recent notifications are replayed after the connected event unless
// replay=false.
// GET /_sw/notifications/stream
func (s *Server) StreamNotifications(c echo.Context) error {
	svc := s.notificationService()
	if svc == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "notification service not available"})
	}

	setSSEHeaders(c)
	id, ch := svc.Subscribe()
	defer svc.Unsubscribe(id)

	if err := sendSSEMessage(c, "connected", map[string]string{"clientId": id}); err != nil {
		return err
	}
	s.log.Debug("notification stream connected", logger.String("subscriber", id), logger.String("ip", c.RealIP()))

	replayed := make(map[string]struct{})
	if c.QueryParam("replay") != "false" {
		for _, n := range svc.Recent() {
			if err := sendSSEMessage(c, "notification", n); err != nil {
				return err
			}
			replayed[n.ID] = struct{}{}
		}
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	deadline := time.After(maxSSEConnectionDuration)
	ctx := c.Request().Context()

	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			if _, seen := replayed[n.ID]; seen {
				delete(replayed, n.ID)
				continue
			}
			if err := sendSSEMessage(c, "notification", n); err != nil {
				return err
			}
		case <-ticker.C:
			if err := sendSSEMessage(c, "heartbeat", map[string]int64{"timestamp": time.Now().Unix()}); err != nil {
				return err
			}
		case <-deadline:
			return nil
		case <-ctx.Done():
			s.log.Debug("notification stream closed", logger.String("subscriber", id))
			return nil
		}
	}
}

func setSSEHeaders(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
}

func sendSSEMessage(c echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
