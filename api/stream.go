package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasktracker/internal/consts"
)

func streamTasks(stream Streamer, heartbeat time.Duration, logger *log.Logger) echo.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		ch := stream.Subscribe()
		defer stream.Unsubscribe(ch)

		c.Response().WriteHeader(http.StatusOK)
		if _, err := c.Response().Write([]byte(consts.SSEConnected)); err != nil {
			return nil
		}
		flusher.Flush()
		logger.WithField("request_id", c.Response().Header().Get(consts.HeaderRequestID)).Debug("stream client connected")

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			var (
				frame []byte
				open  bool
			)
			select {
			case <-ctx.Done():
				logger.Debug("stream client disconnected")
				return nil
			case frame, open = <-ch:
				if !open {
					logger.Debug("stream closed by server")
					return nil
				}
			case <-ticker.C:
				frame = []byte(consts.SSEPing)
			}
			if _, err := c.Response().Write(frame); err != nil {
				logger.WithError(err).Debug("stream write failed")
				return nil
			}
			flusher.Flush()
		}
	}
}
