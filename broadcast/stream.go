package broadcast

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

const keepAliveInterval = 30 * time.Second

// ServeSSE streams the events of ?board to a read-only subscriber as
// server-sent events.
func (h *Hub) ServeSSE(c echo.Context) error {
	return h.serveSSE(c, keepAliveInterval)
}

func (h *Hub) serveSSE(c echo.Context, keepAlive time.Duration) error {
	if err := h.authorize(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	board, ok := h.boardFrom(c)
	if !ok {
		return c.String(http.StatusBadRequest, "invalid board id")
	}
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := h.add()
	defer h.remove(s)
	h.join(s, domain.BoardRoom(board))
	logger := h.logger.WithFields(log.Fields{"subscriber": s.id, "board": board})

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-s.send:
			if !ok {
				return nil
			}
			if err := writeSSE(res, data); err != nil {
				logger.WithError(err).Debug("stream write")
				return nil
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := res.Write([]byte(": keepalive\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func writeSSE(res *echo.Response, data []byte) error {
	if _, err := res.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := res.Write(data); err != nil {
		return err
	}
	_, err := res.Write([]byte("\n\n"))
	return err
}
