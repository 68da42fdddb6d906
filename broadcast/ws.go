package broadcast

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// ServeWS upgrades the request to a websocket subscriber. The connection
// joins the room of ?board (or the default board) and may send join, leave
// and relay intents afterwards.
func (h *Hub) ServeWS(c echo.Context) error {
	if err := h.authorize(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	board, ok := h.boardFrom(c)
	if !ok {
		return c.String(http.StatusBadRequest, "invalid board id")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already wrote the error response.
		h.logger.WithError(err).Debug("websocket upgrade failed")
		return nil
	}

	s := h.add()
	h.join(s, domain.BoardRoom(board))
	logger := h.logger.WithFields(log.Fields{"subscriber": s.id, "board": board})
	logger.Debug("websocket connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, s)
	}()
	h.readPump(c.Request().Context(), conn, s, logger)
	h.remove(s)
	<-done
	logger.Debug("websocket disconnected")
	return nil
}

func (h *Hub) readPump(ctx context.Context, conn *websocket.Conn, s *subscriber, logger *log.Entry) {
	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Debug("websocket read")
			}
			return
		}
		var ev domain.Event
		if err := sonic.Unmarshal(data, &ev); err != nil {
			logger.WithError(err).Debug("ignoring malformed client message")
			continue
		}
		h.handleIntent(context.WithoutCancel(ctx), s, ev, logger)
	}
}

func (h *Hub) handleIntent(ctx context.Context, s *subscriber, ev domain.Event, logger *log.Entry) {
	switch ev.Type {
	case domain.JoinBoard, domain.LeaveBoard:
		var board string
		if err := ev.Decode(&board); err != nil || !domain.ValidBoardID(board) {
			logger.WithField("event", ev.Type).Debug("ignoring membership change with invalid board")
			return
		}
		if ev.Type == domain.JoinBoard {
			h.join(s, domain.BoardRoom(board))
		} else {
			h.leave(s, domain.BoardRoom(board))
		}
		return
	}

	relayed, ok := domain.RelayedEvent(ev.Type)
	if !ok {
		logger.WithField("event", ev.Type).Debug("ignoring unknown client event")
		return
	}
	relayedIntents.WithLabelValues(relayed).Inc()

	h.relayMu.RLock()
	relay := h.relay
	h.relayMu.RUnlock()
	out := domain.Event{Type: relayed, Data: ev.Data}
	for _, room := range h.roomsOf(s) {
		m := newMessage(room, out)
		m.Exclude = s.id
		if err := relay(ctx, m); err != nil {
			logger.WithError(err).WithField("event", relayed).Warn("relay client event")
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case data, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
