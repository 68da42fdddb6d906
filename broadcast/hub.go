package broadcast

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 64 << 10

	defaultSendBuffer = 64
)

var (
	droppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskboard",
		Name:      "broadcast_dropped_total",
		Help:      "Messages dropped because a subscriber's send buffer was full.",
	})
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskboard",
		Name:      "broadcast_clients",
		Help:      "Websocket and stream subscribers currently connected.",
	})
	relayedIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskboard",
		Name:      "broadcast_relayed_total",
		Help:      "Client intents relayed to other clients, by event.",
	}, []string{"event"})
)

// HubOptions configure a Hub.
type HubOptions struct {
	// SendBuffer is the number of messages queued per subscriber before
	// further messages to it are dropped.
	SendBuffer   int
	DefaultBoard string
	// AllowedOrigins limits websocket upgrades by Origin header. Empty or
	// "*" allows every origin.
	AllowedOrigins []string
	// Authorize, when set, must accept a request before it may subscribe.
	Authorize func(r *http.Request) error
}

// Hub keeps the subscribers of this instance grouped in rooms and delivers
// messages to them.
type Hub struct {
	logger   *log.Logger
	opts     HubOptions
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*subscriber]struct{}
	subs  map[*subscriber]struct{}

	relayMu sync.RWMutex
	relay   func(context.Context, Message) error
}

type subscriber struct {
	id    string
	send  chan []byte
	rooms map[string]struct{}
}

// NewHub creates an empty hub. Relayed intents are delivered locally until
// SetRelay installs another path.
func NewHub(logger *log.Logger, opts HubOptions) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.DefaultBoard == "" {
		opts.DefaultBoard = "default"
	}
	h := &Hub{
		logger: logger,
		opts:   opts,
		rooms:  make(map[string]map[*subscriber]struct{}),
		subs:   make(map[*subscriber]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 << 10,
		WriteBufferSize: 4 << 10,
		CheckOrigin:     h.checkOrigin,
	}
	h.relay = func(_ context.Context, m Message) error {
		h.Deliver(m)
		return nil
	}
	return h
}

// SetRelay replaces the path relayed client intents take, e.g. through a
// RedisBus so other instances see them as well.
func (h *Hub) SetRelay(fn func(context.Context, Message) error) {
	h.relayMu.Lock()
	h.relay = fn
	h.relayMu.Unlock()
}

// Publish delivers ev to the local subscribers of room.
func (h *Hub) Publish(_ context.Context, room string, ev domain.Event) error {
	h.Deliver(newMessage(room, ev))
	return nil
}

// Deliver hands m to every subscriber of m.Room except m.Exclude and returns
// how many subscribers accepted it. A subscriber with a full buffer misses
// the message.
func (h *Hub) Deliver(m Message) int {
	data, err := sonic.Marshal(m.Event)
	if err != nil {
		h.logger.WithError(err).WithField("event", m.Event.Type).Error("encode broadcast")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for s := range h.rooms[m.Room] {
		if s.id == m.Exclude {
			continue
		}
		select {
		case s.send <- data:
			delivered++
		default:
			droppedMessages.Inc()
			h.logger.WithFields(log.Fields{"room": m.Room, "subscriber": s.id, "event": m.Event.Type}).Warn("subscriber buffer full, dropping message")
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers in room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		h.remove(s)
	}
}

func (h *Hub) add() *subscriber {
	s := &subscriber{
		id:    uuid.NewString(),
		send:  make(chan []byte, h.opts.SendBuffer),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	connectedClients.Inc()
	return s
}

// remove drops s from all rooms and closes its send channel. It is safe to
// call more than once.
func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	for room := range s.rooms {
		h.leaveLocked(s, room)
	}
	delete(h.subs, s)
	close(s.send)
	connectedClients.Dec()
}

func (h *Hub) join(s *subscriber, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*subscriber]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
	s.rooms[room] = struct{}{}
}

func (h *Hub) leave(s *subscriber, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, room)
}

func (h *Hub) leaveLocked(s *subscriber, room string) {
	delete(s.rooms, room)
	members := h.rooms[room]
	delete(members, s)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) roomsOf(s *subscriber) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	return out
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// boardFrom resolves the board a subscriber asks for on connect.
func (h *Hub) boardFrom(c echo.Context) (string, bool) {
	board := strings.TrimSpace(c.QueryParam("board"))
	if board == "" {
		return h.opts.DefaultBoard, true
	}
	return board, domain.ValidBoardID(board)
}

func (h *Hub) authorize(c echo.Context) error {
	if h.opts.Authorize == nil {
		return nil
	}
	return h.opts.Authorize(c.Request())
}
