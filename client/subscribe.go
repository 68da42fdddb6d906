package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// ErrNotConnected is returned by Emit while the subscription is
// reconnecting.
var ErrNotConnected = errors.New("broadcast channel not connected")

// EventReconnected is delivered on a Subscription after it re-dialled. The
// board should be re-fetched since missed events are not replayed.
const EventReconnected = "client:reconnected"

// Reconnect bounds how a Subscription re-dials after the connection drops.
type Reconnect struct {
	Delay       time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultReconnect retries five times, backing off from one to five seconds.
var DefaultReconnect = Reconnect{Delay: time.Second, MaxDelay: 5 * time.Second, MaxAttempts: 5}

// Subscription is a live connection to the board's broadcast channel.
// Events are delivered in arrival order; the channel is closed when the
// subscription ends.
type Subscription struct {
	client *Client
	policy Reconnect
	events chan domain.Event
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
	err  error
}

// Subscribe connects to the broadcast channel and joins the client's board
// room. The first dial error is returned directly; later drops are retried
// according to policy.
func (c *Client) Subscribe(ctx context.Context, policy Reconnect) (*Subscription, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		client: c,
		policy: policy,
		events: make(chan domain.Event, 64),
		cancel: cancel,
		done:   make(chan struct{}),
		conn:   conn,
	}
	go s.run(ctx, conn)
	return s, nil
}

func (c *Client) wsURL() string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"board": []string{c.board}}.Encode()
	return u.String()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "websocket handshake failed"}
		}
		return nil, fmt.Errorf("dial broadcast channel: %w", err)
	}
	return conn, nil
}

// Events returns the event stream.
func (s *Subscription) Events() <-chan domain.Event { return s.events }

// Err returns why the subscription ended, or nil while it is running or
// after Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit sends a client intent such as task:move to the other subscribers of
// the board.
func (s *Subscription) Emit(intent string, payload any) error {
	ev, err := domain.NewEvent(intent, payload)
	if err != nil {
		return err
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close ends the subscription and waits for the reader to exit.
func (s *Subscription) Close() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Subscription) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)
	defer close(s.events)
	for {
		err := s.read(ctx, conn)
		s.setConn(nil)
		if ctx.Err() != nil {
			return
		}
		s.client.logger.WithError(err).Warn("broadcast channel dropped, reconnecting")

		conn = s.redial(ctx)
		if conn == nil {
			if ctx.Err() == nil {
				s.mu.Lock()
				s.err = fmt.Errorf("broadcast channel lost after %d attempts: %w", s.policy.MaxAttempts, err)
				s.mu.Unlock()
			}
			return
		}
		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.mu.Unlock()

		// Events published while disconnected are not replayed.
		select {
		case s.events <- domain.Event{Type: EventReconnected}:
		case <-ctx.Done():
			_ = conn.Close()
			return
		}
	}
}

func (s *Subscription) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Subscription) read(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev domain.Event
		if err := sonic.Unmarshal(data, &ev); err != nil {
			s.client.logger.WithError(err).Debug("ignoring malformed broadcast message")
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Subscription) redial(ctx context.Context) *websocket.Conn {
	delay := s.policy.Delay
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		conn, err := s.client.dial(ctx)
		if err == nil {
			s.client.logger.WithField("attempt", attempt).Info("broadcast channel reconnected")
			return conn
		}
		s.client.logger.WithError(err).WithField("attempt", attempt).Debug("reconnect failed")
		delay *= 2
		if s.policy.MaxDelay > 0 && delay > s.policy.MaxDelay {
			delay = s.policy.MaxDelay
		}
	}
	return nil
}
