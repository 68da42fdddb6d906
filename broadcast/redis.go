package broadcast

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

var localFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "taskboard",
	Name:      "broadcast_bus_local_total",
	Help:      "Bus messages delivered straight to the local hub because this instance was not subscribed.",
})

// RedisBus carries messages between server instances over one Redis pub/sub
// channel. Every instance runs the bus and delivers what it receives to its
// local hub, including its own messages.
type RedisBus struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *log.Logger
	origin  string
	retry   time.Duration
	ready   chan struct{}

	// subscribed is true while Run holds a confirmed subscription.
	subscribed atomic.Bool
}

// NewRedisBus creates a bus on channel delivering to hub.
func NewRedisBus(client *redis.Client, channel string, hub *Hub, logger *log.Logger) *RedisBus {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		hub:     hub,
		logger:  logger,
		origin:  uuid.NewString(),
		retry:   time.Second,
		ready:   make(chan struct{}),
	}
}

// Publish sends ev for room to every instance.
func (b *RedisBus) Publish(ctx context.Context, room string, ev domain.Event) error {
	return b.Forward(ctx, newMessage(room, ev))
}

// Forward publishes m on the channel. The local hub gets m directly when
// this instance is not subscribed or nobody received the publish; when Redis
// is unreachable the error is returned as well.
func (b *RedisBus) Forward(ctx context.Context, m Message) error {
	m.Origin = b.origin
	data, err := sonic.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode bus message: %w", err)
	}
	subscribed := b.subscribed.Load()
	receivers, err := b.client.Publish(ctx, b.channel, data).Result()
	if err != nil {
		b.deliverLocally(m, "publish failed")
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	switch {
	case !subscribed:
		b.deliverLocally(m, "bus not subscribed")
	case receivers == 0:
		b.deliverLocally(m, "no bus receivers")
	}
	return nil
}

func (b *RedisBus) deliverLocally(m Message, reason string) {
	localFallbacks.Inc()
	b.logger.WithFields(log.Fields{"channel": b.channel, "room": m.Room, "event": m.Event.Type}).Warn(reason + ", delivering locally")
	b.hub.Deliver(m)
}

// Ready is closed once the first subscription is confirmed.
func (b *RedisBus) Ready() <-chan struct{} {
	return b.ready
}

// Run subscribes to the channel and delivers messages to the hub until ctx
// is done, resubscribing whenever the subscription drops.
func (b *RedisBus) Run(ctx context.Context) {
	first := true
	for {
		sub := b.client.Subscribe(ctx, b.channel)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			b.logger.WithError(err).WithField("channel", b.channel).Error("subscribe failed, retrying")
			if !b.sleep(ctx) {
				return
			}
			continue
		}
		b.subscribed.Store(true)
		if first {
			close(b.ready)
			first = false
		}
		b.logger.WithField("channel", b.channel).Info("broadcast bus subscribed")

		b.consume(ctx, sub.Channel())
		b.subscribed.Store(false)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.WithField("channel", b.channel).Error("pubsub channel closed, reconnecting")
		if !b.sleep(ctx) {
			return
		}
	}
}

func (b *RedisBus) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m Message
			if err := sonic.UnmarshalString(msg.Payload, &m); err != nil {
				b.logger.WithError(err).Error("unable to parse bus message")
				continue
			}
			b.hub.Deliver(m)
		}
	}
}

func (b *RedisBus) sleep(ctx context.Context) bool {
	t := time.NewTimer(b.retry)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
