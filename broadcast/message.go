package broadcast

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// Message is an event addressed to a room. It is the unit passed between
// instances over the bus and into the local hub.
type Message struct {
	Room  string       `json:"room"`
	Event domain.Event `json:"event"`
	// Exclude is the id of the connection that must not receive the
	// message, set for relayed client intents.
	Exclude string `json:"exclude,omitempty"`
	Origin  string `json:"origin,omitempty"`
	Time    int64  `json:"ts"`
}

func newMessage(room string, ev domain.Event) Message {
	return Message{Room: room, Event: ev, Time: nextTimestamp()}
}

var lastTimestamp int64

// nextTimestamp returns a strictly increasing UnixNano timestamp.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

// Publisher delivers an event to the subscribers of a room.
type Publisher interface {
	Publish(ctx context.Context, room string, ev domain.Event) error
}

// Fanout publishes every event to all of its publishers. A failing
// publisher does not stop the others; the errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, room string, ev domain.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, room, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
