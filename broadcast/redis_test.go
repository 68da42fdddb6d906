package broadcast

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

func startBus(t *testing.T, ctx context.Context, addr string) (*Hub, *RedisBus, *subscriber) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	rc := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rc.Close() })

	hub := NewHub(logger, HubOptions{})
	bus := NewRedisBus(rc, "taskboard-events", hub, logger)
	hub.SetRelay(bus.Forward)
	done := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("bus did not stop")
		}
	})
	select {
	case <-bus.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("bus did not subscribe")
	}

	s := hub.add()
	hub.join(s, "board:default")
	return hub, bus, s
}

func receive(t *testing.T, s *subscriber) string {
	t.Helper()
	select {
	case data := <-s.send:
		return string(data)
	case <-time.After(2 * time.Second):
		t.Fatalf("no message delivered")
	}
	return ""
}

func TestRedisBusDeliversAcrossInstances(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, busA, subA := startBus(t, ctx, m.Addr())
	_, _, subB := startBus(t, ctx, m.Addr())

	ev, _ := domain.NewEvent(domain.EventTaskDeleted, domain.DeletedPayload{TaskID: "t1"})
	if err := busA.Publish(context.Background(), "board:default", ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := `{"event":"task:deleted","data":{"taskId":"t1"}}`
	if got := receive(t, subA); got != want {
		t.Fatalf("instance A got %s", got)
	}
	if got := receive(t, subB); got != want {
		t.Fatalf("instance B got %s", got)
	}
	select {
	case data := <-subA.send:
		t.Fatalf("subscribed instance delivered twice: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBusRelayExcludesSenderEverywhere(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubA, _, sender := startBus(t, ctx, m.Addr())
	_, _, peer := startBus(t, ctx, m.Addr())

	ev, _ := domain.NewEvent(domain.IntentCreate, domain.TaskPayload{Task: domain.Task{ID: "t2", Title: "x"}})
	logger, _ := test.NewNullLogger()
	hubA.handleIntent(context.Background(), sender, ev, logger.WithField("test", true))

	got := receive(t, peer)
	if got == "" {
		t.Fatalf("peer did not receive relay")
	}
	select {
	case data := <-sender.send:
		t.Fatalf("sender received its own intent: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBusFallsBackToLocalDelivery(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	logger, _ := test.NewNullLogger()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	defer rc.Close()
	hub := NewHub(logger, HubOptions{})
	bus := NewRedisBus(rc, "taskboard-events", hub, logger)
	s := hub.add()
	hub.join(s, "board:default")
	m.Close()

	ev, _ := domain.NewEvent(domain.EventTaskCleared, nil)
	if err := bus.Publish(context.Background(), "board:default", ev); err == nil {
		t.Fatalf("expected publish error with redis down")
	}
	if got := receive(t, s); got != `{"event":"task:cleared","data":{}}` {
		t.Fatalf("unexpected local delivery %s", got)
	}
}

func TestRedisBusDeliversLocallyBeforeSubscribing(t *testing.T) {
	m := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _, remote := startBus(t, ctx, m.Addr())

	logger, _ := test.NewNullLogger()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()
	hub := NewHub(logger, HubOptions{})
	bus := NewRedisBus(rc, "taskboard-events", hub, logger)
	local := hub.add()
	hub.join(local, "board:default")

	ev, _ := domain.NewEvent(domain.EventTaskDeleted, domain.DeletedPayload{TaskID: "t3"})
	if err := bus.Publish(context.Background(), "board:default", ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := `{"event":"task:deleted","data":{"taskId":"t3"}}`
	if got := receive(t, local); got != want {
		t.Fatalf("local subscriber got %s", got)
	}
	if got := receive(t, remote); got != want {
		t.Fatalf("remote instance got %s", got)
	}
	select {
	case data := <-local.send:
		t.Fatalf("local subscriber received a duplicate: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBusWithoutReceiversDeliversLocally(t *testing.T) {
	m := miniredis.RunT(t)
	logger, _ := test.NewNullLogger()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()
	hub := NewHub(logger, HubOptions{})
	bus := NewRedisBus(rc, "taskboard-events", hub, logger)
	// A bus that believes it is subscribed but has no live subscription.
	bus.subscribed.Store(true)
	s := hub.add()
	hub.join(s, "board:default")

	ev, _ := domain.NewEvent(domain.EventTaskCleared, nil)
	if err := bus.Publish(context.Background(), "board:default", ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := receive(t, s); got != `{"event":"task:cleared","data":{}}` {
		t.Fatalf("unexpected local delivery %s", got)
	}
}
