package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/taskboard/boardsync/internal/connection"
	"github.com/taskboard/boardsync/internal/model"
)

func frame(t *testing.T, v any) connection.TimestampedMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return connection.TimestampedMessage{Data: data, ReceivedAt: time.Now()}
}

func broadcastFrame(t *testing.T, event, channelKey string) connection.TimestampedMessage {
	t.Helper()
	return frame(t, map[string]any{
		"type":      "broadcast",
		"timestamp": "t",
		"data": map[string]any{
			"event":      event,
			"channelKey": channelKey,
			"timestamp":  "t",
		},
	})
}

// collector records events thread-safely.
type collector struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (c *collector) handler(ev model.ChangeEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func startRouter(t *testing.T) *Router {
	t.Helper()
	r := New(DefaultConfig(), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	})
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}

func TestRouter_ChannelKeyFiltering(t *testing.T) {
	r := startRouter(t)

	matching := &collector{}
	other := &collector{}
	unfiltered := &collector{}

	r.Subscribe(model.EventRepositoryAdded, "/r1", matching.handler)
	r.Subscribe(model.EventRepositoryAdded, "/r2", other.handler)
	r.Subscribe(model.EventRepositoryAdded, "", unfiltered.handler)

	r.HandleRaw(broadcastFrame(t, "REPOSITORY_ADDED", "/r1"))

	waitFor(t, func() bool { return matching.count() == 1 && unfiltered.count() == 1 })

	if got := other.count(); got != 0 {
		t.Errorf("handler filtered on /r2 fired %d times, want 0", got)
	}
	if got := matching.count(); got != 1 {
		t.Errorf("handler filtered on /r1 fired %d times, want exactly 1", got)
	}
	if got := unfiltered.count(); got != 1 {
		t.Errorf("unfiltered handler fired %d times, want exactly 1", got)
	}
}

func TestRouter_EventTypeFiltering(t *testing.T) {
	r := startRouter(t)

	tasks := &collector{}
	repos := &collector{}
	r.Subscribe(model.EventTasksUpdated, "", tasks.handler)
	r.Subscribe(model.EventRepositoryAdded, "", repos.handler)

	r.HandleRaw(broadcastFrame(t, "TASKS_UPDATED", "/r1"))
	r.HandleRaw(broadcastFrame(t, "TASKS_UPDATED", "/r1"))

	waitFor(t, func() bool { return tasks.count() == 2 })
	if got := repos.count(); got != 0 {
		t.Errorf("repository handler fired %d times, want 0", got)
	}
}

func TestRouter_DeliveryOrder(t *testing.T) {
	r := startRouter(t)

	var mu sync.Mutex
	var keys []string
	r.Subscribe(model.EventTasksUpdated, "", func(ev model.ChangeEvent) {
		mu.Lock()
		keys = append(keys, ev.ChannelKey)
		mu.Unlock()
	})

	for _, key := range []string{"/a", "/b", "/c", "/d"} {
		r.HandleRaw(broadcastFrame(t, "TASKS_UPDATED", key))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(keys) == 4
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/a", "/b", "/c", "/d"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("delivery order = %v, want %v", keys, want)
		}
	}
}

func TestRouter_UnhandledSink(t *testing.T) {
	r := startRouter(t)

	unhandled := &collector{}
	typed := &collector{}
	r.SubscribeUnhandled(unhandled.handler)
	r.Subscribe(model.EventTasksUpdated, "", typed.handler)

	r.HandleRaw(broadcastFrame(t, "SOMETHING_NEW", "/r1"))

	waitFor(t, func() bool { return unhandled.count() == 1 })

	if got := typed.count(); got != 0 {
		t.Errorf("typed handler fired %d times for unknown event, want 0", got)
	}
	if got := r.Stats().UnhandledEvents; got != 1 {
		t.Errorf("UnhandledEvents = %d, want 1", got)
	}

	unhandled.mu.Lock()
	defer unhandled.mu.Unlock()
	if unhandled.events[0].Event != "SOMETHING_NEW" {
		t.Errorf("unhandled event = %q, want SOMETHING_NEW", unhandled.events[0].Event)
	}
}

func TestRouter_SubscribeAllSeesEverything(t *testing.T) {
	r := startRouter(t)

	all := &collector{}
	r.SubscribeAll(all.handler)

	r.HandleRaw(broadcastFrame(t, "TASKS_UPDATED", "/r1"))
	r.HandleRaw(broadcastFrame(t, "SOMETHING_NEW", "/r2"))

	waitFor(t, func() bool { return all.count() == 2 })
}

func TestRouter_MalformedFrameDropped(t *testing.T) {
	r := startRouter(t)

	c := &collector{}
	r.SubscribeAll(c.handler)

	r.HandleRaw(connection.TimestampedMessage{Data: []byte(`{not json`), ReceivedAt: time.Now()})
	r.HandleRaw(broadcastFrame(t, "TASKS_UPDATED", "/r1"))

	waitFor(t, func() bool { return c.count() == 1 })

	if got := r.Stats().ParseErrors; got != 1 {
		t.Errorf("ParseErrors = %d, want 1", got)
	}
}

func TestRouter_BroadcastWithoutData(t *testing.T) {
	r := startRouter(t)

	c := &collector{}
	r.SubscribeAll(c.handler)

	r.HandleRaw(frame(t, map[string]any{"type": "broadcast", "timestamp": "t"}))

	waitFor(t, func() bool { return r.Stats().ParseErrors == 1 })
	if got := c.count(); got != 0 {
		t.Errorf("handler fired %d times for dataless broadcast, want 0", got)
	}
}

func TestRouter_ControlFramesNotDispatched(t *testing.T) {
	r := startRouter(t)

	c := &collector{}
	r.SubscribeAll(c.handler)

	r.HandleRaw(frame(t, map[string]any{"type": "connection", "message": "hello", "timestamp": "t"}))
	r.HandleRaw(frame(t, map[string]any{"type": "echo", "timestamp": "t"}))
	r.HandleRaw(frame(t, map[string]any{"type": "error", "message": "boom", "timestamp": "t"}))

	waitFor(t, func() bool { return r.Stats().ServerErrors == 1 })
	if got := c.count(); got != 0 {
		t.Errorf("handler fired %d times for control frames, want 0", got)
	}
}

func TestRouter_UnsubscribeDuringDispatch(t *testing.T) {
	r := startRouter(t)

	var mu sync.Mutex
	var late int
	var unsubLate func()

	r.Subscribe(model.EventTasksUpdated, "", func(ev model.ChangeEvent) {
		unsubLate()
	})
	unsubLate = r.Subscribe(model.EventTasksUpdated, "", func(ev model.ChangeEvent) {
		mu.Lock()
		late++
		mu.Unlock()
	})

	r.HandleRaw(broadcastFrame(t, "TASKS_UPDATED", "/r1"))
	r.HandleRaw(broadcastFrame(t, "TASKS_UPDATED", "/r1"))

	waitFor(t, func() bool { return r.Stats().EventsDispatched == 2 })

	mu.Lock()
	defer mu.Unlock()
	if late != 0 {
		t.Errorf("unsubscribed handler fired %d times, want 0", late)
	}
}

func TestRouter_StopDropsNewFrames(t *testing.T) {
	r := New(DefaultConfig(), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Must not panic or block.
	r.HandleRaw(broadcastFrame(t, "TASKS_UPDATED", "/r1"))
}
