package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/taskboard/boardsync/internal/connection"
	"github.com/taskboard/boardsync/internal/model"
)

// Router decodes envelopes from raw frames and dispatches broadcast
// change events to subscribers.
type Router struct {
	cfg    Config
	logger *slog.Logger

	// Frames queue here so the transport callback never blocks on a
	// slow handler.
	buf *GrowableBuffer[connection.TimestampedMessage]

	wg sync.WaitGroup

	subMu  sync.Mutex
	nextID int
	subs   map[int]*subscription

	statMu           sync.Mutex
	framesReceived   int64
	eventsDispatched int64
	parseErrors      int64
	unhandledEvents  int64
	serverErrors     int64

	known map[model.EventType]bool
}

// New creates a message router.
func New(cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	known := make(map[model.EventType]bool)
	for _, ev := range model.KnownEventTypes() {
		known[ev] = true
	}
	return &Router{
		cfg:    cfg,
		logger: logger,
		buf:    NewGrowableBuffer[connection.TimestampedMessage](cfg.BufferSize),
		subs:   make(map[int]*subscription),
		known:  known,
	}
}

// Start begins the dispatch loop. The loop runs until Stop closes the
// frame buffer.
func (r *Router) Start(ctx context.Context) error {
	r.wg.Add(1)
	go r.dispatchLoop()

	r.logger.Info("message router started", "buffer", r.cfg.BufferSize)
	return nil
}

// Stop drains nothing further and shuts the dispatch loop down.
func (r *Router) Stop(ctx context.Context) error {
	r.buf.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
		return ctx.Err()
	}
}

// Attach registers the router as a message consumer on a connection
// manager. Returns the unsubscribe function.
func (r *Router) Attach(m *connection.Manager) (detach func()) {
	return m.OnMessage(r.HandleRaw)
}

// HandleRaw enqueues one raw frame for dispatch. Safe to call from the
// transport goroutine.
func (r *Router) HandleRaw(msg connection.TimestampedMessage) {
	r.statMu.Lock()
	r.framesReceived++
	r.statMu.Unlock()

	if !r.buf.Send(msg) {
		r.logger.Debug("router stopped, dropping frame")
	}
}

// Subscribe registers a handler for one event type, optionally
// filtered by channel key (empty matches all channels). The returned
// function unsubscribes; calling it during dispatch must not panic and
// suppresses the handler for the remainder of the current pass.
func (r *Router) Subscribe(event model.EventType, channelKey string, fn Handler) (unsubscribe func()) {
	return r.add(&subscription{event: event, channelKey: channelKey, fn: fn})
}

// SubscribeAll registers a handler for every decoded event, known or
// not. Used by consumers that archive or mirror the whole stream.
func (r *Router) SubscribeAll(fn Handler) (unsubscribe func()) {
	return r.add(&subscription{all: true, fn: fn})
}

// SubscribeUnhandled registers a sink for events whose type this
// client does not know. New server event types degrade gracefully
// instead of being swallowed.
func (r *Router) SubscribeUnhandled(fn Handler) (unsubscribe func()) {
	return r.add(&subscription{unhandled: true, fn: fn})
}

// Stats returns current counters.
func (r *Router) Stats() Stats {
	r.statMu.Lock()
	defer r.statMu.Unlock()
	return Stats{
		FramesReceived:   r.framesReceived,
		EventsDispatched: r.eventsDispatched,
		ParseErrors:      r.parseErrors,
		UnhandledEvents:  r.unhandledEvents,
		ServerErrors:     r.serverErrors,
		Buffer:           r.buf.Stats(),
	}
}

func (r *Router) add(sub *subscription) func() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = sub
	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

// dispatchLoop drains the buffer in delivery order.
func (r *Router) dispatchLoop() {
	defer r.wg.Done()

	for {
		msg, ok := r.buf.Receive()
		if !ok {
			return
		}
		r.route(msg)
	}
}

// route decodes one frame and dispatches it if it carries a broadcast.
// Decode faults are reported and dropped; they never affect connection
// state.
func (r *Router) route(msg connection.TimestampedMessage) {
	var env model.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.logger.Warn("malformed frame dropped", "error", err)
		r.statMu.Lock()
		r.parseErrors++
		r.statMu.Unlock()
		return
	}

	switch env.Kind {
	case model.KindBroadcast:
		if env.Data == nil {
			r.logger.Warn("broadcast frame missing data")
			r.statMu.Lock()
			r.parseErrors++
			r.statMu.Unlock()
			return
		}
		r.dispatch(*env.Data)

	case model.KindConnection, model.KindEcho:
		r.logger.Debug("control frame", "kind", env.Kind, "message", env.Message)

	case model.KindError:
		r.logger.Warn("server error frame", "message", env.Message)
		r.statMu.Lock()
		r.serverErrors++
		r.statMu.Unlock()

	default:
		r.logger.Warn("unknown envelope kind dropped", "kind", env.Kind)
		r.statMu.Lock()
		r.parseErrors++
		r.statMu.Unlock()
	}
}

// dispatch fans one change event out to every matching handler in
// registration order.
func (r *Router) dispatch(ev model.ChangeEvent) {
	known := r.known[ev.Event]
	if !known {
		r.logger.Info("unhandled event type", "event", ev.Event, "channel", ev.ChannelKey)
		r.statMu.Lock()
		r.unhandledEvents++
		r.statMu.Unlock()
	}

	for _, id := range r.subIDs() {
		r.subMu.Lock()
		sub, ok := r.subs[id]
		r.subMu.Unlock()
		if !ok {
			continue // unsubscribed during this pass
		}
		if !sub.matches(ev, known) {
			continue
		}
		sub.fn(ev)
	}

	r.statMu.Lock()
	r.eventsDispatched++
	r.statMu.Unlock()
}

func (s *subscription) matches(ev model.ChangeEvent, known bool) bool {
	switch {
	case s.all:
		return true
	case s.unhandled:
		return !known
	default:
		if !known || s.event != ev.Event {
			return false
		}
		return s.channelKey == "" || s.channelKey == ev.ChannelKey
	}
}

// subIDs snapshots subscriber keys in registration order.
func (r *Router) subIDs() []int {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
