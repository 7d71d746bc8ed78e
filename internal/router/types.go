package router

import "github.com/taskboard/boardsync/internal/model"

// Handler receives a decoded change event.
type Handler func(ev model.ChangeEvent)

// Config holds router settings.
type Config struct {
	BufferSize int // Initial dispatch buffer capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{BufferSize: 1024}
}

// Stats contains runtime counters.
type Stats struct {
	FramesReceived   int64
	EventsDispatched int64
	ParseErrors      int64
	UnhandledEvents  int64
	ServerErrors     int64
	Buffer           BufferStats
}

// subscription is one registered handler with its filters.
type subscription struct {
	event      model.EventType
	channelKey string // empty matches every channel
	all        bool   // receives every decoded event regardless of type
	unhandled  bool   // receives only events with unknown types
	fn         Handler
}
