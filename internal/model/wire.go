package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnvelopeKind tags the outer wire message.
type EnvelopeKind string

const (
	KindConnection EnvelopeKind = "connection"
	KindEcho       EnvelopeKind = "echo"
	KindBroadcast  EnvelopeKind = "broadcast"
	KindError      EnvelopeKind = "error"
)

// Envelope is the outer wire message received from the push server.
// Constructed once at the router boundary and discarded after dispatch.
type Envelope struct {
	Kind      EnvelopeKind `json:"type"`
	Data      *ChangeEvent `json:"data,omitempty"`
	Message   string       `json:"message,omitempty"`
	Timestamp string       `json:"timestamp"`
}

// EventType identifies a change event relayed by the server.
type EventType string

const (
	EventTasksUpdated      EventType = "TASKS_UPDATED"
	EventTasksError        EventType = "TASKS_ERROR"
	EventRepositoryAdded   EventType = "REPOSITORY_ADDED"
	EventRepositoryRemoved EventType = "REPOSITORY_REMOVED"
)

// KnownEventTypes lists the event types this client decodes. Anything
// else is routed to the unhandled sink rather than dropped.
func KnownEventTypes() []EventType {
	return []EventType{
		EventTasksUpdated,
		EventTasksError,
		EventRepositoryAdded,
		EventRepositoryRemoved,
	}
}

// ChangeEvent is a fact asserted by the server or relayed from another
// client. It always carries the channel key it pertains to so consumers
// can filter.
type ChangeEvent struct {
	Event      EventType       `json:"event"`
	ChannelKey string          `json:"channelKey"`
	Timestamp  string          `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// TasksPayload is the payload shape for TASKS_UPDATED: the full task
// list for the event's channel.
type TasksPayload struct {
	Tasks []Task `json:"tasks"`
}

// TasksErrorPayload is the payload shape for TASKS_ERROR.
type TasksErrorPayload struct {
	Message string `json:"message"`
}

// RepositoryPayload is the payload shape for REPOSITORY_ADDED and
// REPOSITORY_REMOVED.
type RepositoryPayload struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// DecodeTasksPayload parses the payload of a TASKS_UPDATED event.
func (e ChangeEvent) DecodeTasksPayload() (TasksPayload, error) {
	if e.Event != EventTasksUpdated {
		return TasksPayload{}, fmt.Errorf("decode tasks payload: event is %q", e.Event)
	}
	var p TasksPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return TasksPayload{}, fmt.Errorf("decode tasks payload: %w", err)
	}
	return p, nil
}

// DecodeErrorPayload parses the payload of a TASKS_ERROR event.
func (e ChangeEvent) DecodeErrorPayload() (TasksErrorPayload, error) {
	var p TasksErrorPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return TasksErrorPayload{}, fmt.Errorf("decode error payload: %w", err)
	}
	return p, nil
}

// DecodeRepositoryPayload parses the payload of a repository event.
func (e ChangeEvent) DecodeRepositoryPayload() (RepositoryPayload, error) {
	var p RepositoryPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return RepositoryPayload{}, fmt.Errorf("decode repository payload: %w", err)
	}
	return p, nil
}

// PingFrame is the client-to-server heartbeat. Fire-and-forget; no
// reply contract.
type PingFrame struct {
	Type      string `json:"type"` // always "ping"
	Timestamp string `json:"timestamp"`
}

// NewPingFrame builds a heartbeat frame stamped with the current time.
func NewPingFrame(now time.Time) PingFrame {
	return PingFrame{Type: "ping", Timestamp: now.UTC().Format(time.RFC3339)}
}

// RefreshRequestFrame asks the server to re-broadcast current state for
// a channel.
type RefreshRequestFrame struct {
	Type       string `json:"type"` // always "request_refresh"
	ChannelKey string `json:"channelKey"`
	Timestamp  string `json:"timestamp"`
}

// NewRefreshRequestFrame builds a refresh request for a channel.
func NewRefreshRequestFrame(channelKey string, now time.Time) RefreshRequestFrame {
	return RefreshRequestFrame{
		Type:       "request_refresh",
		ChannelKey: channelKey,
		Timestamp:  now.UTC().Format(time.RFC3339),
	}
}

// Repository identifies a task board source; its path is the channel
// key broadcasts are filtered by.
type Repository struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}
