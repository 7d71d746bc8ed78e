// Package router implements the message router component.
//
// The router decodes raw WebSocket frames into envelopes, extracts
// broadcast change events, and dispatches them to registered handlers
// filtered by event type and optional channel key. Unknown event types
// are delivered to unhandled sinks instead of being dropped silently.
//
// A growable buffer sits between the transport callback and the
// dispatch loop so a slow handler cannot force the transport to drop
// broadcasts; events are dispatched strictly in delivery order.
package router
