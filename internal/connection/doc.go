// Package connection implements the connection manager component.
//
// The manager:
//   - Owns one WebSocket connection per logical channel
//   - Runs the connect/retry/heartbeat state machine
//   - Caps automatic reconnection at a configured attempt limit
//   - Fans out raw messages, state changes, and errors to subscribers
//
// Failure is detected only through the transport's own close/error
// path; a missed heartbeat is not itself a failure signal.
package connection
