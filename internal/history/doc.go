// Package history journals dispatched change events into Postgres.
//
// The journal is an audit trail of broadcasts, not task storage. It
// consumes every event the router dispatches, batches rows, and
// flushes on batch size or a timer. Event IDs are derived from the
// event content, so a re-broadcast deduplicates on insert.
package history
