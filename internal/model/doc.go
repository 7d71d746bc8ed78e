// Package model defines the data types shared across the sync subsystem:
//   - Task, Column, and BoardSnapshot (the in-memory board state)
//   - TaskChange (a partial task mutation)
//   - Envelope and ChangeEvent (the WebSocket wire format)
//
// BoardSnapshot enforces one structural invariant: every task appears in
// exactly one column, and that column's status equals the task's status.
// Column membership is only ever changed through ApplyChange, MergeTask,
// or RebuildColumns, never by mutating a Column directly.
package model
