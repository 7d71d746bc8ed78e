package model

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrTaskNotFound is returned when an operation targets a task that is
// not present in the snapshot.
var ErrTaskNotFound = errors.New("task not found in snapshot")

// Column is a denormalized grouping of task IDs sharing one status.
// Membership is derived from the flat task list; consumers must not
// mutate it directly.
type Column struct {
	Status  TaskStatus `json:"status"`
	Title   string     `json:"title"`
	TaskIDs []int64    `json:"task_ids"`
}

// SnapshotMeta carries snapshot provenance.
type SnapshotMeta struct {
	ChannelKey  string    `json:"channel_key"`
	GeneratedAt time.Time `json:"generated_at,omitzero"`
	Source      string    `json:"source,omitempty"` // "rest", "ws", or "local"
}

// BoardSnapshot is the full in-memory representation of a task board at
// a point in time. Tasks is the normalized source of truth; Columns is
// the denormalized view derived from it.
type BoardSnapshot struct {
	Columns  []Column     `json:"columns"`
	Tasks    []Task       `json:"tasks"`
	Metadata SnapshotMeta `json:"metadata"`
}

// NewSnapshot builds a snapshot from a task list, deriving columns in
// the default order.
func NewSnapshot(tasks []Task, meta SnapshotMeta) BoardSnapshot {
	snap := BoardSnapshot{
		Tasks:    make([]Task, len(tasks)),
		Metadata: meta,
	}
	for i, t := range tasks {
		snap.Tasks[i] = t.Clone()
	}
	snap.RebuildColumns(DefaultColumnOrder())
	return snap
}

// Clone returns a deep copy of the snapshot.
func (s BoardSnapshot) Clone() BoardSnapshot {
	out := BoardSnapshot{
		Columns:  make([]Column, len(s.Columns)),
		Tasks:    make([]Task, len(s.Tasks)),
		Metadata: s.Metadata,
	}
	for i, col := range s.Columns {
		ids := make([]int64, len(col.TaskIDs))
		copy(ids, col.TaskIDs)
		out.Columns[i] = Column{Status: col.Status, Title: col.Title, TaskIDs: ids}
	}
	for i, t := range s.Tasks {
		out.Tasks[i] = t.Clone()
	}
	return out
}

// FindTask returns a pointer into the snapshot's task list, or nil.
func (s *BoardSnapshot) FindTask(id int64) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

// ApplyChange applies a partial change to the task with the given ID.
// If the change moves the task to a different status, the task is
// spliced out of its source column and appended to the destination
// column. A change within the same column is an in-place field update
// with no column surgery. The flat task list and the columns are
// updated in the same pass so both views stay consistent.
func (s *BoardSnapshot) ApplyChange(id int64, change TaskChange) error {
	task := s.FindTask(id)
	if task == nil {
		return fmt.Errorf("apply change to task %d: %w", id, ErrTaskNotFound)
	}

	oldStatus := task.Status
	change.applyTo(task)

	if change.Status == nil || *change.Status == oldStatus {
		return nil
	}
	s.moveColumn(id, oldStatus, task.Status)
	return nil
}

// MergeTask overwrites one task's fields from an authoritative server
// representation and re-homes its column membership if the status
// changed. Tasks not yet in the snapshot are appended.
func (s *BoardSnapshot) MergeTask(incoming Task) {
	task := s.FindTask(incoming.ID)
	if task == nil {
		s.Tasks = append(s.Tasks, incoming.Clone())
		s.appendToColumn(incoming.ID, incoming.Status)
		return
	}

	oldStatus := task.Status
	*task = incoming.Clone()
	if incoming.Status != oldStatus {
		s.moveColumn(incoming.ID, oldStatus, incoming.Status)
	}
}

// MergeTaskFields copies only the fields named by change from the
// confirmed task onto the snapshot's copy, re-homing the column if the
// status field is among them.
func (s *BoardSnapshot) MergeTaskFields(confirmed Task, change TaskChange) error {
	task := s.FindTask(confirmed.ID)
	if task == nil {
		return fmt.Errorf("merge fields of task %d: %w", confirmed.ID, ErrTaskNotFound)
	}

	oldStatus := task.Status
	change.copyFrom(confirmed, task)
	if task.Status != oldStatus {
		s.moveColumn(confirmed.ID, oldStatus, task.Status)
	}
	return nil
}

// RemoveTask deletes a task from the flat list and its column.
func (s *BoardSnapshot) RemoveTask(id int64) error {
	task := s.FindTask(id)
	if task == nil {
		return fmt.Errorf("remove task %d: %w", id, ErrTaskNotFound)
	}
	status := task.Status
	s.Tasks = slices.DeleteFunc(s.Tasks, func(t Task) bool { return t.ID == id })
	s.spliceFromColumn(id, status)
	return nil
}

// RebuildColumns derives the column view from the flat task list. This
// is the only way column membership may be changed wholesale. Statuses
// outside the given order get trailing columns in first-seen order.
func (s *BoardSnapshot) RebuildColumns(order []TaskStatus) {
	columns := make([]Column, 0, len(order))
	index := make(map[TaskStatus]int, len(order))
	for _, status := range order {
		index[status] = len(columns)
		columns = append(columns, Column{Status: status, Title: ColumnTitle(status)})
	}

	for _, t := range s.Tasks {
		i, ok := index[t.Status]
		if !ok {
			i = len(columns)
			index[t.Status] = i
			columns = append(columns, Column{Status: t.Status, Title: ColumnTitle(t.Status)})
		}
		columns[i].TaskIDs = append(columns[i].TaskIDs, t.ID)
	}

	s.Columns = columns
}

// Validate checks the structural invariant: every task appears in
// exactly one column and that column's status equals the task's status.
func (s *BoardSnapshot) Validate() error {
	seen := make(map[int64]TaskStatus, len(s.Tasks))
	for _, col := range s.Columns {
		for _, id := range col.TaskIDs {
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("task %d appears in %q and %q columns", id, prev, col.Status)
			}
			seen[id] = col.Status
		}
	}

	for _, t := range s.Tasks {
		status, ok := seen[t.ID]
		if !ok {
			return fmt.Errorf("task %d missing from all columns", t.ID)
		}
		if status != t.Status {
			return fmt.Errorf("task %d in %q column but has status %q", t.ID, status, t.Status)
		}
		delete(seen, t.ID)
	}

	for id := range seen {
		return fmt.Errorf("column references unknown task %d", id)
	}
	return nil
}

// moveColumn splices a task out of the column for from and appends it
// to the column for to. Creates the destination column if absent.
func (s *BoardSnapshot) moveColumn(id int64, from, to TaskStatus) {
	s.spliceFromColumn(id, from)
	s.appendToColumn(id, to)
}

func (s *BoardSnapshot) spliceFromColumn(id int64, status TaskStatus) {
	for i := range s.Columns {
		if s.Columns[i].Status != status {
			continue
		}
		s.Columns[i].TaskIDs = slices.DeleteFunc(s.Columns[i].TaskIDs, func(tid int64) bool {
			return tid == id
		})
		return
	}
}

func (s *BoardSnapshot) appendToColumn(id int64, status TaskStatus) {
	for i := range s.Columns {
		if s.Columns[i].Status == status {
			s.Columns[i].TaskIDs = append(s.Columns[i].TaskIDs, id)
			return
		}
	}
	s.Columns = append(s.Columns, Column{
		Status:  status,
		Title:   ColumnTitle(status),
		TaskIDs: []int64{id},
	})
}

// Equal reports structural and value equality of two snapshots,
// ignoring metadata.
func (s BoardSnapshot) Equal(other BoardSnapshot) bool {
	if len(s.Tasks) != len(other.Tasks) || len(s.Columns) != len(other.Columns) {
		return false
	}
	for i, t := range s.Tasks {
		o := other.Tasks[i]
		if t.ID != o.ID || t.Title != o.Title || t.Description != o.Description ||
			t.Status != o.Status || t.Priority != o.Priority ||
			!slices.Equal(t.Dependencies, o.Dependencies) {
			return false
		}
	}
	for i, col := range s.Columns {
		o := other.Columns[i]
		if col.Status != o.Status || !slices.Equal(col.TaskIDs, o.TaskIDs) {
			return false
		}
	}
	return true
}
