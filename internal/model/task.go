package model

import "time"

// TaskStatus is the workflow state of a task. The set below is what the
// server emits today; unknown statuses round-trip untouched so a newer
// server does not break older clients.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in-progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
)

// DefaultColumnOrder returns the canonical left-to-right column layout.
func DefaultColumnOrder() []TaskStatus {
	return []TaskStatus{
		StatusPending,
		StatusInProgress,
		StatusReview,
		StatusDone,
		StatusCancelled,
	}
}

// columnTitles maps statuses to display titles.
var columnTitles = map[TaskStatus]string{
	StatusPending:    "To Do",
	StatusInProgress: "In Progress",
	StatusReview:     "In Review",
	StatusDone:       "Done",
	StatusCancelled:  "Cancelled",
}

// ColumnTitle returns the display title for a status. Unknown statuses
// use the raw status string so server-side additions still render.
func ColumnTitle(status TaskStatus) string {
	if title, ok := columnTitles[status]; ok {
		return title
	}
	return string(status)
}

// Task is a single work item. Identity is ID; uniqueness is enforced by
// the server, not by this subsystem.
type Task struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status"`
	Priority     string     `json:"priority,omitempty"`
	Dependencies []int64    `json:"dependencies,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at,omitzero"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	out := t
	if t.Dependencies != nil {
		out.Dependencies = make([]int64, len(t.Dependencies))
		copy(out.Dependencies, t.Dependencies)
	}
	return out
}

// TaskChange is a partial update to a task. Nil fields are untouched.
type TaskChange struct {
	Title        *string     `json:"title,omitempty"`
	Description  *string     `json:"description,omitempty"`
	Status       *TaskStatus `json:"status,omitempty"`
	Priority     *string     `json:"priority,omitempty"`
	Dependencies *[]int64    `json:"dependencies,omitempty"`
}

// IsZero reports whether the change touches no fields.
func (c TaskChange) IsZero() bool {
	return c.Title == nil &&
		c.Description == nil &&
		c.Status == nil &&
		c.Priority == nil &&
		c.Dependencies == nil
}

// StatusOnly reports whether the change touches the status field and
// nothing else. The coordinator uses this to pick the REST endpoint.
func (c TaskChange) StatusOnly() bool {
	return c.Status != nil &&
		c.Title == nil &&
		c.Description == nil &&
		c.Priority == nil &&
		c.Dependencies == nil
}

// applyTo mutates a task in place with the non-nil fields of the change.
func (c TaskChange) applyTo(t *Task) {
	if c.Title != nil {
		t.Title = *c.Title
	}
	if c.Description != nil {
		t.Description = *c.Description
	}
	if c.Status != nil {
		t.Status = *c.Status
	}
	if c.Priority != nil {
		t.Priority = *c.Priority
	}
	if c.Dependencies != nil {
		deps := make([]int64, len(*c.Dependencies))
		copy(deps, *c.Dependencies)
		t.Dependencies = deps
	}
}

// copyFrom copies only the fields named by the change from src onto dst.
// Used when a server confirmation is authoritative for just the fields
// the mutation touched.
func (c TaskChange) copyFrom(src Task, dst *Task) {
	if c.Title != nil {
		dst.Title = src.Title
	}
	if c.Description != nil {
		dst.Description = src.Description
	}
	if c.Status != nil {
		dst.Status = src.Status
	}
	if c.Priority != nil {
		dst.Priority = src.Priority
	}
	if c.Dependencies != nil {
		deps := make([]int64, len(src.Dependencies))
		copy(deps, src.Dependencies)
		dst.Dependencies = deps
	}
}
