package board

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/taskboard/boardsync/internal/model"
)

// ErrNotLoaded is returned when a mutation arrives before the first
// remote snapshot.
var ErrNotLoaded = errors.New("no remote snapshot loaded")

// Store holds the remote and display snapshots for one board channel.
// Only the coordinator mutates the display view; remote updates arrive
// from the router's dispatch goroutine, so all access is mutex-guarded.
type Store struct {
	logger *slog.Logger

	mu      sync.Mutex
	remote  model.BoardSnapshot
	display model.BoardSnapshot
	loaded  bool
	closed  bool
	pending map[int64]bool
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:  logger,
		pending: make(map[int64]bool),
	}
}

// Display returns a deep copy of the snapshot the UI should render.
// The second return is false until the first remote snapshot arrives.
func (s *Store) Display() (model.BoardSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return model.BoardSnapshot{}, false
	}
	return s.display.Clone(), true
}

// Remote returns a deep copy of the last known-good server snapshot.
func (s *Store) Remote() (model.BoardSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return model.BoardSnapshot{}, false
	}
	return s.remote.Clone(), true
}

// Loaded reports whether a remote snapshot has been applied.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// SetRemote replaces the remote view with a full snapshot, typically
// the initial REST load. Reconciliation against pending mutations is
// the same as for broadcast updates.
func (s *Store) SetRemote(snap model.BoardSnapshot) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.applyLocked(snap.Clone())
}

// ApplyRemote builds a snapshot from a broadcast task list and
// reconciles it into both views. It returns the IDs of pending tasks
// the update actually changed, so the coordinator can record that the
// broadcast won those tasks.
func (s *Store) ApplyRemote(tasks []model.Task, meta model.SnapshotMeta) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.applyLocked(model.NewSnapshot(tasks, meta))
}

// applyLocked always overwrites the remote view. The display view is
// overwritten too, except that pending tasks the update did not change
// keep their speculative version. A pending task the update did change
// takes the remote fields and is reported to the caller.
func (s *Store) applyLocked(snap model.BoardSnapshot) []int64 {
	prev := s.remote
	hadPrev := s.loaded
	s.remote = snap
	display := snap.Clone()

	var changed []int64
	for id := range s.pending {
		incoming := snap.FindTask(id)
		if incoming != nil && (!hadPrev || remoteChanged(prev, *incoming)) {
			changed = append(changed, id)
			continue
		}
		if kept := s.display.FindTask(id); kept != nil {
			display.MergeTask(*kept)
		}
	}

	s.display = display
	s.loaded = true
	slices.Sort(changed)
	return changed
}

// MutateTask clones the display view, applies a change to one task,
// marks it pending, and installs the result, all under one lock, so a
// remote update can never land between the read and the write. It
// returns the new display snapshot and the pre-change snapshot.
func (s *Store) MutateTask(taskID int64, change model.TaskChange) (model.BoardSnapshot, model.BoardSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.loaded {
		return model.BoardSnapshot{}, model.BoardSnapshot{}, ErrNotLoaded
	}

	original := s.display.Clone()
	next := s.display.Clone()
	if err := next.ApplyChange(taskID, change); err != nil {
		return model.BoardSnapshot{}, model.BoardSnapshot{}, err
	}
	next.Metadata.Source = "local"

	s.pending[taskID] = true
	s.display = next
	return next.Clone(), original, nil
}

// ApplySpeculative replaces the display view with a snapshot the
// coordinator computed locally. The remote view is untouched.
func (s *Store) ApplySpeculative(snap model.BoardSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.loaded {
		return
	}
	snap = snap.Clone()
	snap.Metadata.Source = "local"
	s.display = snap
}

// Rollback removes the speculative change for one task by rebasing the
// display view on the current remote snapshot. Broadcasts that arrived
// while the mutation was in flight stay visible, and other pending
// tasks keep their speculative edits. When nothing changed remotely in
// the meantime, the result is value-equal to the pre-mutation display.
func (s *Store) Rollback(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.loaded {
		return
	}

	display := s.remote.Clone()
	for id := range s.pending {
		if id == taskID {
			continue
		}
		if kept := s.display.FindTask(id); kept != nil {
			display.MergeTask(*kept)
		}
	}
	s.display = display
	s.logger.Debug("speculative change rolled back", "task", taskID)
}

// MergeConfirmed copies the fields named by change from a confirmed
// server task into both views. A confirmation is authoritative only
// for the fields the mutation touched, never a full task replacement.
func (s *Store) MergeConfirmed(confirmed model.Task, change model.TaskChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.loaded {
		return nil
	}
	if err := s.display.MergeTaskFields(confirmed, change); err != nil {
		return err
	}
	return s.remote.MergeTaskFields(confirmed, change)
}

// MarkPending records an outstanding speculative mutation on a task.
func (s *Store) MarkPending(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending[id] = true
}

// ClearPending removes the pending marker for a task.
func (s *Store) ClearPending(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// PendingCount returns the number of tasks with outstanding mutations.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close tears the store down. Every subsequent apply is a no-op, so a
// mutation resolving after unmount cannot resurrect state.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = make(map[int64]bool)
}

// remoteChanged reports whether the incoming task differs from its
// counterpart in the previous remote snapshot. A broadcast echoing
// stale state must not count as a change, or it would clobber an
// in-flight local edit.
func remoteChanged(prev model.BoardSnapshot, incoming model.Task) bool {
	old := prev.FindTask(incoming.ID)
	if old == nil {
		return true
	}
	return old.Title != incoming.Title ||
		old.Description != incoming.Description ||
		old.Status != incoming.Status ||
		old.Priority != incoming.Priority ||
		!slices.Equal(old.Dependencies, incoming.Dependencies) ||
		!old.UpdatedAt.Equal(incoming.UpdatedAt)
}
