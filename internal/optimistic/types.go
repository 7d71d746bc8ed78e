package optimistic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/taskboard/boardsync/internal/model"
)

var (
	// ErrNoSnapshot is returned when a mutation arrives before any
	// remote snapshot has loaded. A caller error, not a subsystem fault.
	ErrNoSnapshot = errors.New("no board snapshot available to mutate")

	// ErrEmptyChange is returned for a change that names no fields.
	ErrEmptyChange = errors.New("mutation changes no fields")

	// ErrClosed is returned once the coordinator has been stopped.
	ErrClosed = errors.New("coordinator is closed")
)

// TaskAPI is the confirming remote call surface the coordinator needs.
// Implemented by api.Client.
type TaskAPI interface {
	UpdateTaskStatus(ctx context.Context, taskID int64, status model.TaskStatus, channelKey string) (model.Task, error)
	UpdateTask(ctx context.Context, taskID int64, change model.TaskChange, channelKey string) (model.Task, error)
}

// Config holds coordinator settings.
type Config struct {
	ChannelKey      string
	MutationTimeout time.Duration // bounds each confirming call
	ResultsBuffer   int
}

// DefaultConfig returns sensible defaults for a channel.
func DefaultConfig(channelKey string) Config {
	return Config{
		ChannelKey:      channelKey,
		MutationTimeout: 15 * time.Second,
		ResultsBuffer:   64,
	}
}

// PendingMutation tracks one speculative change between the moment it
// is applied and the moment its server response is observed.
type PendingMutation struct {
	ID          uuid.UUID
	TaskID      int64
	Applied     model.TaskChange
	Original    model.BoardSnapshot
	SubmittedAt time.Time

	// broadcastSeen is set when a remote broadcast changed this task
	// before the confirmation arrived. The confirmation then becomes
	// advisory only.
	broadcastSeen bool
}

// Outcome classifies how a mutation resolved.
type Outcome string

const (
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeTimedOut   Outcome = "timed_out"
	OutcomeSuperseded Outcome = "superseded"
)

// MutationResult reports one resolved mutation to the UI layer.
type MutationResult struct {
	MutationID uuid.UUID
	TaskID     int64
	Outcome    Outcome
	Confirmed  model.Task // valid when Outcome is confirmed
	Err        error      // set for rolled_back and timed_out
	Elapsed    time.Duration
}
