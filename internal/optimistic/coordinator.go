package optimistic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskboard/boardsync/internal/board"
	"github.com/taskboard/boardsync/internal/model"
	"github.com/taskboard/boardsync/internal/notify"
	"github.com/taskboard/boardsync/internal/router"
)

// Coordinator applies speculative mutations for one board channel and
// reconciles them against server confirmations and remote broadcasts.
type Coordinator struct {
	cfg    Config
	store  *board.Store
	api    TaskAPI
	sink   notify.Sink
	logger *slog.Logger

	mu      sync.Mutex
	pending map[int64]*PendingMutation
	closed  bool

	results chan MutationResult
	wg      sync.WaitGroup
	detach  func()
}

// NewCoordinator creates a coordinator for one channel. A nil sink
// falls back to the log sink.
func NewCoordinator(cfg Config, store *board.Store, api TaskAPI, sink notify.Sink, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("channel", cfg.ChannelKey)
	if sink == nil {
		sink = notify.NewLogSink(logger)
	}
	if cfg.MutationTimeout <= 0 {
		cfg.MutationTimeout = DefaultConfig(cfg.ChannelKey).MutationTimeout
	}
	if cfg.ResultsBuffer <= 0 {
		cfg.ResultsBuffer = DefaultConfig(cfg.ChannelKey).ResultsBuffer
	}
	return &Coordinator{
		cfg:     cfg,
		store:   store,
		api:     api,
		sink:    sink,
		logger:  logger,
		pending: make(map[int64]*PendingMutation),
		results: make(chan MutationResult, cfg.ResultsBuffer),
	}
}

// Attach subscribes the coordinator to task broadcasts for its channel.
func (c *Coordinator) Attach(r *router.Router) {
	c.detach = r.Subscribe(model.EventTasksUpdated, c.cfg.ChannelKey, c.HandleEvent)
}

// Results reports resolved mutations. The channel is closed by Stop.
func (c *Coordinator) Results() <-chan MutationResult {
	return c.results
}

// PendingCount returns the number of unresolved mutations.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Mutate applies change to the task speculatively and returns the new
// display snapshot immediately. The confirming remote call runs in the
// background; its resolution arrives on Results.
func (c *Coordinator) Mutate(ctx context.Context, taskID int64, change model.TaskChange) (model.BoardSnapshot, error) {
	if change.IsZero() {
		return model.BoardSnapshot{}, ErrEmptyChange
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return model.BoardSnapshot{}, ErrClosed
	}

	// The store applies the change, marks the task pending, and
	// installs the new display view under a single lock, so a broadcast
	// dispatched concurrently is never clobbered by a stale read.
	speculative, original, err := c.store.MutateTask(taskID, change)
	if err != nil {
		if errors.Is(err, board.ErrNotLoaded) {
			return model.BoardSnapshot{}, ErrNoSnapshot
		}
		return model.BoardSnapshot{}, err
	}

	if prev, exists := c.pending[taskID]; exists {
		// Supersede: the earlier mutation's resolution no longer
		// touches the store. The new change is applied on top of the
		// current display state, so its rollback target includes the
		// earlier speculative edit.
		c.logger.Info("pending mutation superseded",
			"task", taskID,
			"mutation", prev.ID,
		)
	}

	p := &PendingMutation{
		ID:          uuid.New(),
		TaskID:      taskID,
		Applied:     change,
		Original:    original,
		SubmittedAt: time.Now(),
	}
	c.pending[taskID] = p

	c.wg.Add(1)
	go c.confirm(p)

	return speculative, nil
}

// HandleEvent feeds a TASKS_UPDATED broadcast into the store and marks
// any pending mutation whose task the broadcast changed, so a later
// confirmation does not overwrite broadcast-won fields.
func (c *Coordinator) HandleEvent(ev model.ChangeEvent) {
	payload, err := ev.DecodeTasksPayload()
	if err != nil {
		c.logger.Warn("broadcast payload dropped", "error", err)
		return
	}

	meta := model.SnapshotMeta{
		ChannelKey:  ev.ChannelKey,
		GeneratedAt: time.Now(),
		Source:      "ws",
	}
	changed := c.store.ApplyRemote(payload.Tasks, meta)

	c.mu.Lock()
	for _, id := range changed {
		if p, ok := c.pending[id]; ok {
			p.broadcastSeen = true
			c.logger.Debug("broadcast won pending task", "task", id, "mutation", p.ID)
		}
	}
	c.mu.Unlock()
}

// Stop detaches from the router, rejects further mutations, waits for
// in-flight confirmations up to the context deadline, and closes the
// results channel.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.detach != nil {
		c.detach()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(c.results)
		c.logger.Info("coordinator stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("coordinator stop timed out with mutations in flight")
		// Close the results channel once the stragglers resolve, so
		// drain goroutines still terminate.
		go func() {
			<-done
			close(c.results)
		}()
		return ctx.Err()
	}
}

// confirm issues the remote call for one pending mutation and resolves
// it against the store.
func (c *Coordinator) confirm(p *PendingMutation) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.MutationTimeout)
	defer cancel()

	var confirmed model.Task
	var err error
	if p.Applied.StatusOnly() {
		confirmed, err = c.api.UpdateTaskStatus(ctx, p.TaskID, *p.Applied.Status, c.cfg.ChannelKey)
	} else {
		confirmed, err = c.api.UpdateTask(ctx, p.TaskID, p.Applied, c.cfg.ChannelKey)
	}

	elapsed := time.Since(p.SubmittedAt)

	c.mu.Lock()
	cur, active := c.pending[p.TaskID]
	if !active || cur.ID != p.ID {
		c.mu.Unlock()
		c.emit(MutationResult{
			MutationID: p.ID,
			TaskID:     p.TaskID,
			Outcome:    OutcomeSuperseded,
			Err:        err,
			Elapsed:    elapsed,
		})
		return
	}
	delete(c.pending, p.TaskID)
	broadcastSeen := p.broadcastSeen
	c.mu.Unlock()

	c.store.ClearPending(p.TaskID)

	if err != nil {
		c.resolveFailure(p, err, elapsed)
		return
	}

	if broadcastSeen {
		c.logger.Debug("confirmation skipped, broadcast already applied",
			"task", p.TaskID,
			"mutation", p.ID,
		)
	} else if mergeErr := c.store.MergeConfirmed(confirmed, p.Applied); mergeErr != nil {
		c.logger.Warn("confirmation merge failed", "task", p.TaskID, "error", mergeErr)
	}

	c.sink.Notify(context.Background(), notify.LevelSuccess,
		fmt.Sprintf("Task %d updated", p.TaskID))
	c.emit(MutationResult{
		MutationID: p.ID,
		TaskID:     p.TaskID,
		Outcome:    OutcomeConfirmed,
		Confirmed:  confirmed,
		Elapsed:    elapsed,
	})
}

// resolveFailure removes the task's speculative change from the store.
// No automatic retry; the caller decides.
func (c *Coordinator) resolveFailure(p *PendingMutation, err error, elapsed time.Duration) {
	outcome := OutcomeRolledBack
	level := notify.LevelError
	message := fmt.Sprintf("Task %d update failed, change reverted", p.TaskID)
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = OutcomeTimedOut
		level = notify.LevelWarning
		message = fmt.Sprintf("Task %d update timed out, change reverted", p.TaskID)
	}

	c.store.Rollback(p.TaskID)
	c.logger.Warn("mutation rolled back",
		"task", p.TaskID,
		"mutation", p.ID,
		"outcome", outcome,
		"error", err,
	)

	c.sink.Notify(context.Background(), level, message)
	c.emit(MutationResult{
		MutationID: p.ID,
		TaskID:     p.TaskID,
		Outcome:    outcome,
		Err:        err,
		Elapsed:    elapsed,
	})
}

// emit delivers a result without ever blocking a confirm goroutine.
func (c *Coordinator) emit(res MutationResult) {
	select {
	case c.results <- res:
	default:
		c.logger.Warn("results channel full, dropping result",
			"task", res.TaskID,
			"outcome", res.Outcome,
		)
	}
}
