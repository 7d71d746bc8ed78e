package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskboard/boardsync/internal/model"
	"github.com/taskboard/boardsync/internal/router"
)

// eventNamespace seeds content-derived event IDs.
var eventNamespace = uuid.MustParse("7b0cbe34-51c2-4b7a-9ae8-6f1d20c3a5e9")

// Config holds journal settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// Metrics contains journal counters.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// eventRow is one journal record.
type eventRow struct {
	EventID    uuid.UUID
	Event      string
	ChannelKey string
	EventTs    string
	ReceivedAt int64 // microseconds
	Payload    []byte
	Instance   string
}

// Journal consumes dispatched change events and writes them to the
// change_events table in batches.
type Journal struct {
	cfg        Config
	logger     *slog.Logger
	instanceID string

	// Input decouples the router's dispatch goroutine from flushes.
	input *router.GrowableBuffer[model.ChangeEvent]

	db *pgxpool.Pool

	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	detaches []func()

	metrics Metrics
}

// NewJournal creates a journal writing to the given pool.
func NewJournal(cfg Config, instanceID string, db *pgxpool.Pool, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		cfg:        cfg,
		logger:     logger,
		instanceID: instanceID,
		input:      router.NewGrowableBuffer[model.ChangeEvent](cfg.BatchSize),
		db:         db,
		batch:      make([]eventRow, 0, cfg.BatchSize),
	}
}

// Attach subscribes the journal to every event a router dispatches.
// One journal may observe several channel routers.
func (j *Journal) Attach(r *router.Router) {
	detach := r.SubscribeAll(func(ev model.ChangeEvent) {
		j.input.Send(ev)
	})
	j.detaches = append(j.detaches, detach)
}

// Start begins consuming events and writing batches.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.flushTicker = time.NewTicker(j.cfg.FlushInterval)

	j.wg.Add(1)
	go j.consumeLoop()

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("change-event journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts the journal down and flushes what remains.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping change-event journal")

	for _, detach := range j.detaches {
		detach()
	}
	if j.cancel != nil {
		j.cancel()
	}
	if j.flushTicker != nil {
		j.flushTicker.Stop()
	}
	j.input.Close()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		j.logger.Info("change-event journal stopped")
	case <-ctx.Done():
		j.logger.Warn("change-event journal stop timed out")
	}

	// Final flush runs on the caller's context; j.ctx is already gone.
	j.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (j *Journal) Stats() Metrics {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (j *Journal) consumeLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		default:
			ev, ok := j.input.TryReceive()
			if !ok {
				select {
				case <-j.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			j.handleEvent(ev)
		}
	}
}

// flushLoop periodically flushes the batch.
func (j *Journal) flushLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-j.flushTicker.C:
			j.flush(j.ctx)
		}
	}
}

// handleEvent transforms and adds an event to the batch.
func (j *Journal) handleEvent(ev model.ChangeEvent) {
	row := j.transform(ev, time.Now())

	j.batchMu.Lock()
	j.batch = append(j.batch, row)
	shouldFlush := len(j.batch) >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if shouldFlush {
		j.flush(j.ctx)
	}
}

// transform converts a ChangeEvent to an eventRow. The event ID is
// derived from the event content so the same broadcast journals once.
func (j *Journal) transform(ev model.ChangeEvent, receivedAt time.Time) eventRow {
	fingerprint := fmt.Sprintf("%s|%s|%s|%s", ev.Event, ev.ChannelKey, ev.Timestamp, ev.Payload)
	return eventRow{
		EventID:    uuid.NewSHA1(eventNamespace, []byte(fingerprint)),
		Event:      string(ev.Event),
		ChannelKey: ev.ChannelKey,
		EventTs:    ev.Timestamp,
		ReceivedAt: receivedAt.UnixMicro(),
		Payload:    []byte(ev.Payload),
		Instance:   j.instanceID,
	}
}

// flush writes the current batch to the database.
func (j *Journal) flush(ctx context.Context) {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]eventRow, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	conflicts, err := j.batchInsert(ctx, batch)
	if err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.metrics.Errors++
		j.batchMu.Unlock()
		return
	}

	j.batchMu.Lock()
	j.metrics.Inserts += int64(len(batch) - conflicts)
	j.metrics.Conflicts += int64(conflicts)
	j.metrics.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed change events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (j *Journal) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO change_events (event_id, event, channel_key, event_ts, received_at, payload, instance)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (event_id) DO NOTHING
		`, r.EventID, r.Event, r.ChannelKey, r.EventTs, r.ReceivedAt, r.Payload, r.Instance)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
