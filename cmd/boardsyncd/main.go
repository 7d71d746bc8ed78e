package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskboard/boardsync/internal/api"
	"github.com/taskboard/boardsync/internal/board"
	"github.com/taskboard/boardsync/internal/config"
	"github.com/taskboard/boardsync/internal/connection"
	"github.com/taskboard/boardsync/internal/database"
	"github.com/taskboard/boardsync/internal/history"
	"github.com/taskboard/boardsync/internal/notify"
	"github.com/taskboard/boardsync/internal/optimistic"
	"github.com/taskboard/boardsync/internal/router"
	"github.com/taskboard/boardsync/internal/version"
)

// channelRuntime is the full sync stack for one board channel.
type channelRuntime struct {
	key     string
	manager *connection.Manager
	router  *router.Router
	store   *board.Store
	coord   *optimistic.Coordinator
}

func main() {
	configPath := flag.String("config", "configs/boardsync.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting boardsync",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.RestURL,
		"ws_url", cfg.Sync.WSURL,
		"channels", len(cfg.Channels),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create API client
	apiClient := api.NewClient(
		cfg.API.RestURL,
		cfg.API.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	// Optional change-event journal
	var pool *pgxpool.Pool
	var journal *history.Journal
	if cfg.Journal != nil {
		logger.Info("connecting to journal database",
			"host", cfg.Journal.Database.Host,
			"port", cfg.Journal.Database.Port,
			"database", cfg.Journal.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			logger.Error("failed to connect to journal database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		journal = history.NewJournal(history.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
		}, cfg.Instance.ID, pool, logger)
		if err := journal.Start(ctx); err != nil {
			logger.Error("failed to start journal", "error", err)
			os.Exit(1)
		}
		logger.Info("change-event journal enabled")
	}

	sink := notify.NewLogSink(logger)

	// Build the per-channel sync stacks
	channels := make([]*channelRuntime, 0, len(cfg.Channels))
	for _, key := range cfg.Channels {
		ch, err := buildChannel(ctx, cfg, key, apiClient, sink, journal, logger)
		if err != nil {
			logger.Error("failed to build channel", "channel", key, "error", err)
			os.Exit(1)
		}
		channels = append(channels, ch)
	}

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg.Health.Path, channels, pool, journal),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port, "path", cfg.Health.Path)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Connect everything
	for _, ch := range channels {
		if cfg.Sync.AutoConnectEnabled() {
			ch.manager.Connect()
		}
	}

	logger.Info("boardsync running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	for _, ch := range channels {
		if err := ch.coord.Stop(shutdownCtx); err != nil {
			logger.Warn("coordinator stop", "channel", ch.key, "error", err)
		}
		if err := ch.router.Stop(shutdownCtx); err != nil {
			logger.Warn("router stop", "channel", ch.key, "error", err)
		}
		ch.manager.Disconnect()
		ch.store.Close()
	}

	if journal != nil {
		if err := journal.Stop(shutdownCtx); err != nil {
			logger.Warn("journal stop", "error", err)
		}
	}

	healthServer.Shutdown(shutdownCtx)

	logger.Info("boardsync stopped")
}

// buildChannel wires the manager, router, store, and coordinator for
// one channel key and loads the initial board over REST.
func buildChannel(
	ctx context.Context,
	cfg *config.Config,
	key string,
	apiClient *api.Client,
	sink notify.Sink,
	journal *history.Journal,
	logger *slog.Logger,
) (*channelRuntime, error) {
	chLogger := logger.With("channel", key)

	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.URL = cfg.Sync.WSURL
	mgrCfg.ReconnectInterval = cfg.Sync.ReconnectInterval
	mgrCfg.MaxReconnectAttempts = cfg.Sync.MaxReconnectAttempts
	mgrCfg.HeartbeatInterval = cfg.Sync.HeartbeatInterval
	mgrCfg.BufferSize = cfg.Sync.BufferSize
	manager := connection.NewManager(mgrCfg, chLogger)

	r := router.New(router.Config{BufferSize: cfg.Sync.BufferSize}, chLogger)
	if err := r.Start(ctx); err != nil {
		return nil, fmt.Errorf("start router: %w", err)
	}
	r.Attach(manager)

	store := board.NewStore(chLogger)

	coordCfg := optimistic.DefaultConfig(key)
	coordCfg.MutationTimeout = cfg.Sync.MutationTimeout
	coord := optimistic.NewCoordinator(coordCfg, store, apiClient, sink, chLogger)
	coord.Attach(r)

	if journal != nil {
		journal.Attach(r)
	}

	// Ask the server for fresh channel state on every connect, so a
	// reconnect after missed broadcasts converges again.
	manager.OnStateChange(func(old, new connection.State) {
		if new == connection.StateConnected {
			manager.RequestRefresh(key)
		}
	})

	// Drain mutation results for operator visibility.
	go func() {
		for res := range coord.Results() {
			chLogger.Info("mutation resolved",
				"task", res.TaskID,
				"outcome", res.Outcome,
				"elapsed", res.Elapsed,
			)
		}
	}()

	// Initial board load. A failure is not fatal; the first broadcast
	// or refresh response fills the store.
	snap, err := apiClient.GetBoard(ctx, key)
	if err != nil {
		chLogger.Warn("initial board load failed", "error", err)
	} else {
		store.SetRemote(snap)
		chLogger.Info("initial board loaded", "tasks", len(snap.Tasks))
	}

	return &channelRuntime{
		key:     key,
		manager: manager,
		router:  r,
		store:   store,
		coord:   coord,
	}, nil
}

// createHealthHandler reports per-channel connection and store health.
func createHealthHandler(path string, channels []*channelRuntime, pool *pgxpool.Pool, journal *history.Journal) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status   string         `json:"status"`
			Channels map[string]any `json:"channels"`
			Journal  any            `json:"journal,omitempty"`
		}{
			Status:   "healthy",
			Channels: make(map[string]any),
		}

		for _, ch := range channels {
			stats := ch.manager.Stats()
			routerStats := ch.router.Stats()
			health.Channels[ch.key] = map[string]any{
				"state":            stats.State,
				"retries":          stats.RetryCount,
				"messages":         stats.MessagesSeen,
				"events":           routerStats.EventsDispatched,
				"parse_errors":     routerStats.ParseErrors,
				"board_loaded":     ch.store.Loaded(),
				"pending_mutation": ch.coord.PendingCount(),
			}
			switch stats.State {
			case connection.StateError:
				health.Status = "unhealthy"
			case connection.StateConnected:
			default:
				if health.Status == "healthy" {
					health.Status = "degraded"
				}
			}
		}

		if pool != nil {
			journalHealth := map[string]any{"database": "connected"}
			if err := pool.Ping(ctx); err != nil {
				journalHealth["database"] = "disconnected"
				journalHealth["error"] = err.Error()
				health.Status = "unhealthy"
			}
			if journal != nil {
				stats := journal.Stats()
				journalHealth["inserts"] = stats.Inserts
				journalHealth["errors"] = stats.Errors
			}
			health.Journal = journalHealth
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
