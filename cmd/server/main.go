package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/perfdesk/eventcore/internal/api"
	"github.com/perfdesk/eventcore/internal/command"
	"github.com/perfdesk/eventcore/internal/config"
	"github.com/perfdesk/eventcore/internal/domain"
	"github.com/perfdesk/eventcore/internal/eventbus"
	"github.com/perfdesk/eventcore/internal/eventstore"
	"github.com/perfdesk/eventcore/internal/goal"
	"github.com/perfdesk/eventcore/internal/outbox"
	"github.com/perfdesk/eventcore/internal/projection"
	"github.com/perfdesk/eventcore/internal/query"
	"github.com/perfdesk/eventcore/internal/saga"
	"github.com/perfdesk/eventcore/internal/sqlite"
)

type envConfig struct {
	Addr       string `env:"ADDR" envDefault:":8080"`
	ConfigPath string `env:"CONFIG_PATH" envDefault:"configs/kernel.yaml"`
	DBPath     string `env:"DB_PATH" envDefault:"eventcore.db"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		slog.Error("failed to parse environment", "err", err)
		os.Exit(1)
	}

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(envCfg.ConfigPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage ───────────────────────────────────────────────────────────────
	db, err := sqlite.Open(ctx, envCfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "err", err, "path", envCfg.DBPath)
		os.Exit(1)
	}
	defer db.Close()

	// ── Buses ─────────────────────────────────────────────────────────────────
	commands := command.NewBus(command.NewSQLiteIdempotencyStore(db))
	commands.Use(command.NewLoggingMiddleware(logger))
	commands.Use(command.MetadataMiddleware{})
	queries := query.NewBus()
	events := eventbus.NewBus(logger)

	// ── Subscribers ───────────────────────────────────────────────────────────
	projections := projection.NewManager()
	if err := projections.Register(goal.ActiveGoalCount{}); err != nil {
		slog.Error("failed to register projection", "err", err)
		os.Exit(1)
	}
	sagas := saga.NewManager(commands, logger)
	if err := sagas.Register(goal.CompletionReviewSaga{}); err != nil {
		slog.Error("failed to register saga", "err", err)
		os.Exit(1)
	}
	events.Subscribe(projections)
	events.Subscribe(sagas)

	// ── Goal context ──────────────────────────────────────────────────────────
	repo := goal.NewSQLiteRepository(db)
	if err := goal.NewHandlers(repo).Register(commands, queries, projections); err != nil {
		slog.Error("failed to register goal handlers", "err", err)
		os.Exit(1)
	}
	// Review side is a stub until the review context lands: acknowledge the
	// request and hand back a review id.
	err = commands.Register(goal.CmdRequestReview, func(ctx context.Context, cmd command.Command) domain.Result[any] {
		reviewID := uuid.New().String()
		slog.Info("review_requested",
			"review_id", reviewID,
			"goal_id", cmd.Payload["goal_id"],
			"owner_id", cmd.Payload["owner_id"],
		)
		return domain.Ok[any](map[string]any{"review_id": reviewID})
	})
	if err != nil {
		slog.Error("failed to register review handler", "err", err)
		os.Exit(1)
	}

	// ── Outbox processor ──────────────────────────────────────────────────────
	outboxStore := outbox.NewSQLiteStore(db)
	processor := outbox.NewProcessor(outboxStore, outbox.BusPublisher{Bus: events}, logger, outbox.SettingsFromConfig(cfg.Outbox))
	processor.Start(ctx)

	// Replay the full event history so projections start warm.
	history, err := eventstore.NewSQLiteStore(db).AllEvents(ctx)
	if err != nil {
		slog.Error("failed to replay event history", "err", err)
		os.Exit(1)
	}
	for _, ev := range history {
		projections.HandleEvent(ev)
	}
	slog.Info("projections_warmed", "events", len(history))

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := config.Validate(newCfg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		processor.SwapSettings(outbox.SettingsFromConfig(newCfg.Outbox))
		slog.Info("outbox settings hot-reloaded",
			"poll_interval_ms", newCfg.Outbox.PollIntervalMs,
			"batch_size", newCfg.Outbox.BatchSize,
			"max_retries", newCfg.Outbox.MaxRetries,
		)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(commands, queries, processor, outboxStore, loader)
	srv := &http.Server{
		Addr:         envCfg.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", envCfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	processor.Stop()
	cancel()
	slog.Info("goodbye")
}
