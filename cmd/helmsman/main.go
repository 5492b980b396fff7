package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/helmsmanhq/helmsman/internal/adapter/gitcli"
	"github.com/helmsmanhq/helmsman/internal/adapter/github"
	hmhttp "github.com/helmsmanhq/helmsman/internal/adapter/http"
	"github.com/helmsmanhq/helmsman/internal/adapter/neon"
	hmnats "github.com/helmsmanhq/helmsman/internal/adapter/nats"
	hmotel "github.com/helmsmanhq/helmsman/internal/adapter/otel"
	"github.com/helmsmanhq/helmsman/internal/adapter/plancache"
	"github.com/helmsmanhq/helmsman/internal/adapter/postgres"
	hmristretto "github.com/helmsmanhq/helmsman/internal/adapter/ristretto"
	"github.com/helmsmanhq/helmsman/internal/adapter/slack"
	"github.com/helmsmanhq/helmsman/internal/adapter/ws"
	"github.com/helmsmanhq/helmsman/internal/config"
	"github.com/helmsmanhq/helmsman/internal/git"
	"github.com/helmsmanhq/helmsman/internal/logger"
	"github.com/helmsmanhq/helmsman/internal/port/notifier"
	"github.com/helmsmanhq/helmsman/internal/resilience"
	"github.com/helmsmanhq/helmsman/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownOtel, err := hmotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := hmotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	store := postgres.NewStore(pool)
	jrnl := postgres.NewJournal(pool)

	// NATS JetStream
	queue, err := hmnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	// Plan cache in front of the plan store.
	cache, err := hmristretto.New(cfg.Cache.MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()
	plans := plancache.New(store, cache, cfg.Cache.PlanTTL)

	// Local git workspace with bounded CLI concurrency.
	gitPool := git.NewPool(cfg.Git.MaxConcurrent)
	workspace := gitcli.NewWorkspace(gitPool, nil)

	// Hosting provider, preview database branching, notifications.
	provider := github.NewProvider()
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	branches := neon.NewProvider(cfg.Preview, breaker)
	var notify notifier.Notifier
	if cfg.Slack.WebhookURL != "" {
		notify = slack.NewNotifier(cfg.Slack.WebhookURL)
	}

	// --- Services ---
	hub := ws.NewHub()

	dispatcher := service.NewDispatcher(queue, store, cfg.Pipeline)
	gates := service.NewGateClient(queue, cfg.Pipeline)
	autofix := service.NewAutoFix(dispatcher, gates, store, jrnl, store, notify, hub)
	gate := service.NewQualityGate(gates, dispatcher, autofix, store, jrnl, store, hub, cfg.Pipeline)
	aggregator := service.NewAggregator(workspace, store, jrnl, store)
	previewer := service.NewPreviewer(gates, branches, store, jrnl, store, cfg.Pipeline)
	publisher := service.NewPublisher(provider, store, jrnl, store)
	completion := service.NewCompletion(queue, provider, gates, store, jrnl, store, notify, cfg.Pipeline)
	executor := service.NewExecutor(store, plans, workspace, dispatcher, gate, aggregator,
		previewer, publisher, completion, jrnl, store, hub, metrics, cfg.Git)
	completion.SetPhaseRunner(executor)

	// Subscribers for worker completions and gate results.
	cancelCompletions, err := dispatcher.StartCompletionSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("completion subscriber: %w", err)
	}
	defer cancelCompletions()

	cancelResults, err := gates.StartResultSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("gate result subscribers: %w", err)
	}
	defer cancelResults()

	// Zombie task watchdog.
	watchdogCtx, stopWatchdog := context.WithCancel(ctx)
	defer stopWatchdog()
	watchdog := service.NewWatchdog(store, store, cfg.Watchdog)
	go watchdog.Run(watchdogCtx)

	// --- HTTP ---
	handlers := hmhttp.NewHandlers(store, plans, store, executor)

	r := chi.NewRouter()
	r.Use(hmhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(hmhttp.SecurityHeaders)
	r.Use(hmhttp.Logger)
	r.Use(hmotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", healthHandler(queue, hub))
	r.Get("/ws", hub.HandleWS)
	hmhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func healthHandler(queue *hmnats.Queue, hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"status":     "ok",
			"nats":       queue.IsConnected(),
			"ws_clients": hub.ConnectionCount(),
			"time":       time.Now().UTC().Format(time.RFC3339),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	}
}
