// Package main is the entry point for the room calendar sync server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/room-booking/backend/internal/api"
	"github.com/room-booking/backend/internal/api/handlers"
	"github.com/room-booking/backend/internal/config"
	"github.com/room-booking/backend/internal/graph"
	"github.com/room-booking/backend/internal/logging"
	"github.com/room-booking/backend/internal/notification"
	"github.com/room-booking/backend/internal/storage"
	"github.com/room-booking/backend/internal/subscription"
	"github.com/room-booking/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// historyPruneInterval is how often the lifecycle log is trimmed.
const historyPruneInterval = time.Hour

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to a YAML config file")
	healthCheck := pflag.Bool("health-check", false, "Run health check against a running server and exit")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Health check mode for container HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Server.Addr); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting room calendar sync", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	db, err := storage.NewDB(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	logger.Info("database opened", "path", db.Path())

	if err := storage.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	tokens := storage.NewTokenRepository(db)
	history := storage.NewSubscriptionLogRepository(db)

	hub := websocket.NewHub(logger)
	go hub.Run()

	provider := graph.NewClient(graph.Config{
		BaseURL: cfg.Graph.BaseURL,
		Timeout: cfg.Graph.Timeout,
	})

	store := subscription.NewStore()
	manager := subscription.NewManager(store, provider, tokens, hub, subscription.Config{
		NotificationURL: cfg.Subscription.NotificationURL,
		Lifetime:        cfg.Subscription.Lifetime,
		ClientState:     cfg.Subscription.ClientState,
		DefaultUserID:   cfg.Subscription.DefaultUserID,
		CallTimeout:     cfg.Subscription.CallTimeout,
	}, logger)
	manager.SetHistory(history)

	notifications := notification.NewRouter(store, provider, tokens,
		websocket.NewEventBroadcaster(hub, logger),
		notification.Config{
			ClientState:   cfg.Subscription.ClientState,
			DefaultUserID: cfg.Subscription.DefaultUserID,
			FetchTimeout:  cfg.Subscription.CallTimeout,
		}, logger)

	interval, err := cfg.SweepInterval()
	if err != nil {
		return err
	}
	scheduler := subscription.NewScheduler(manager, interval, logger)
	if err := scheduler.Every(ctx, historyPruneInterval, "history-prune", func(ctx context.Context) {
		pruned, err := history.Prune(ctx, cfg.Subscription.HistoryKeep)
		if err != nil {
			logger.Warn("failed to prune subscription history", "error", err)
			return
		}
		if pruned > 0 {
			logger.Info("subscription history pruned", "entries", pruned)
		}
	}); err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	dispatcher := websocket.NewDispatcher()
	handlers.RegisterRoomCommands(dispatcher, hub, manager)

	router := api.NewRouter(api.Services{
		DB:            db,
		Hub:           hub,
		Dispatcher:    dispatcher,
		Subscriptions: manager,
		Scheduler:     scheduler,
		Notifications: notifications,
		Tokens:        tokens,
		History:       history,
		AllowedOrigin: cfg.Server.AllowedOrigin,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr, "sweep_interval", interval)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	scheduler.Stop()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown server: %w", err))
	}

	// Release provider subscriptions so nothing keeps delivering to a
	// stopped process.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("release subscriptions: %w", err))
	}
	notifications.Wait()
	hub.Stop()

	logger.Info("server stopped")
	return errors.Join(errs...)
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + host + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
