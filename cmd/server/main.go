package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/yegors/voxdesk/internal/api"
	"github.com/yegors/voxdesk/internal/audio/device"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/internal/realtime"
	"github.com/yegors/voxdesk/internal/realtime/events"
	"github.com/yegors/voxdesk/internal/storage/redis"
	"github.com/yegors/voxdesk/internal/storage/sqlite"
	"github.com/yegors/voxdesk/internal/store"
	"github.com/yegors/voxdesk/internal/websocket"
	"github.com/yegors/voxdesk/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	connect := flag.Bool("connect", false, "Connect to the realtime backend at startup")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting voxdesk server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
		logger.String("storage", cfg.Storage.Backend),
		logger.Bool("audio", cfg.Audio.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create task and calendar storage
	tasks, calendar, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open storage", logger.Error(err))
		os.Exit(1)
	}
	defer closeStores()

	if err := store.Seed(ctx, tasks, cfg.Storage.SeedLists...); err != nil {
		log.Error("Failed to seed task lists", logger.Error(err))
		os.Exit(1)
	}

	// Create audio devices
	deps := realtime.Deps{Tasks: tasks, Calendar: calendar}
	if cfg.Audio.Enabled {
		deps.Source = device.NewMalgoSource(log)
		sink, err := device.NewOtoSink(cfg.Audio.SampleRate, cfg.Audio.PlaybackBufferMs, log)
		if err != nil {
			log.Warn("Speaker unavailable, assistant audio will not be played", logger.Error(err))
		} else {
			deps.Sink = sink
		}
	} else {
		log.Info("Audio devices disabled in configuration")
	}

	// Create the realtime client
	client, err := realtime.NewClient(cfg, deps, log)
	if err != nil {
		log.Error("Failed to create realtime client", logger.Error(err))
		os.Exit(1)
	}
	defer client.Close()

	client.Subscribe(events.KindError, func(e events.Event) {
		log.Warn("Assistant error", logger.Error(e.(events.Error).Err))
	})

	// Create WebSocket server
	wsServer := websocket.NewServer(cfg.Server.CORSAllowedOrigins, log)
	wsServer.SetMessageHandler(api.NewCommandHandler(client))
	go wsServer.Run(ctx)
	unsubscribe := api.StreamEvents(client, wsServer)
	defer unsubscribe()

	if *connect {
		connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Realtime.ConnectTimeout())
		if err := client.Connect(connectCtx); err != nil {
			// Reconnects are scheduled by the session; keep serving
			log.Warn("Initial connect failed", logger.Error(err))
		}
		connectCancel()
	}

	// Create API router
	handler := api.NewHandler(client, tasks, calendar, wsServer, cfg.Realtime.ConnectTimeout(), log)
	router := api.NewRouter(handler, wsServer, cfg.Server.CORSAllowedOrigins, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.String("addr", server.Addr), logger.Error(err))
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")

	log.Info("Disconnecting realtime client...")
	client.Close()

	// Cancel the main context
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Server fully stopped")
}

// openStores opens the configured storage backend. The returned func
// releases it.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.TaskStore, store.CalendarStore, func(), error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		// Ensure the directory exists
		dbDir := filepath.Dir(cfg.Storage.SQLitePath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
		s, err := sqlite.NewStorage(cfg.Storage.SQLitePath, log)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, func() { s.Close() }, nil

	case "redis":
		s, err := redis.NewStorage(ctx, redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			Prefix:   cfg.Storage.RedisPrefix,
		}, log)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, func() { s.Close() }, nil

	default:
		log.Info("Using in-memory storage, tasks are lost on exit")
		m := store.NewMemory()
		return m, m, func() {}, nil
	}
}
