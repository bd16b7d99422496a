package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/nats-io/nats.go"

	"whosprinting-backend/config"
	"whosprinting-backend/internal/api"
	"whosprinting-backend/internal/db"
	"whosprinting-backend/internal/events"
	"whosprinting-backend/internal/notification"
	"whosprinting-backend/internal/occupancy"
	"whosprinting-backend/internal/store"
	"whosprinting-backend/internal/tag"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "whosprinting ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	hub := events.NewHub(cfg.Plugin.ID, 64)

	if cfg.NATS.URL != "" {
		mirror, err := events.DialNATS(cfg.NATS.URL, cfg.NATS.Subject,
			nats.Name("whosprintingd"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			logger.Fatalf("failed to connect to NATS at %s: %v", cfg.NATS.URL, err)
		}
		defer mirror.Close()
		hub.SetMirror(mirror)
		logger.Printf("mirroring push messages to NATS subject %s", cfg.NATS.Subject)
	}

	// Vacancy notifications need VAPID keys; without them the server runs without web push.
	var webpushOptions *webpush.Options
	var notifier occupancy.Dispatcher
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions)
		pool.Start(ctx)
		notifier = pool
	} else {
		logger.Println("VAPID keys are not configured, web push is disabled")
	}

	occupancySvc := occupancy.NewService(cfg, appStore, hub, notifier)
	tagSvc := tag.NewService(cfg.Tag, appStore, hub, occupancySvc)

	// Initialize router
	router := api.NewRouter(api.Deps{
		Config:    cfg,
		Store:     appStore,
		Occupancy: occupancySvc,
		Tags:      tagSvc,
		Hub:       hub,
		WebPush:   webpushOptions,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
		// Event streams end when ctx is cancelled, so Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
