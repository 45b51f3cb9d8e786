package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reminderd/internal/ai"
	"reminderd/internal/config"
	"reminderd/internal/database"
	"reminderd/internal/dispatch"
	"reminderd/internal/gateway"
	"reminderd/internal/httpapi"
	"reminderd/internal/repository"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate required config
	if cfg.DatabaseURI == "" {
		log.Fatal("DATABASE_URI is required")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	// Run migrations
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	// Pick the delivery driver
	gw, err := newGateway(cfg)
	if err != nil {
		log.Fatalf("Failed to create %s gateway: %v", cfg.Gateway, err)
	}
	log.Printf("Delivery gateway: %s", cfg.Gateway)

	// Initialize AI client (optional)
	var aiClient *ai.Client
	if cfg.AIAPIKey != "" {
		aiClient = ai.New(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel)
		log.Printf("AI client initialized (model: %s)", cfg.AIModel)
	} else {
		log.Println("AI client not configured, natural language parsing uses the fallback")
	}

	// Create repositories
	reminderRepo := repository.NewReminderRepository(db)
	tokenRepo := repository.NewDeviceTokenRepository(db)

	// Create and start the dispatcher
	sweeper := dispatch.New(reminderRepo, tokenRepo, gw, cfg.SweepInterval)
	go sweeper.Start(ctx)

	router := httpapi.NewRouter(httpapi.Deps{
		Reminders:          reminderRepo,
		Tokens:             tokenRepo,
		Sweeper:            sweeper,
		AI:                 aiClient,
		DefaultTime:        cfg.DefaultTime,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}
	}()

	log.Printf("Listening on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server error: %v", err)
	}
}

func newGateway(cfg *config.Config) (gateway.Gateway, error) {
	switch cfg.Gateway {
	case "fcm":
		if cfg.FCMServerKey == "" {
			return nil, errors.New("FCM_SERVER_KEY is required")
		}
		return gateway.NewFCM(cfg.FCMServerKey), nil
	case "telegram":
		if cfg.TelegramToken == "" {
			return nil, errors.New("TELEGRAM_TOKEN is required")
		}
		return gateway.NewTelegram(cfg.TelegramToken)
	case "console", "":
		return gateway.NewConsole(), nil
	default:
		return nil, errors.New("unknown gateway " + cfg.Gateway)
	}
}
