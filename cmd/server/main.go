// Session broker for the computer-use agent backend.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sohaibb98/sohaib-energent-task/internal/agent"
	"github.com/Sohaibb98/sohaib-energent-task/internal/api"
	"github.com/Sohaibb98/sohaib-energent-task/internal/config"
	"github.com/Sohaibb98/sohaib-energent-task/internal/hub"
	"github.com/Sohaibb98/sohaib-energent-task/internal/middleware"
	"github.com/Sohaibb98/sohaib-energent-task/internal/session"
	"github.com/Sohaibb98/sohaib-energent-task/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Agent executor (optional): delegates to the computer-use demo
	// running in its own container.
	var executor agent.Executor
	if cfg.AgentEnabled() {
		dockerExecutor, err := agent.NewDockerExecutor(cfg.AgentContainer, cfg.AgentCommand, cfg.AgentTimeout)
		if err != nil {
			slog.Warn("Failed to initialize agent executor, agent features will be disabled", "error", err)
		} else {
			defer func() {
				if closeErr := dockerExecutor.Close(); closeErr != nil {
					slog.Error("Failed to close agent executor", "error", closeErr)
				}
			}()
			executor = dockerExecutor
		}
	}
	if executor == nil {
		slog.Info("Agent invocations disabled (AGENT_CONTAINER not set or docker unavailable)")
	}

	// Initialize services.
	streamHub := hub.New()
	svc := session.NewService(repo, streamHub, executor)

	// Initialize handlers.
	sessionHandler := api.NewSessionHandler(svc)
	streamHandler := api.NewStreamHandler(svc, cfg.FrontendURL, cfg.IsDevelopment())
	healthHandler := api.NewHealthHandler(repo, cfg.HealthCheckTimeout)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	corsOrigins := []string{cfg.FrontendURL}
	if cfg.IsDevelopment() {
		corsOrigins = []string{"*"}
	}
	r.Use(middleware.CORS(corsOrigins))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)
	streamHandler.RegisterRoutes(r)

	// Create server.
	// Note: stream connections stay open indefinitely, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Let in-flight agent invocations persist their final messages.
	svc.Wait()

	slog.Info("Server stopped successfully")
}
