// Echos Of Me - Persona Chat Server
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

	"github.com/echosofme/echos-server/internal/api"
	"github.com/echosofme/echos-server/internal/chat"
	"github.com/echosofme/echos-server/internal/config"
	"github.com/echosofme/echos-server/internal/engine"
	"github.com/echosofme/echos-server/internal/identity"
	"github.com/echosofme/echos-server/internal/inference"
	"github.com/echosofme/echos-server/internal/middleware"
	"github.com/echosofme/echos-server/internal/session"
	"github.com/echosofme/echos-server/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLogger := config.SetupLogger(cfg.LogFile, slog.LevelInfo)
	slog.SetDefault(logger)
	defer func() {
		if err := closeLogger(); err != nil {
			slog.Error("Failed to close log file", "error", err)
		}
	}()

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize the inference runner. A failed setup degrades to fallback
	// synthesis instead of killing the server.
	var inferClient inference.Client
	var engineMgr engine.Manager
	switch cfg.Inference.Mode {
	case config.InferenceModeProcess:
		inferClient = inference.NewProcessClient(inference.ProcessConfig{
			PythonBin:  cfg.Inference.PythonBin,
			ScriptPath: cfg.Inference.ScriptPath,
			Timeout:    cfg.Inference.Timeout,
		}, logger)
		slog.Info("Inference enabled", "mode", "process", "script", cfg.Inference.ScriptPath)

	case config.InferenceModeDocker:
		engineMgr, err = engine.NewDockerManager(cfg.Inference.DockerImage)
		if err != nil {
			slog.Warn("Failed to initialize engine manager, inference disabled", "error", err)
			break
		}
		inferClient = inference.NewDockerClient(engineMgr, inference.DockerConfig{
			ScriptPath: cfg.Inference.ScriptPath,
			Timeout:    cfg.Inference.Timeout,
		}, logger)
		engine.StartIdleWorker(ctx, engineMgr, cfg.Inference.EngineIdleTTL)
		slog.Info("Inference enabled", "mode", "docker", "image", cfg.Inference.DockerImage, "idle_ttl", cfg.Inference.EngineIdleTTL)

	default:
		slog.Info("Inference disabled, replies use fallback synthesis")
	}
	if inferClient != nil {
		defer inferClient.Close()
	}

	// Initialize services.
	sessions := session.NewMemoryStore()

	convLogger := chat.NewNoopConversationLogger()
	if cfg.ConversationLog.Enabled {
		convLogger = chat.NewConversationLogger(repo, cfg.ConversationLog.QueueSize, logger)
	}
	defer func() {
		if err := convLogger.Close(); err != nil {
			slog.Error("Failed to close conversation logger", "error", err)
		}
	}()

	orch := chat.NewOrchestrator(repo, sessions, inferClient, convLogger, chat.Config{
		ContextAnswerLimit:  cfg.Chat.ContextAnswerLimit,
		FallbackAnswerLimit: cfg.Chat.FallbackAnswerLimit,
	})

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, cfg.FrontendURL)
	var engineStatus api.EngineStatus
	if engineMgr != nil {
		engineStatus = engineMgr
	}
	healthHandler := api.NewHealthHandler(baseHandler, cfg.Inference.Mode, engineStatus)
	answersHandler := api.NewAnswersHandler(baseHandler)
	chatHandler := chat.NewHandler(orch, sessions, repo, cfg)
	streamHandler := chat.NewStreamHandler(orch, cfg.FrontendURL, cfg.IsDevelopment(), cfg.Chat.StreamChunkDelay)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	// Public routes.
	healthHandler.RegisterRoutes(r)

	// Identity-scoped routes (no auth needed, anonymous cookie identity).
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		answersHandler.RegisterRoutes(r)
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", streamHandler.ServeHTTP)
	})

	// Create server. WriteTimeout stays at zero so long-lived WebSocket chat
	// streams are not cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

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

	if engineMgr != nil {
		if err := engineMgr.StopEngine(shutdownCtx); err != nil {
			slog.Warn("Failed to stop inference engine", "error", err)
		}
	}

	slog.Info("Server stopped successfully")
}
