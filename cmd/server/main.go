package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/stemsi/olpm-engine/internal/config"
	"github.com/stemsi/olpm-engine/internal/database"
	"github.com/stemsi/olpm-engine/internal/engine"
	"github.com/stemsi/olpm-engine/internal/handler"
	"github.com/stemsi/olpm-engine/internal/logger"
	"github.com/stemsi/olpm-engine/internal/middleware"
	"github.com/stemsi/olpm-engine/internal/repository"
	"github.com/stemsi/olpm-engine/internal/router"
	"github.com/stemsi/olpm-engine/internal/service"
	"github.com/stemsi/olpm-engine/internal/validator"
	"github.com/stemsi/olpm-engine/internal/worker"
)

const reapInterval = 5 * time.Minute

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("repository_url", cfg.RepositoryURL).
		Msg("Starting OLPM assessment engine")

	// ─── API Token ─────────────────────────────────────────────────────
	if cfg.APIToken == "" && term.IsTerminal(int(syscall.Stdin)) {
		token, err := promptToken()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read API token")
		}
		cfg.APIToken = token
	}
	if cfg.APIToken == "" {
		log.Warn().Msg("No API_TOKEN configured, every request must carry its own bearer token")
	}

	if cfg.MonitorToken == "" {
		log.Info().Msg("No MONITOR_TOKEN configured, proctor monitor is disabled")
	}

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Redis (optional) ───────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ─── Background Workers ────────────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workersDone := make(chan struct{})

	var sink service.EventSink
	if rdb != nil {
		publisher := worker.NewMonitorPublisher(rdb, log)
		sink = publisher
		go func() {
			publisher.Start(workerCtx)
			close(workersDone)
		}()
	} else {
		close(workersDone)
	}

	// ─── Initialize Services ──────────────────────────────────────────
	defaultRepo := repository.NewAssessmentRepository(cfg.RepositoryURL, cfg.APIToken, cfg.RequestTimeout)
	repos := func(token string) engine.Repository {
		if token == "" {
			return defaultRepo
		}
		return defaultRepo.WithToken(token)
	}

	attemptService := service.NewAttemptService(repos, sink, service.AttemptConfig{
		TickInterval: cfg.TickInterval,
		TTL:          cfg.AttemptTTL,
	}, log)
	go attemptService.StartReaper(workerCtx, reapInterval)

	var createLimiter *middleware.RateLimiter
	if cfg.CreateRatePerMinute > 0 {
		createLimiter = middleware.NewRateLimiter(cfg.CreateRatePerMinute, time.Minute)
		go createLimiter.StartCleanup(workerCtx)
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService),
		WS:      handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(rdb, attemptService, log),
		Health:  handler.NewHealthHandler(rdb, attemptService),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, cfg, createLimiter, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Exit every attempt. Unsubmitted answers are discarded, as on a
	// client exit.
	log.Info().Int("attempts", attemptService.Count()).Msg("Closing live attempts")
	attemptService.Close()

	// 3. Stop background workers and wait for the monitor queue to drain.
	workerCancel()
	select {
	case <-workersDone:
	case <-time.After(worker.MonitorDrainTimeout + time.Second):
		log.Warn().Msg("Monitor publisher did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// promptToken reads the Assessment Repository token without echo.
func promptToken() (string, error) {
	fmt.Print("Assessment Repository API token (leave empty to require per-request tokens): ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
