package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slipway-sh/slipway/internal/access"
	"github.com/slipway-sh/slipway/internal/app/migrate"
	"github.com/slipway-sh/slipway/internal/dispatch"
	"github.com/slipway-sh/slipway/internal/engine"
	httpx "github.com/slipway-sh/slipway/internal/http"
	"github.com/slipway-sh/slipway/internal/probe"
	"github.com/slipway-sh/slipway/internal/repository/postgres"
	"github.com/slipway-sh/slipway/internal/scm"
	"github.com/slipway-sh/slipway/internal/ws"
	"github.com/slipway-sh/slipway/pkg/config"
	"github.com/slipway-sh/slipway/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Up(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	store := postgres.New(pool, cfg.EnvEncryptionKey)
	hub := ws.NewHub()
	dispatcher := dispatch.NewRunnerClient(cfg.RunnerURL, cfg.RunnerAuthToken, log)

	var unitProbe engine.Probe
	dockerProbe, err := probe.NewDockerProbe(cfg.PlatformDockerHost)
	if err != nil {
		log.Warn("platform probe unavailable, serving stored statuses only", "error", err)
	} else {
		unitProbe = dockerProbe
		defer dockerProbe.Close()
	}

	eng := engine.New(store, dispatcher, unitProbe, access.New(), hub, log, engine.Options{
		CallbackSecret:  cfg.CallbackSecret,
		DefaultBranches: cfg.DefaultBranches,
		DispatchTimeout: cfg.DispatchTimeout,
		ProbeTimeout:    cfg.ProbeTimeout,
		PersistTimeout:  cfg.ProbePersistWindow,
	})
	defer eng.Close()

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, eng, scm.New(cfg.SCMAPIBaseURL), hub, limiter, httpx.Config{
		JWTSecret:            cfg.JWTSecret,
		PushWebhookSecret:    cfg.PushWebhookSecret,
		AllowAnonymousCreate: cfg.AllowAnonymousCreate,
	}, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
