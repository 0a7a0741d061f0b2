package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chinmaydhabale/medschedule/internal/api"
	"github.com/chinmaydhabale/medschedule/internal/app"
	"github.com/chinmaydhabale/medschedule/internal/auth"
	"github.com/chinmaydhabale/medschedule/internal/config"
	"github.com/chinmaydhabale/medschedule/internal/db"
	"github.com/chinmaydhabale/medschedule/internal/logger"
	"github.com/chinmaydhabale/medschedule/internal/schedule"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up", zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Bootstrap(rootCtx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}

	if err := db.Migrate(rootCtx, a.Pool); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	var sweeper interface{ Stop() }
	if cfg.NoShow.Enabled {
		s := a.NoShowSweeper()
		if err := s.Start(rootCtx); err != nil {
			log.Fatal("no-show sweeper failed to start", zap.Error(err))
		}
		sweeper = s
	}

	router := api.NewRouter(api.RouterConfig{
		Bookings:       a.BookingService(),
		Schedules:      schedule.NewService(schedule.NewPgRepository(a.Pool), a.Users, log),
		Notifications:  a.Notifications,
		Auth:           auth.NewTokenValidator(cfg.JWTSecret),
		Log:            log,
		Metrics:        a.Metrics,
		PostgresPing:   a.Pool.Ping,
		RedisPing:      func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
		Env:            cfg.Env,
		Version:        version,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	if sweeper != nil {
		sweeper.Stop()
	}
	a.Close(shutdownCtx)

	log.Info("api-server stopped")
}
