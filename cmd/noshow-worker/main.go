package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/chinmaydhabale/medschedule/internal/app"
	"github.com/chinmaydhabale/medschedule/internal/config"
	"github.com/chinmaydhabale/medschedule/internal/logger"
)

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

	log.Info("noshow-worker starting up",
		zap.String("env", cfg.Env),
		zap.String("schedule", cfg.NoShow.Schedule),
		zap.Int("batch_size", cfg.NoShow.BatchSize),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Bootstrap(rootCtx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}

	sweeper := a.NoShowSweeper()
	if err := sweeper.Start(rootCtx); err != nil {
		log.Fatal("no-show sweeper failed to start", zap.Error(err))
	}

	<-rootCtx.Done()
	log.Info("shutdown signal received, stopping no-show worker")

	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	a.Close(shutdownCtx)
}
