package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"verso/internal/config"
	"verso/internal/logging"
	"verso/internal/server"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("VERSO_CONFIG"), "config file (JSON or YAML)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open repository", zap.String("repo", cfg.RepoHome), zap.Error(err))
	}
	defer srv.Close()

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
}
