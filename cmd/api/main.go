// Command api serves the read-only analytics endpoints over the marts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"telegram-warehouse/internal/api"
	"telegram-warehouse/internal/config"
	"telegram-warehouse/internal/logger"
	"telegram-warehouse/internal/repository"
	"telegram-warehouse/internal/warehouse"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging, "api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	if err := cfg.ValidateDatabase(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	wh, err := warehouse.Open(ctx, cfg.Database.Driver, cfg.Database.DSN(), log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer wh.Close()

	repo := repository.NewAnalyticsRepository(wh.DB(), wh.Dialect(), log)
	srv := api.NewServer(repo, cfg.Server, log)
	if err := srv.Run(ctx); err != nil {
		wh.Close()
		log.Fatal("Server failed", zap.Error(err))
	}
	log.Info("Application stopped.")
}
