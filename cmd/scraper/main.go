// Command scraper pulls the latest messages and photos of the configured
// Telegram channels into today's partition of the local store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"telegram-warehouse/internal/collector"
	"telegram-warehouse/internal/config"
	"telegram-warehouse/internal/logger"
	"telegram-warehouse/internal/store"
	"telegram-warehouse/internal/telegram"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging, "scraper")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	if err := cfg.ValidateTelegram(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	if id := os.Getenv("PIPELINE_RUN_ID"); id != "" {
		log = log.With(zap.String("run_id", id))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("Starting Telegram Scraper service...", zap.Strings("channels", cfg.Collector.Channels))

	client := telegram.NewClient(cfg.Telegram, log)
	st := store.New(cfg.Storage.DataDir, log)

	var summary collector.Summary
	err = client.Run(ctx, func(ctx context.Context) error {
		c := collector.New(client, st, collector.Options{
			Channels:    cfg.Collector.Channels,
			Limit:       cfg.Collector.MessageLimit,
			Concurrency: cfg.Collector.Concurrency,
			Timeout:     cfg.Collector.Timeout,
		}, log)
		var err error
		summary, err = c.Run(ctx)
		return err
	})
	if err != nil {
		log.Fatal("Telegram client failed", zap.Error(err))
	}

	log.Info("Telegram Scraper service finished.",
		zap.Int("channels", summary.Channels),
		zap.Int("failed", summary.Failed),
		zap.Int("messages", summary.Messages),
		zap.Int("images", summary.Images))
}
