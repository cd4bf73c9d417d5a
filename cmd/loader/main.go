// Command loader lands the local store in the warehouse: message batches are
// appended to raw.telegram_messages and the detection batch replaces
// raw.detection_results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"telegram-warehouse/internal/config"
	"telegram-warehouse/internal/ingest"
	"telegram-warehouse/internal/logger"
	"telegram-warehouse/internal/notify"
	"telegram-warehouse/internal/store"
	"telegram-warehouse/internal/warehouse"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	date := flag.String("date", "", "only load message partitions of this date (YYYY-MM-DD)")
	skipMessages := flag.Bool("skip-messages", false, "do not load message batches")
	skipDetections := flag.Bool("skip-detections", false, "do not load the detection batch")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging, "loader")
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
	if err := cfg.ValidateNotify(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	if id := os.Getenv("PIPELINE_RUN_ID"); id != "" {
		log = log.With(zap.String("run_id", id))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	notifier, err := notify.New(cfg.Notify, log)
	if err != nil {
		log.Warn("Failed to initialize Telegram bot, alerts go to the log only", zap.Error(err))
		notifier = notify.Log{Logger: log}
	}

	wh, err := warehouse.Open(ctx, cfg.Database.Driver, cfg.Database.DSN(), log)
	if err != nil {
		log.Fatal("Failed to connect to the warehouse", zap.Error(err))
	}
	defer wh.Close()

	st := store.New(cfg.Storage.DataDir, log)
	report, err := ingest.New(st, wh, notifier, log).Run(ctx, ingest.Options{
		Date:           *date,
		SkipMessages:   *skipMessages,
		SkipDetections: *skipDetections,
	})
	if err != nil {
		wh.Close()
		log.Fatal("Ingestion aborted", zap.Bool("fatal", warehouse.IsFatal(err)), zap.Error(err))
	}
	if !report.OK() {
		log.Warn("Ingestion finished with partial results",
			zap.Int("load_errors", len(report.LoadErrors)),
			zap.Int("anomalies", len(report.Anomalies)))
	}
}
