// Command detector runs object detection over every collected image and
// writes the flattened results to yolo_results.csv.
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
	"telegram-warehouse/internal/detector"
	"telegram-warehouse/internal/logger"
	"telegram-warehouse/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	skipHealth := flag.Bool("skip-health", false, "do not check the detector service before the run")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging, "detector")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	if err := cfg.ValidateDetector(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	if id := os.Getenv("PIPELINE_RUN_ID"); id != "" {
		log = log.With(zap.String("run_id", id))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := detector.NewHTTPClient(cfg.Detector.URL, cfg.Detector.Timeout)
	if !*skipHealth {
		health, err := client.Health(ctx)
		if err != nil {
			log.Fatal("Detector service is not reachable", zap.String("url", cfg.Detector.URL), zap.Error(err))
		}
		log.Info("Detector service is up", zap.String("status", health.Status), zap.String("model", health.Model))
	}

	st := store.New(cfg.Storage.DataDir, log)
	summary, err := detector.NewRunner(client, st, cfg.Detector.MinConfidence, log).Run(ctx)
	if err != nil {
		log.Fatal("Detection run failed", zap.Error(err))
	}
	log.Info("Detection finished",
		zap.Int("images", summary.Images),
		zap.Int("failed", summary.Failed),
		zap.Int("detections", summary.Detections))
}
