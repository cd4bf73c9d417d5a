// Command pipeline runs the stages in dependency order:
// scrape, detect, load and finally the external transform project.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telegram-warehouse/internal/config"
	"telegram-warehouse/internal/logger"
	"telegram-warehouse/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml")
	skipTransform := flag.Bool("skip-transform", false, "stop after the load stage")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging, "pipeline")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stageConfig := cfg.Pipeline.StageConfig(*configPath)
	p, err := orchestrator.NewPipeline(log, steps(cfg, stageConfig, runID, *skipTransform, log)...)
	if err != nil {
		log.Fatal("Invalid pipeline", zap.Error(err))
	}

	log.Info("Starting pipeline", zap.Strings("order", p.Order()))
	res, err := p.Run(ctx)
	if err != nil {
		log.Error("Pipeline failed",
			zap.String("step", res.Failed),
			zap.Strings("skipped", res.Skipped),
			zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("Pipeline finished", zap.Strings("completed", res.Completed))
}

func steps(cfg *config.Config, configPath, runID string, skipTransform bool, log *zap.Logger) []orchestrator.Step {
	env := []string{"PIPELINE_RUN_ID=" + runID}
	var args []string
	if configPath != "" {
		args = []string{"-config", configPath}
	}
	stage := func(name, binary string, deps ...string) orchestrator.Step {
		return orchestrator.CommandStep(name, deps, orchestrator.Command{
			Path: filepath.Join(cfg.Pipeline.BinDir, binary),
			Args: args,
			Env:  env,
		}, log)
	}

	out := []orchestrator.Step{
		stage("scrape", "scraper"),
		stage("detect", "detector", "scrape"),
		stage("load", "loader", "detect"),
	}
	if !skipTransform {
		out = append(out, orchestrator.CommandStep("transform", []string{"load"}, orchestrator.Command{
			Path: cfg.Transform.Command[0],
			Args: cfg.Transform.Command[1:],
			Dir:  cfg.Transform.ProjectDir,
			Env:  env,
		}, log))
	}
	return out
}
