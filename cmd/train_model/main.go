package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"flightdelay/config"
	"flightdelay/logging"
	"flightdelay/training"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file")
	dataDir := flag.String("data-dir", "", "override data.dir")
	modelsDir := flag.String("models-dir", "", "override artifacts.dir")
	trials := flag.Int("trials", 0, "override search.n_trials")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *dataDir, *modelsDir, *trials); err != nil {
		fmt.Fprintf(os.Stderr, "train_model: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, dataDir, modelsDir string, trials int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}
	if modelsDir != "" {
		cfg.Artifacts.Dir = modelsDir
	}
	if trials > 0 {
		cfg.Search.NTrials = trials
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, _, err := logging.Init(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	result, err := training.Run(ctx, cfg)
	if err != nil {
		logger.Error("training failed", zap.Error(err))
		return err
	}

	fmt.Printf("rows=%d features=%d train=%d validation=%d test=%d\n",
		result.Rows, result.Features, result.TrainRows, result.ValRows, result.TestRows)
	fmt.Printf("trials: completed=%d pruned=%d failed=%d best=#%d\n",
		result.Completed, result.Pruned, result.Failed, result.BestTrial)
	fmt.Printf("best params: %v\n", result.BestParams)
	fmt.Printf("validation f1=%.4f\n", result.ValidationF1)
	fmt.Printf("test f1=%.4f precision=%.4f recall=%.4f accuracy=%.4f\n",
		result.Test.F1, result.Test.Precision, result.Test.Recall, result.Test.Accuracy)
	fmt.Printf("encoder saved to %s\nmodel saved to %s\n", result.EncoderPath, result.ModelPath)
	return nil
}
