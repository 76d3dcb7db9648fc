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
	fhttp "flightdelay/http"
	"flightdelay/logging"
	"flightdelay/ml"
	"flightdelay/monitoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "predictor: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	// 1. Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, level, err := logging.Init(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	// 2. Load artifacts; the service refuses to start without them
	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	logger.Info("model loaded",
		zap.String("encoder", cfg.Artifacts.EncoderPath()),
		zap.String("model", cfg.Artifacts.ModelPath()),
		zap.String("version", app.version),
		zap.Int("features", app.features),
	)

	// 3. Background workers
	go app.hub.Run(ctx)
	go app.hub.StreamSnapshots(ctx, app.metrics, cfg.HTTP.MetricsInterval)
	if cfg.Source != "" {
		err := config.Watch(ctx, cfg.Source, func(next *config.Config) {
			if err := logging.SetLevel(level, next.Log.Level); err != nil {
				logger.Warn("apply log level", zap.Error(err))
				return
			}
			logger.Info("config reloaded", zap.String("log_level", next.Log.Level))
		})
		if err != nil {
			logger.Warn("config watcher disabled", zap.Error(err))
		}
	}

	// 4. Serve until a signal arrives
	errc := make(chan error, 1)
	go func() { errc <- app.server.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	if err := app.server.Stop(context.Background()); err != nil {
		return err
	}
	return <-errc
}

type app struct {
	server  *fhttp.Server
	hub     *monitoring.WebSocketHub
	metrics  *monitoring.MetricsCollector
	version  string
	features int
}

func newApp(cfg *config.Config) (*app, error) {
	encoderPath, modelPath := cfg.Artifacts.EncoderPath(), cfg.Artifacts.ModelPath()
	session, err := ml.LoadSession(cfg.Model.Type, encoderPath, modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model artifacts: %w", err)
	}
	version, err := ml.ArtifactVersion(encoderPath, modelPath)
	if err != nil {
		return nil, fmt.Errorf("model version: %w", err)
	}

	metrics := monitoring.NewMetricsCollector()
	hub := monitoring.NewWebSocketHub(cfg.HTTP.AllowedOrigins)
	handlers, err := fhttp.NewHandlers(fhttp.HandlersConfig{
		Predictor:    session,
		Metrics:      metrics,
		Hub:          hub,
		ModelVersion: version,
		CacheSize:    cfg.HTTP.CacheSize,
	})
	if err != nil {
		return nil, err
	}
	return &app{
		server:   fhttp.NewServer(cfg.HTTP, handlers),
		hub:      hub,
		metrics:  metrics,
		version:  version,
		features: session.FeatureCount(),
	}, nil
}
