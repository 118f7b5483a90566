package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"

	"github.com/fullofcoins/feedsync/pkg/app"
	"github.com/fullofcoins/feedsync/pkg/config"
	"github.com/fullofcoins/feedsync/pkg/logger"
)

type CLIArgs struct {
	ConfigFile string `arg:"--config,env:CONFIG_FILE" default:"config.toml"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, proceeding without it")
	}

	var args CLIArgs
	arg.MustParse(&args)

	if err := run(context.Background(), args); err != nil {
		logger.Fatal(err)
	}
}

func run(ctx context.Context, args CLIArgs) error {
	cfg, err := config.ReadFile(args.ConfigFile)
	if err != nil {
		return err
	}

	configureLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, nil)
	if err != nil {
		return err
	}

	if err := a.Initialize(ctx); err != nil {
		return err
	}

	logger.Infof("feedsync started with %d sources", len(cfg.Sources))

	interval := time.Duration(cfg.Sync.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pending, err := a.Synchronize(ctx)
		if err != nil {
			logger.Errorf("synchronize: %v", err)
		} else if pending > 0 {
			logger.Infof("%d new posts available", pending)
			if err := a.RevealPending(ctx); err != nil {
				logger.Errorf("reveal pending: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func configureLogger(cfg *config.BaseConfig) {
	level := zapcore.InfoLevel
	if cfg.Logger.Level != "" {
		if parsed, err := zapcore.ParseLevel(cfg.Logger.Level); err == nil {
			level = parsed
		}
	}

	logger.Configure(level, cfg.Logger.File)
}
