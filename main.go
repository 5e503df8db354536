package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	clts "gswapcopy/clients"
	"gswapcopy/config"
	"gswapcopy/internal/app"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// A .env file is optional; real environment variables take precedence.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to read .env file", zap.Error(err))
	}

	// Load config from environment variables
	envConfig := config.Load()
	logger.Info("starting copy trader", zap.Bool("isProd", envConfig.IsProd))

	// The targets file replaces TARGET_WALLETS when it lists any wallet
	targets, err := config.LoadTargets(envConfig.Targets.FilePath)
	if err != nil {
		logger.Fatal("failed to load targets", zap.String("path", envConfig.Targets.FilePath), zap.Error(err))
	}
	if len(targets) > 0 {
		envConfig.Targets.Wallets = targets
	}

	if result := envConfig.Validate(); !result.Valid {
		for _, e := range result.Errors {
			logger.Error("invalid config", zap.String("field", e.Field), zap.String("error", e.Message))
		}
		logger.Fatal("config validation failed", zap.Int("errors", len(result.Errors)))
	}

	// Create LiveConfig with env config as initial value
	liveConfig := config.NewLiveConfig(envConfig)

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, envConfig)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, liveConfig)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
