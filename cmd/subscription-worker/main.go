package main

import (
	"context"
	"errors"
	"os"

	"fintrack/internal/cli"
	"fintrack/internal/log"
	"fintrack/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentSubscription)
	logger.Info("Starting subscription-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Generated expenses go through the record service so the export
	// worker picks them up like manual ones.
	var publisher services.EventPublisher
	if amqpClient := cli.InitAMQP(logger, cfg, false); amqpClient != nil {
		defer amqpClient.Close()
		publisher = amqpClient
	}
	records := services.NewRecordService(repo, publisher, services.WithRecordLogger(logger))

	processor := services.NewSubscriptionProcessor(repo, records, cfg.SubscriptionLocation(), logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	logger.Info("Processing subscriptions",
		"interval", cfg.SubscriptionInterval,
		"timezone", cfg.SubscriptionLocation().String())
	if err := processor.Run(ctx, cfg.SubscriptionInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Subscription worker failed", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Subscription worker stopped")
}
