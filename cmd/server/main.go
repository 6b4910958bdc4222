// Package main runs the ops HTTP surface: health, metrics, report lookups and
// the manual metadata trigger.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/nhsdigital/lg-bulk-upload/internal/api"
	"github.com/nhsdigital/lg-bulk-upload/internal/config"
	"github.com/nhsdigital/lg-bulk-upload/internal/database"
	"github.com/nhsdigital/lg-bulk-upload/internal/logging"
	"github.com/nhsdigital/lg-bulk-upload/internal/queue"
	"github.com/nhsdigital/lg-bulk-upload/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", false)
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer client.Close()

	srv := api.New(
		cfg.Address,
		cfg.MetadataKey,
		repository.NewReportRepository(pool, cfg.BulkUploadReportTable),
		repository.NewDocumentRepository(pool, cfg.Tables()),
		queue.NewSender(client, cfg.RequeueDelay, logger),
		logger,
	)
	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
