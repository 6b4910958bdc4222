package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/nhsdigital/lg-bulk-upload/internal/bulkupload"
	"github.com/nhsdigital/lg-bulk-upload/internal/config"
	"github.com/nhsdigital/lg-bulk-upload/internal/database"
	"github.com/nhsdigital/lg-bulk-upload/internal/ingest"
	"github.com/nhsdigital/lg-bulk-upload/internal/logging"
	"github.com/nhsdigital/lg-bulk-upload/internal/matching"
	"github.com/nhsdigital/lg-bulk-upload/internal/pds"
	"github.com/nhsdigital/lg-bulk-upload/internal/queue"
	"github.com/nhsdigital/lg-bulk-upload/internal/repository"
	"github.com/nhsdigital/lg-bulk-upload/internal/s3storage"
	"github.com/nhsdigital/lg-bulk-upload/internal/worker"
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

	if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	documents := repository.NewDocumentRepository(pool, cfg.Tables())
	reports := repository.NewReportRepository(pool, cfg.BulkUploadReportTable)

	store, err := s3storage.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("init storage")
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ensure buckets")
	}

	redis := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	client := asynq.NewClient(redis)
	defer client.Close()
	sender := queue.NewSender(client, cfg.RequeueDelay, logger)

	var registry pds.Fetcher
	if !cfg.BypassPDS {
		registry = pds.NewCachedRegistry(pds.NewClient(cfg.PDSBaseURL, cfg.PDSTimeout, logger), cfg.PDSCacheSize, cfg.PDSCacheTTL)
	}

	uploads := bulkupload.NewService(bulkupload.Dependencies{
		Objects:  worker.ObjectStore{Storage: store},
		Metadata: worker.MetadataStore{DocumentRepository: documents},
		Reports:  reports,
		Registry: registry,
		Queue:    sender,
	}, bulkupload.Options{
		Mode:                matching.ParseMode(cfg.ValidationMode),
		PilotODSCodes:       cfg.PilotODSCodes,
		BypassPDS:           cfg.BypassPDS,
		MaxVirusScanRetries: cfg.MaxVirusScanRetries,
		VerifyPDF:           cfg.VerifyPDF,
	}, logger)
	metadata := ingest.NewProcessor(store, reports, sender, cfg.Strategy(), cfg.MetadataArchivePrefix, logger)

	server := asynq.NewServer(redis, worker.ServerConfig(cfg.WorkerConcurrency, cfg.BatchSize, logger))
	processor := worker.NewProcessor(uploads, metadata, logger)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info().
		Str("mode", cfg.ValidationMode).
		Str("strategy", cfg.Strategy().Name()).
		Bool("bypass_pds", cfg.BypassPDS).
		Msg("bulk upload worker starting")
	if err := server.Run(mux); err != nil {
		logger.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}
