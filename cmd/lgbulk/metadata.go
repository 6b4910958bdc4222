package main

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/nhsdigital/lg-bulk-upload/internal/config"
	"github.com/nhsdigital/lg-bulk-upload/internal/database"
	"github.com/nhsdigital/lg-bulk-upload/internal/ingest"
	"github.com/nhsdigital/lg-bulk-upload/internal/logging"
	"github.com/nhsdigital/lg-bulk-upload/internal/queue"
	"github.com/nhsdigital/lg-bulk-upload/internal/repository"
	"github.com/nhsdigital/lg-bulk-upload/internal/s3storage"
)

func newMetadataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Metadata manifest operations",
	}
	cmd.AddCommand(newMetadataRunCmd())
	return cmd
}

func newMetadataRunCmd() *cobra.Command {
	var key string
	var direct bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Queue (or run in-process) an ingestion of the staged manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogPretty)
			if key == "" {
				key = cfg.MetadataKey
			}

			client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			defer client.Close()
			sender := queue.NewSender(client, cfg.RequeueDelay, logger)

			if !direct {
				id, err := sender.EnqueueMetadata(ctx, key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s as task %s\n", key, id)
				return nil
			}

			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			store, err := s3storage.New(cfg)
			if err != nil {
				return err
			}
			reports := repository.NewReportRepository(pool, cfg.BulkUploadReportTable)
			result, err := ingest.NewProcessor(store, reports, sender, cfg.Strategy(), cfg.MetadataArchivePrefix, logger).
				ProcessMetadata(ctx, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d patients (%d rows rejected, %d corrected) in group %s; manifest archived to %s\n",
				result.Patients, result.Rejected, len(result.Corrections), result.GroupID, result.ArchivedTo)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Manifest key in the staging bucket (defaults to METADATA_KEY)")
	cmd.Flags().BoolVar(&direct, "direct", false, "Ingest in this process instead of queueing a task")
	return cmd
}
