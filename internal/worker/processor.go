package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/nhsdigital/lg-bulk-upload/internal/bulkupload"
	"github.com/nhsdigital/lg-bulk-upload/internal/ingest"
	"github.com/nhsdigital/lg-bulk-upload/internal/queue"
)

// BatchProcessor runs the bulk upload workflow over a batch.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, messages []queue.Envelope) (bulkupload.BatchSummary, error)
}

// MetadataProcessor ingests a manifest.
type MetadataProcessor interface {
	ProcessMetadata(ctx context.Context, key string) (*ingest.Result, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	uploads  BatchProcessor
	metadata MetadataProcessor
	logger   zerolog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(uploads BatchProcessor, metadata MetadataProcessor, logger zerolog.Logger) *Processor {
	return &Processor{uploads: uploads, metadata: metadata, logger: logger.With().Str("component", "worker").Logger()}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeUploadBatch, p.handleBatch)
	mux.HandleFunc(queue.TypeStagedUpload, p.handleStaged)
	mux.HandleFunc(queue.TypeMetadataProcess, p.handleMetadata)
	return mux
}

func (p *Processor) handleBatch(ctx context.Context, task *asynq.Task) error {
	batch, err := queue.DecodeBatch(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	p.logger.Info().Str("group", batch.Group).Int("messages", len(batch.Messages)).Msg("processing upload batch")
	return p.process(ctx, batch.Messages)
}

// handleStaged covers staged uploads that reach the worker without group
// aggregation.
func (p *Processor) handleStaged(ctx context.Context, task *asynq.Task) error {
	return p.process(ctx, []queue.Envelope{queue.DecodeEnvelope(task.Payload())})
}

func (p *Processor) process(ctx context.Context, messages []queue.Envelope) error {
	if _, err := p.uploads.ProcessBatch(ctx, messages); err != nil {
		// The remaining messages are back on the queue; retrying the
		// aggregate would handle them twice.
		if errors.Is(err, bulkupload.ErrBatchAborted) {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}
	return nil
}

func (p *Processor) handleMetadata(ctx context.Context, task *asynq.Task) error {
	var payload queue.MetadataPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: decode payload: %v", asynq.SkipRetry, err)
	}
	res, err := p.metadata.ProcessMetadata(ctx, payload.Key)
	if err != nil {
		var metaErr *ingest.MetadataError
		if errors.As(err, &metaErr) {
			p.logger.Error().Err(err).Str("key", payload.Key).Msg("metadata manifest rejected")
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}
	p.logger.Info().Str("key", payload.Key).Int("patients", res.Patients).Int("rejected_rows", res.Rejected).Msg("metadata task done")
	return nil
}

// ServerConfig is the asynq server configuration: staged uploads of one
// group are folded into batches of at most batchSize.
func ServerConfig(concurrency, batchSize int, logger zerolog.Logger) asynq.Config {
	return asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue.QueueBulkUpload: 6,
			queue.QueueMetadata:   3,
		},
		GroupAggregator:  asynq.GroupAggregatorFunc(queue.Aggregate),
		GroupMaxSize:     batchSize,
		GroupGracePeriod: 5 * time.Second,
		GroupMaxDelay:    30 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task_type", task.Type()).Msg("task failed")
		}),
	}
}
