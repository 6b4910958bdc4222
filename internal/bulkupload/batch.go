package bulkupload

import (
	"context"
	"fmt"

	"github.com/nhsdigital/lg-bulk-upload/internal/queue"
)

// BatchSummary counts what happened to a batch.
type BatchSummary struct {
	Total     int
	Processed int
	Returned  int
	Unhandled []string
}

// ProcessBatch handles messages one at a time. A failing message never stops
// the batch; a PDS rate limit sends it and every later message back to the
// queue and returns ErrBatchAborted.
func (s *Service) ProcessBatch(ctx context.Context, messages []queue.Envelope) (BatchSummary, error) {
	summary := BatchSummary{Total: len(messages)}
	for i, env := range messages {
		s.logger.Info().Msgf("Processing message %d of %d", i+1, len(messages))

		out := s.HandleMessage(ctx, env)
		if out.Action == AbortBatch {
			summary.Returned = s.returnRemaining(ctx, messages[i:])
			s.logSummary(summary)
			return summary, fmt.Errorf("%w: %v", ErrBatchAborted, out.Err)
		}
		if out.Result == ResultUnhandled {
			summary.Unhandled = append(summary.Unhandled, env.ID)
			continue
		}
		summary.Processed++
	}
	s.logSummary(summary)
	return summary, nil
}

func (s *Service) returnRemaining(ctx context.Context, messages []queue.Envelope) int {
	returned := 0
	for _, env := range messages {
		if err := s.deps.Queue.ReturnToQueue(ctx, env); err != nil {
			s.logger.Error().Err(err).Str("message_id", env.ID).Msg("failed to return message to queue")
			continue
		}
		returned++
	}
	s.logger.Info().Int("returned", returned).Msg("remaining messages returned to queue")
	return returned
}

func (s *Service) logSummary(summary BatchSummary) {
	s.logger.Info().
		Int("total", summary.Total).
		Int("processed", summary.Processed).
		Int("returned", summary.Returned).
		Int("unhandled", len(summary.Unhandled)).
		Msg("Finished processing batch")
	if len(summary.Unhandled) > 0 {
		s.logger.Warn().Strs("message_ids", summary.Unhandled).Msg("Unable to process the following messages")
	}
}
