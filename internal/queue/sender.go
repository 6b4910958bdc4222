package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/nhsdigital/lg-bulk-upload/internal/model"
)

// Enqueuer is the subset of *asynq.Client the sender needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// StitchingMessage asks for a patient's pages to be merged into one document.
type StitchingMessage struct {
	NHSNumber         string           `json:"nhs_number"`
	SnomedCodeDocType model.SnomedCode `json:"snomed_code_doc_type"`
}

// Sender enqueues bulk upload tasks.
type Sender struct {
	client       Enqueuer
	requeueDelay time.Duration
	logger       zerolog.Logger
	newID        func() string
}

// NewSender builds a sender. requeueDelay is how long a returned message
// waits before it is redelivered.
func NewSender(client Enqueuer, requeueDelay time.Duration, logger zerolog.Logger) *Sender {
	return &Sender{
		client:       client,
		requeueDelay: requeueDelay,
		logger:       logger.With().Str("component", "queue").Logger(),
		newID:        uuid.NewString,
	}
}

// NewRunGroupID returns the FIFO group id of one ingestion run.
func (s *Sender) NewRunGroupID() string {
	return "bulk_upload_" + s.newID()
}

// SendStaging dispatches one patient group of an ingestion run. Sending the
// same patient twice within a run is ignored.
func (s *Sender) SendStaging(ctx context.Context, staging *model.StagingMetadata, groupID string) error {
	env, err := s.envelope(staging, groupID)
	if err != nil {
		return err
	}
	taskID := fmt.Sprintf("%s_%s_%s", groupID, staging.NHSNumber, staging.UploaderODSCode())
	err = s.enqueue(ctx, env, asynq.Group(groupID), asynq.TaskID(taskID))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		s.logger.Warn().Str("task_id", taskID).Msg("duplicate staging message ignored")
		return nil
	}
	return err
}

// Requeue sends staging metadata back to the queue after the requeue delay,
// in a fresh group. Callers bump Retries first.
func (s *Sender) Requeue(ctx context.Context, staging *model.StagingMetadata) error {
	group := s.returnGroupID()
	env, err := s.envelope(staging, group)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, env, asynq.Group(group), asynq.ProcessIn(s.requeueDelay))
}

// ReturnToQueue puts an unprocessed message back unchanged, apart from a
// fresh group id.
func (s *Sender) ReturnToQueue(ctx context.Context, env Envelope) error {
	group := s.returnGroupID()
	attrs := make(map[string]string, len(env.Attributes)+1)
	for k, v := range env.Attributes {
		attrs[k] = v
	}
	attrs[AttrMessageGroupID] = group
	returned := Envelope{ID: s.newID(), Body: env.Body, Attributes: attrs}
	return s.enqueue(ctx, returned, asynq.Group(group), asynq.ProcessIn(s.requeueDelay))
}

// SendStitching asks the stitching service to merge the patient's pages.
func (s *Sender) SendStitching(ctx context.Context, nhsNumber string) error {
	body, err := json.Marshal(StitchingMessage{NHSNumber: nhsNumber, SnomedCodeDocType: model.SnomedLloydGeorge})
	if err != nil {
		return fmt.Errorf("marshal stitching message: %w", err)
	}
	env := Envelope{
		ID:   s.newID(),
		Body: string(body),
		Attributes: map[string]string{
			AttrNHSNumber:      nhsNumber,
			AttrMessageGroupID: s.newID(),
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := s.client.EnqueueContext(ctx, asynq.NewTask(TypeStitching, data), asynq.Queue(QueueStitching)); err != nil {
		return fmt.Errorf("enqueue stitching task: %w", err)
	}
	return nil
}

// EnqueueMetadata schedules ingestion of the manifest stored under key.
func (s *Sender) EnqueueMetadata(ctx context.Context, key string) (string, error) {
	data, err := json.Marshal(MetadataPayload{Key: key})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	info, err := s.client.EnqueueContext(ctx, asynq.NewTask(TypeMetadataProcess, data),
		asynq.Queue(QueueMetadata), asynq.MaxRetry(3))
	if err != nil {
		return "", fmt.Errorf("enqueue metadata task: %w", err)
	}
	return info.ID, nil
}

func (s *Sender) returnGroupID() string {
	return "back_to_queue_bulk_upload_" + s.newID()
}

func (s *Sender) envelope(staging *model.StagingMetadata, groupID string) (Envelope, error) {
	body, err := json.Marshal(staging)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal staging metadata: %w", err)
	}
	return Envelope{
		ID:   s.newID(),
		Body: string(body),
		Attributes: map[string]string{
			AttrNHSNumber:      staging.NHSNumber,
			AttrMessageGroupID: groupID,
		},
	}, nil
}

func (s *Sender) enqueue(ctx context.Context, env Envelope, opts ...asynq.Option) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	opts = append([]asynq.Option{asynq.Queue(QueueBulkUpload), asynq.MaxRetry(3)}, opts...)
	if _, err := s.client.EnqueueContext(ctx, asynq.NewTask(TypeStagedUpload, data), opts...); err != nil {
		return fmt.Errorf("enqueue staging task: %w", err)
	}
	s.logger.Debug().Str("group", env.GroupID()).Str("message_id", env.ID).Msg("staging message sent")
	return nil
}
