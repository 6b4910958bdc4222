// Package bulkupload validates one patient's staged Lloyd George files and
// moves them into the permanent store.
package bulkupload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/nhsdigital/lg-bulk-upload/internal/filename"
	"github.com/nhsdigital/lg-bulk-upload/internal/matching"
	"github.com/nhsdigital/lg-bulk-upload/internal/model"
	"github.com/nhsdigital/lg-bulk-upload/internal/pds"
	"github.com/nhsdigital/lg-bulk-upload/internal/queue"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lg_bulk_upload_messages_total",
	Help: "Staging messages handled by the bulk upload worker, by outcome.",
}, []string{"outcome"})

// ObjectStore is the staging/permanent object storage.
type ObjectStore interface {
	StagingExists(ctx context.Context, key string) (bool, error)
	StagingTag(ctx context.Context, key, tagKey string) (string, bool, error)
	DownloadStaging(ctx context.Context, key string) ([]byte, error)
	DeleteStaging(ctx context.Context, key string) error
	PermanentBucket() string
	BeginTransfer() ObjectTransaction
}

// ObjectTransaction copies staged objects and can undo the copies.
type ObjectTransaction interface {
	Copy(ctx context.Context, srcKey, destKey string) error
	Size(ctx context.Context, destKey string) (int64, error)
	Commit()
	Rollback(ctx context.Context) error
}

// MetadataStore holds document references.
type MetadataStore interface {
	HasActiveRecord(ctx context.Context, docType model.DocumentType, nhsNumber string) (bool, error)
	BeginTransfer(ctx context.Context) (MetadataTransaction, error)
}

// MetadataTransaction writes document references atomically.
type MetadataTransaction interface {
	Create(ctx context.Context, doc *model.DocumentReference) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ReportWriter records bulk upload report rows.
type ReportWriter interface {
	Insert(ctx context.Context, reports ...model.BulkUploadReport) error
}

// Queue sends messages back to the upload queue and on to stitching.
type Queue interface {
	Requeue(ctx context.Context, staging *model.StagingMetadata) error
	ReturnToQueue(ctx context.Context, env queue.Envelope) error
	SendStitching(ctx context.Context, nhsNumber string) error
}

// Dependencies are the collaborators of a Service.
type Dependencies struct {
	Objects  ObjectStore
	Metadata MetadataStore
	Reports  ReportWriter
	Registry pds.Fetcher
	Queue    Queue
}

// Options tune validation.
type Options struct {
	Mode                matching.Mode
	PilotODSCodes       []string
	BypassPDS           bool
	MaxVirusScanRetries int
	VerifyPDF           bool
}

// Service runs the bulk upload workflow.
type Service struct {
	deps    Dependencies
	opts    Options
	matcher *matching.Matcher
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// NewService builds the workflow.
func NewService(deps Dependencies, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		deps:    deps,
		opts:    opts,
		matcher: matching.New(),
		logger:  logger.With().Str("component", "bulkupload").Logger(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Action tells the batch driver what to do after a message.
type Action int

const (
	// Continue moves on to the next message.
	Continue Action = iota
	// AbortBatch returns every remaining message, this one included, to the
	// queue and stops the batch.
	AbortBatch
)

// Result is the recorded outcome of one message.
type Result string

const (
	ResultCommitted   Result = "committed"
	ResultFailed      Result = "failed"
	ResultRequeued    Result = "requeued"
	ResultUnhandled   Result = "unhandled"
	ResultRateLimited Result = "rate_limited"
)

// Outcome is what HandleMessage did with a message.
type Outcome struct {
	Action Action
	Result Result
	// Reason is the report reason of a failed or committed message.
	Reason string
	Err    error
}

// failure is a per-patient rejection written to the report.
type failure struct {
	reason string
	err    error
}

func (f *failure) Error() string {
	if f.err != nil {
		return f.reason + ": " + f.err.Error()
	}
	return f.reason
}

func (f *failure) Unwrap() error { return f.err }

func fail(reason string, err error) error { return &failure{reason: reason, err: err} }

// HandleMessage processes one staging message to a terminal record, a
// requeue, or a batch abort.
func (s *Service) HandleMessage(ctx context.Context, env queue.Envelope) Outcome {
	staging, err := decodeStaging(env.Body)
	if err != nil {
		s.logger.Error().Err(err).Str("message_id", env.ID).Msg("invalid staging message")
		return s.outcome(Outcome{Action: Continue, Result: ResultUnhandled, Err: err})
	}
	log := s.logger.With().Str("message_id", env.ID).Logger()
	log.Debug().Str("patient", staging.NHSNumber).Int("files", len(staging.Files)).Int("retries", staging.Retries).Msg("handling staging message")

	v, err := s.validate(ctx, staging)
	if err != nil {
		if errors.Is(err, pds.ErrRateLimited) {
			log.Warn().Msg("PDS rate limit reached, stopping batch")
			return s.outcome(Outcome{Action: AbortBatch, Result: ResultRateLimited, Err: err})
		}
		return s.failed(ctx, staging, v.patientODS, err)
	}

	keys, err := s.resolveKeys(ctx, staging)
	if err != nil {
		return s.failed(ctx, staging, v.patientODS, err)
	}

	if err := s.checkVirusScan(ctx, keys); err != nil {
		if !errors.Is(err, ErrVirusScanPending) {
			return s.failed(ctx, staging, v.patientODS, err)
		}
		if staging.Retries > s.opts.MaxVirusScanRetries {
			return s.failed(ctx, staging, v.patientODS, fail(MsgVirusScanTimeout, err))
		}
		staging.Retries++
		if err := s.deps.Queue.Requeue(ctx, staging); err != nil {
			log.Error().Err(err).Msg("failed to requeue staging message")
			return s.outcome(Outcome{Action: Continue, Result: ResultUnhandled, Err: err})
		}
		log.Info().Int("retries", staging.Retries).Msg("virus scan pending, message requeued")
		return s.outcome(Outcome{Action: Continue, Result: ResultRequeued})
	}

	if s.opts.VerifyPDF {
		if err := s.verifyPDFs(ctx, keys); err != nil {
			return s.failed(ctx, staging, v.patientODS, err)
		}
	}

	if err := s.transfer(ctx, staging, keys, v.patientODS); err != nil {
		return s.failed(ctx, staging, v.patientODS, err)
	}
	return s.committed(ctx, staging, keys, v)
}

func decodeStaging(body string) (*model.StagingMetadata, error) {
	var staging model.StagingMetadata
	if err := json.Unmarshal([]byte(body), &staging); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if staging.NHSNumber == "" || len(staging.Files) == 0 {
		return nil, fmt.Errorf("%w: missing nhs_number or files", ErrInvalidMessage)
	}
	return &staging, nil
}

// failed writes a FAILED report for every file. Errors that carry no report
// reason are infrastructure errors and leave the message unhandled.
func (s *Service) failed(ctx context.Context, staging *model.StagingMetadata, patientODS string, err error) Outcome {
	reason, ok := reasonFor(err)
	if !ok {
		s.logger.Error().Err(err).Msg("unexpected error while handling staging message")
		return s.outcome(Outcome{Action: Continue, Result: ResultUnhandled, Err: err})
	}
	s.logger.Warn().Str("reason", reason).Err(err).Msg("bulk upload failed for patient")
	reports := model.NewReports(staging, model.UploadStatusFailed, reason, patientODS, s.now(), s.newID)
	if werr := s.deps.Reports.Insert(ctx, reports...); werr != nil {
		s.logger.Error().Err(werr).Msg("failed to write failure report")
		return s.outcome(Outcome{Action: Continue, Result: ResultUnhandled, Reason: reason, Err: werr})
	}
	return s.outcome(Outcome{Action: Continue, Result: ResultFailed, Reason: reason, Err: err})
}

// reasonFor maps an error to its report reason.
func reasonFor(err error) (string, bool) {
	var f *failure
	var invalidFiles *filename.InvalidFilesError
	var invalidName *filename.InvalidFileNameError
	switch {
	case errors.As(err, &f):
		return f.reason, true
	case errors.As(err, &invalidFiles):
		return invalidFiles.Message, true
	case errors.As(err, &invalidName):
		return invalidName.Message, true
	}
	for _, known := range reportedErrors {
		if errors.Is(err, known) {
			return known.Error(), true
		}
	}
	return "", false
}

func (s *Service) committed(ctx context.Context, staging *model.StagingMetadata, keys []string, v validation) Outcome {
	for _, key := range keys {
		if err := s.deps.Objects.DeleteStaging(ctx, key); err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("failed to remove staged file")
		}
	}
	reports := model.NewReports(staging, model.UploadStatusComplete, v.acceptanceReason, v.patientODS, s.now(), s.newID)
	if err := s.deps.Reports.Insert(ctx, reports...); err != nil {
		s.logger.Error().Err(err).Msg("failed to write success report")
	}
	if err := s.deps.Queue.SendStitching(ctx, staging.NHSNumber); err != nil {
		s.logger.Error().Err(err).Msg("failed to send stitching message")
	}
	s.logger.Info().Int("files", len(keys)).Str("reason", v.acceptanceReason).Msg("bulk upload complete for patient")
	return s.outcome(Outcome{Action: Continue, Result: ResultCommitted, Reason: v.acceptanceReason})
}

func (s *Service) outcome(o Outcome) Outcome {
	messagesTotal.WithLabelValues(string(o.Result)).Inc()
	return o
}

// acceptReason appends a note to an acceptance reason.
func acceptReason(reason, note string) string {
	if reason == "" {
		return note
	}
	return strings.Join([]string{reason, note}, ", ")
}
