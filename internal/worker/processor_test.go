package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/nhsdigital/lg-bulk-upload/internal/bulkupload"
	"github.com/nhsdigital/lg-bulk-upload/internal/ingest"
	"github.com/nhsdigital/lg-bulk-upload/internal/queue"
)

type fakeUploads struct {
	batches [][]queue.Envelope
	err     error
}

func (f *fakeUploads) ProcessBatch(_ context.Context, messages []queue.Envelope) (bulkupload.BatchSummary, error) {
	f.batches = append(f.batches, messages)
	return bulkupload.BatchSummary{Total: len(messages)}, f.err
}

type fakeMetadata struct {
	keys []string
	err  error
}

func (f *fakeMetadata) ProcessMetadata(_ context.Context, key string) (*ingest.Result, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return &ingest.Result{Patients: 1}, nil
}

func stagedTask(id string) *asynq.Task {
	return asynq.NewTask(queue.TypeStagedUpload, []byte(`{"id":"`+id+`","body":"{}"}`))
}

func TestHandleBatch(t *testing.T) {
	uploads := &fakeUploads{}
	p := NewProcessor(uploads, &fakeMetadata{}, zerolog.Nop())
	task := queue.Aggregate("g", []*asynq.Task{stagedTask("a"), stagedTask("b")})

	if err := p.Handler().ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(uploads.batches) != 1 || len(uploads.batches[0]) != 2 || uploads.batches[0][1].ID != "b" {
		t.Fatalf("batches = %+v", uploads.batches)
	}
}

func TestHandleStagedSingle(t *testing.T) {
	uploads := &fakeUploads{}
	p := NewProcessor(uploads, &fakeMetadata{}, zerolog.Nop())
	if err := p.Handler().ProcessTask(context.Background(), stagedTask("a")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(uploads.batches) != 1 || uploads.batches[0][0].ID != "a" {
		t.Fatalf("batches = %+v", uploads.batches)
	}
}

func TestAbortedBatchIsNotRetried(t *testing.T) {
	uploads := &fakeUploads{err: bulkupload.ErrBatchAborted}
	p := NewProcessor(uploads, &fakeMetadata{}, zerolog.Nop())
	err := p.Handler().ProcessTask(context.Background(), stagedTask("a"))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleMetadata(t *testing.T) {
	meta := &fakeMetadata{}
	p := NewProcessor(&fakeUploads{}, meta, zerolog.Nop())
	task := asynq.NewTask(queue.TypeMetadataProcess, []byte(`{"key":"metadata.csv"}`))
	if err := p.Handler().ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(meta.keys) != 1 || meta.keys[0] != "metadata.csv" {
		t.Fatalf("keys = %v", meta.keys)
	}

	meta.err = &ingest.MetadataError{Message: "Missing required column(s): NHS-NO"}
	if err := p.Handler().ProcessTask(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("manifest errors should not be retried, got %v", err)
	}

	meta.err = errors.New("redis timeout")
	if err := p.Handler().ProcessTask(context.Background(), task); err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("transient errors should be retried, got %v", err)
	}
}

func TestServerConfig(t *testing.T) {
	cfg := ServerConfig(4, 10, zerolog.Nop())
	if cfg.GroupMaxSize != 10 || cfg.Concurrency != 4 || cfg.GroupAggregator == nil {
		t.Fatalf("config = %+v", cfg)
	}
	if _, ok := cfg.Queues[queue.QueueStitching]; ok {
		t.Fatal("the worker must not consume the stitching queue")
	}
}
