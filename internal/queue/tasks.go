// Package queue defines the asynq tasks that carry bulk upload work between
// the ingestion run, the upload worker and the downstream stitching service.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task types.
const (
	// TypeStagedUpload carries one patient's staging metadata.
	TypeStagedUpload = "bulkupload:staging"
	// TypeUploadBatch is the aggregate of several staged uploads.
	TypeUploadBatch = "bulkupload:batch"
	// TypeMetadataProcess asks the worker to ingest a manifest.
	TypeMetadataProcess = "metadata:process"
	// TypeStitching asks the stitching service to merge a patient's pages.
	TypeStitching = "stitching:lloyd-george"
)

// Queue names.
const (
	QueueBulkUpload = "bulk-upload"
	QueueMetadata   = "metadata"
	QueueStitching  = "stitching"
)

// Message attribute names.
const (
	AttrNHSNumber      = "NhsNumber"
	AttrMessageGroupID = "MessageGroupId"
)

// Envelope is a queue message: a JSON body plus string attributes kept apart
// from it so a malformed body can still be routed and inspected.
type Envelope struct {
	ID         string            `json:"id"`
	Body       string            `json:"body"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NHSNumber is the NhsNumber attribute.
func (e Envelope) NHSNumber() string { return e.Attributes[AttrNHSNumber] }

// GroupID is the MessageGroupId attribute.
func (e Envelope) GroupID() string { return e.Attributes[AttrMessageGroupID] }

// DecodeEnvelope reads a staged upload payload. A payload that is not an
// envelope is carried as the body so the workflow rejects it as malformed.
func DecodeEnvelope(payload []byte) Envelope {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Body == "" {
		return Envelope{Body: string(payload)}
	}
	return env
}

// Batch is the payload of an aggregated upload task.
type Batch struct {
	Group    string     `json:"group"`
	Messages []Envelope `json:"messages"`
}

// DecodeBatch reads an aggregated upload task payload.
func DecodeBatch(payload []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(payload, &b); err != nil {
		return Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	return b, nil
}

// Aggregate folds the staged upload tasks of one group into a batch task.
// Task order is kept.
func Aggregate(group string, tasks []*asynq.Task) *asynq.Task {
	b := Batch{Group: group, Messages: make([]Envelope, 0, len(tasks))}
	for _, t := range tasks {
		b.Messages = append(b.Messages, DecodeEnvelope(t.Payload()))
	}
	// Envelopes only hold strings, so marshalling cannot fail.
	data, _ := json.Marshal(b)
	return asynq.NewTask(TypeUploadBatch, data)
}

// MetadataPayload is the payload of a TypeMetadataProcess task.
type MetadataPayload struct {
	Key string `json:"key"`
}
