package worker

import (
	"context"

	"github.com/nhsdigital/lg-bulk-upload/internal/bulkupload"
	"github.com/nhsdigital/lg-bulk-upload/internal/repository"
	"github.com/nhsdigital/lg-bulk-upload/internal/s3storage"
)

// ObjectStore exposes s3storage to the workflow.
type ObjectStore struct {
	*s3storage.Storage
}

// BeginTransfer starts an object storage transaction.
func (o ObjectStore) BeginTransfer() bulkupload.ObjectTransaction {
	return o.Storage.Begin()
}

// MetadataStore exposes the document repository to the workflow.
type MetadataStore struct {
	*repository.DocumentRepository
}

// BeginTransfer starts a metadata transaction.
func (m MetadataStore) BeginTransfer(ctx context.Context) (bulkupload.MetadataTransaction, error) {
	tx, err := m.DocumentRepository.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
