package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nhsdigital/lg-bulk-upload/internal/model"
)

const documentColumns = `id, nhs_number, file_name, s3_bucket_name, file_size, doc_status, uploaded, uploading,
	virus_scanner_result, current_gp_ods, custodian, author, scan_date, created, last_updated, deleted, ttl`

// DocumentRepository wraps the SQL behind the document reference tables.
type DocumentRepository struct {
	pool   *pgxpool.Pool
	tables model.Tables
}

// NewDocumentRepository constructs a repository.
func NewDocumentRepository(pool *pgxpool.Pool, tables model.Tables) *DocumentRepository {
	return &DocumentRepository{pool: pool, tables: tables}
}

func (r *DocumentRepository) table(docType model.DocumentType) (string, error) {
	name, err := r.tables.For(docType)
	if err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// HasActiveRecord reports whether the patient already has an uploaded,
// undeleted record of the given type.
func (r *DocumentRepository) HasActiveRecord(ctx context.Context, docType model.DocumentType, nhsNumber string) (bool, error) {
	table, err := r.table(docType)
	if err != nil {
		return false, err
	}
	var exists bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE nhs_number=$1 AND uploaded AND deleted IS NULL)`,
		nhsNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query existing record: %w", err)
	}
	return exists, nil
}

// ListByNHSNumber returns every reference of the patient, oldest first.
func (r *DocumentRepository) ListByNHSNumber(ctx context.Context, docType model.DocumentType, nhsNumber string) ([]model.DocumentReference, error) {
	table, err := r.table(docType)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM `+table+` WHERE nhs_number=$1 ORDER BY created, file_name`, nhsNumber)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	defer rows.Close()

	var docs []model.DocumentReference
	for rows.Next() {
		doc := model.DocumentReference{DocumentType: docType}
		if err := rows.Scan(&doc.ID, &doc.NHSNumber, &doc.FileName, &doc.S3BucketName, &doc.FileSize,
			&doc.DocStatus, &doc.Uploaded, &doc.Uploading, &doc.VirusScannerResult, &doc.CurrentGPODS,
			&doc.Custodian, &doc.Author, &doc.ScanDate, &doc.Created, &doc.LastUpdated, &doc.Deleted, &doc.TTL); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete hard-deletes one reference.
func (r *DocumentRepository) Delete(ctx context.Context, docType model.DocumentType, id string) error {
	table, err := r.table(docType)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM `+table+` WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Begin opens a metadata transaction for one patient's transfer.
func (r *DocumentRepository) Begin(ctx context.Context) (*DocumentTx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &DocumentTx{repo: r, tx: tx}, nil
}

// DocumentTx stages preliminary references and promotes them to final on
// commit. Rollback discards them.
type DocumentTx struct {
	repo    *DocumentRepository
	tx      pgx.Tx
	created []created
	done    bool
}

type created struct {
	table string
	doc   *model.DocumentReference
}

// Create inserts a preliminary reference inside the transaction.
func (t *DocumentTx) Create(ctx context.Context, doc *model.DocumentReference) error {
	table, err := t.repo.table(doc.DocumentType)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	doc.DocStatus = model.DocStatusPreliminary
	if doc.Created.IsZero() {
		doc.Created = now
	}
	doc.LastUpdated = now
	_, err = t.tx.Exec(ctx, `INSERT INTO `+table+` (`+documentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		doc.ID, doc.NHSNumber, doc.FileName, doc.S3BucketName, doc.FileSize, doc.DocStatus,
		doc.Uploaded, doc.Uploading, doc.VirusScannerResult, doc.CurrentGPODS, doc.Custodian,
		doc.Author, doc.ScanDate, doc.Created, doc.LastUpdated, doc.Deleted, doc.TTL)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	t.created = append(t.created, created{table: table, doc: doc})
	return nil
}

// Commit promotes every staged reference to final and commits.
func (t *DocumentTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("transaction already finished")
	}
	now := time.Now().UTC()
	for _, c := range t.created {
		c.doc.MarkUploaded(now)
		_, err := t.tx.Exec(ctx,
			`UPDATE `+c.table+` SET doc_status=$1, uploaded=$2, uploading=$3, last_updated=$4 WHERE id=$5`,
			c.doc.DocStatus, c.doc.Uploaded, c.doc.Uploading, c.doc.LastUpdated, c.doc.ID)
		if err != nil {
			return fmt.Errorf("finalise document: %w", err)
		}
	}
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	t.done = true
	return nil
}

// Rollback discards the transaction. Calling it after Commit is a no-op.
func (t *DocumentTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}
