package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nhsdigital/lg-bulk-upload/internal/model"
)

// ReportRepository stores the bulk upload audit rows.
type ReportRepository struct {
	pool  *pgxpool.Pool
	table string
}

// NewReportRepository constructs a repository over the named table.
func NewReportRepository(pool *pgxpool.Pool, table string) *ReportRepository {
	return &ReportRepository{pool: pool, table: pgx.Identifier{table}.Sanitize()}
}

// Insert writes every row in one batch.
func (r *ReportRepository) Insert(ctx context.Context, reports ...model.BulkUploadReport) error {
	if len(reports) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rep := range reports {
		batch.Queue(`INSERT INTO `+r.table+` (id, nhs_number, file_path, upload_status, failure_reason,
			pds_ods_code, uploader_ods_code, report_date, report_timestamp, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			rep.ID, rep.NHSNumber, rep.FilePath, rep.UploadStatus, rep.Reason,
			rep.PDSODSCode, rep.UploaderODSCode, rep.Date, rep.Timestamp, rep.CreatedAt)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert reports: %w", err)
	}
	return nil
}

// ListByNHSNumber returns a patient's report rows, newest first.
func (r *ReportRepository) ListByNHSNumber(ctx context.Context, nhsNumber string) ([]model.BulkUploadReport, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, nhs_number, file_path, upload_status, failure_reason,
		pds_ods_code, uploader_ods_code, report_date, report_timestamp, created_at
		FROM `+r.table+` WHERE nhs_number=$1 ORDER BY report_timestamp DESC, file_path`, nhsNumber)
	if err != nil {
		return nil, fmt.Errorf("select reports: %w", err)
	}
	defer rows.Close()

	var out []model.BulkUploadReport
	for rows.Next() {
		var rep model.BulkUploadReport
		if err := rows.Scan(&rep.ID, &rep.NHSNumber, &rep.FilePath, &rep.UploadStatus, &rep.Reason,
			&rep.PDSODSCode, &rep.UploaderODSCode, &rep.Date, &rep.Timestamp, &rep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}
