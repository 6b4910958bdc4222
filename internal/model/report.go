package model

import "time"

// UploadStatus is the terminal outcome of one patient's bulk upload.
type UploadStatus string

const (
	UploadStatusComplete UploadStatus = "complete"
	UploadStatusFailed   UploadStatus = "failed"
)

// BulkUploadReport is the audit row written for every file of a patient once
// the workflow reaches a terminal state, and for every rejected manifest row.
type BulkUploadReport struct {
	ID              string       `json:"id"`
	NHSNumber       string       `json:"nhsNumber"`
	FilePath        string       `json:"filePath"`
	UploadStatus    UploadStatus `json:"uploadStatus"`
	Reason          string       `json:"reason,omitempty"`
	PDSODSCode      string       `json:"pdsOdsCode,omitempty"`
	UploaderODSCode string       `json:"uploaderOdsCode"`
	Date            string       `json:"date"`
	Timestamp       int64        `json:"timestamp"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// NewReports builds one report row per file of a staging group. Rows of a
// group share the date and timestamp.
func NewReports(staging *StagingMetadata, status UploadStatus, reason, pdsODSCode string, now time.Time, newID func() string) []BulkUploadReport {
	now = now.UTC()
	out := make([]BulkUploadReport, 0, len(staging.Files))
	for _, f := range staging.Files {
		out = append(out, BulkUploadReport{
			ID:              newID(),
			NHSNumber:       staging.NHSNumber,
			FilePath:        f.FilePath,
			UploadStatus:    status,
			Reason:          reason,
			PDSODSCode:      pdsODSCode,
			UploaderODSCode: f.GPPracticeCode,
			Date:            now.Format("2006-01-02"),
			Timestamp:       now.Unix(),
			CreatedAt:       now,
		})
	}
	return out
}
