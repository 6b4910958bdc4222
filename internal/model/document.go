package model

import (
	"fmt"
	"time"
)

// DocumentStatus describes where a stored document reference is in its
// lifecycle. Rows are written preliminary, promoted to final when the
// transfer commits and are removed again on rollback.
type DocumentStatus string

const (
	DocStatusPreliminary DocumentStatus = "preliminary"
	DocStatusFinal       DocumentStatus = "final"
)

// VirusScanClean is the scan result recorded on every transferred document.
const VirusScanClean = "Clean"

// DocumentReference is one stored file of a patient record.
type DocumentReference struct {
	ID                 string         `json:"id"`
	NHSNumber          string         `json:"nhsNumber"`
	DocumentType       DocumentType   `json:"documentType"`
	FileName           string         `json:"fileName"`
	S3BucketName       string         `json:"s3BucketName"`
	FileSize           int64          `json:"fileSize"`
	DocStatus          DocumentStatus `json:"docStatus"`
	Uploaded           bool           `json:"uploaded"`
	Uploading          bool           `json:"uploading"`
	VirusScannerResult string         `json:"virusScannerResult"`
	CurrentGPODS       string         `json:"currentGpOds"`
	Custodian          string         `json:"custodian"`
	Author             string         `json:"author"`
	ScanDate           string         `json:"scanDate,omitempty"`
	Created            time.Time      `json:"created"`
	LastUpdated        time.Time      `json:"lastUpdated"`
	Deleted            *time.Time     `json:"deleted,omitempty"`
	TTL                *int64         `json:"ttl,omitempty"`
}

// S3FileKey is the permanent storage key: {nhs_number}/{id}.
func (d *DocumentReference) S3FileKey() string {
	return fmt.Sprintf("%s/%s", d.NHSNumber, d.ID)
}

// FileLocation is the s3:// URI of the permanent object.
func (d *DocumentReference) FileLocation() string {
	return fmt.Sprintf("s3://%s/%s", d.S3BucketName, d.S3FileKey())
}

// MarkUploaded promotes the reference to final once its transfer commits.
func (d *DocumentReference) MarkUploaded(now time.Time) {
	d.DocStatus = DocStatusFinal
	d.Uploaded = true
	d.Uploading = false
	d.LastUpdated = now.UTC()
}
