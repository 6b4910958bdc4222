// Package model contains the records passed between the ingestion run, the
// bulk upload worker and the metadata store.
package model

import "path"

// CSV header names of the bulk upload metadata manifest. MetadataFile uses the
// same names as JSON keys so a queued message mirrors the manifest row.
const (
	FieldFilePath       = "FILEPATH"
	FieldPageCount      = "PAGE COUNT"
	FieldGPPracticeCode = "GP-PRACTICE-CODE"
	FieldNHSNumber      = "NHS-NO"
	FieldSection        = "SECTION"
	FieldSubSection     = "SUB-SECTION"
	FieldScanDate       = "SCAN-DATE"
	FieldScanID         = "SCAN-ID"
	FieldUserID         = "USER-ID"
	FieldUpload         = "UPLOAD"
)

// RequiredFields lists the manifest columns a header row must carry.
// SUB-SECTION is optional.
var RequiredFields = []string{
	FieldFilePath,
	FieldPageCount,
	FieldGPPracticeCode,
	FieldNHSNumber,
	FieldSection,
	FieldScanDate,
	FieldScanID,
	FieldUserID,
	FieldUpload,
}

// MetadataFile is one manifest row.
type MetadataFile struct {
	FilePath       string `json:"FILEPATH"`
	PageCount      string `json:"PAGE COUNT"`
	GPPracticeCode string `json:"GP-PRACTICE-CODE"`
	NHSNumber      string `json:"NHS-NO"`
	Section        string `json:"SECTION"`
	SubSection     string `json:"SUB-SECTION,omitempty"`
	ScanDate       string `json:"SCAN-DATE"`
	ScanID         string `json:"SCAN-ID"`
	UserID         string `json:"USER-ID"`
	Upload         string `json:"UPLOAD"`
}

// FileName is the last element of FilePath.
func (f MetadataFile) FileName() string {
	return path.Base(f.FilePath)
}

// StagingMetadata groups every manifest row of one patient at one practice.
// Files keep manifest order; page stitching downstream relies on it.
type StagingMetadata struct {
	NHSNumber string         `json:"nhs_number"`
	Files     []MetadataFile `json:"files"`
	Retries   int            `json:"retries"`
}

// FileNames returns the base names of every file in order.
func (s *StagingMetadata) FileNames() []string {
	names := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		names = append(names, f.FileName())
	}
	return names
}

// UploaderODSCode is the practice code of the first row, or "" for an empty
// group.
func (s *StagingMetadata) UploaderODSCode() string {
	if len(s.Files) == 0 {
		return ""
	}
	return s.Files[0].GPPracticeCode
}
