package bulkupload

import "errors"

// Failure reasons recorded in the upload report.
const (
	MsgNotRegisteredAtPractice = "Patient not registered at your practice"
	MsgVirusScanTimeout        = "File was not scanned for viruses before maximum retries attempted"
	MsgVirusScanFailed         = "One or more of the files failed virus scanner check"
	MsgFileNotAccessible       = "One or more of the files is not accessible from staging bucket"
	MsgCorruptOrProtected      = "One or more of the files is corrupt or password protected"
	MsgTransferFailed          = "Validation passed but error occurred during file transfer"
)

// Acceptance notes.
const (
	NoteHistoricalName = "Patient matched on historical name"
	NoteDeceased       = "Patient is deceased"
	NoteRestricted     = "PDS record is restricted"
)

var (
	// ErrInvalidMessage means a queue message body is not staging metadata.
	ErrInvalidMessage = errors.New("invalid staging message")
	// ErrVirusScanPending means at least one file has no scan result yet.
	ErrVirusScanPending = errors.New("virus scan result not available yet")
	// ErrVirusScanFailed means the scanner reported neither clean nor infected.
	ErrVirusScanFailed = errors.New("virus scan failed")
	// ErrDocumentInfected means the scanner found an infected file.
	ErrDocumentInfected = errors.New("document infected")
	// ErrStagedFileNotFound means neither normal form of a key is staged.
	ErrStagedFileNotFound = errors.New("staged file not found")
	// ErrBatchAborted is returned by ProcessBatch when the rest of a batch
	// was sent back to the queue.
	ErrBatchAborted = errors.New("batch aborted")
)
