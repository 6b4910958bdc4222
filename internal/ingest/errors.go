package ingest

// MetadataError aborts a whole ingestion run: the manifest is missing or
// cannot be read as a manifest.
type MetadataError struct {
	Message string
	Err     error
}

func (e *MetadataError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *MetadataError) Unwrap() error { return e.Err }
