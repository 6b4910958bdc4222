package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/nhsdigital/lg-bulk-upload/internal/model"
)

// ParseManifest decodes a metadata CSV. A leading UTF-8 BOM is dropped and
// undecodable bytes become U+FFFD. A missing required column or a row with
// the wrong number of fields fails the whole manifest.
func ParseManifest(data []byte) ([]model.MetadataFile, error) {
	r := csv.NewReader(transform.NewReader(bytes.NewReader(data), unicode.UTF8BOM.NewDecoder()))

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &MetadataError{Message: "Metadata file is empty"}
		}
		return nil, &MetadataError{Message: "Failed to read metadata header", Err: err}
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToUpper(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, field := range model.RequiredFields {
		if _, ok := index[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, &MetadataError{Message: fmt.Sprintf("Missing required column(s): %s", strings.Join(missing, ", "))}
	}

	get := func(rec []string, field string) string {
		i, ok := index[field]
		if !ok {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []model.MetadataFile
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &MetadataError{Message: "Malformed metadata row", Err: err}
		}
		if isBlank(rec) {
			continue
		}
		rows = append(rows, model.MetadataFile{
			FilePath:       get(rec, model.FieldFilePath),
			PageCount:      get(rec, model.FieldPageCount),
			GPPracticeCode: get(rec, model.FieldGPPracticeCode),
			NHSNumber:      get(rec, model.FieldNHSNumber),
			Section:        get(rec, model.FieldSection),
			SubSection:     get(rec, model.FieldSubSection),
			ScanDate:       get(rec, model.FieldScanDate),
			ScanID:         get(rec, model.FieldScanID),
			UserID:         get(rec, model.FieldUserID),
			Upload:         get(rec, model.FieldUpload),
		})
	}
	return rows, nil
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
