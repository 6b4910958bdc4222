package model

import "fmt"

// DocumentType identifies a record product. Each type is stored in its own
// table; the table names come from configuration, never from the type.
type DocumentType string

const (
	DocTypeLloydGeorge DocumentType = "LG"
	DocTypeARF         DocumentType = "ARF"
)

// SnomedCode is a coded document type used on downstream messages.
type SnomedCode struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
}

// SnomedLloydGeorge is the SNOMED CT code of a Lloyd George record folder.
var SnomedLloydGeorge = SnomedCode{
	Code:        "16521000000101",
	DisplayName: "Lloyd George record folder",
}

// Tables maps each document type to the table holding its references.
type Tables struct {
	LloydGeorge string
	ARF         string
}

// For resolves the table name of a document type.
func (t Tables) For(docType DocumentType) (string, error) {
	var name string
	switch docType {
	case DocTypeLloydGeorge:
		name = t.LloydGeorge
	case DocTypeARF:
		name = t.ARF
	default:
		return "", fmt.Errorf("unsupported document type %q", docType)
	}
	if name == "" {
		return "", fmt.Errorf("no table configured for document type %q", docType)
	}
	return name, nil
}
