// Package pdfutil checks staged PDFs before they are transferred.
package pdfutil

import (
	"bytes"
	"errors"
	"fmt"

	pdf "github.com/ledongthuc/pdf"
)

var (
	// ErrCorrupt means the bytes could not be read as a PDF.
	ErrCorrupt = errors.New("pdf is corrupt")
	// ErrPasswordProtected means the PDF needs a password to open.
	ErrPasswordProtected = errors.New("pdf is password protected")
)

// Info describes a readable PDF.
type Info struct {
	Pages int
}

// Inspect opens the PDF and walks its pages. The parser panics on some
// malformed input; that is reported as ErrCorrupt.
func Inspect(data []byte) (info Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			info, err = Info{}, fmt.Errorf("%w: %v", ErrCorrupt, r)
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return Info{}, ErrPasswordProtected
		}
		return Info{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	total := doc.NumPage()
	if total == 0 {
		return Info{}, fmt.Errorf("%w: no pages", ErrCorrupt)
	}
	for page := 1; page <= total; page++ {
		if doc.Page(page).V.IsNull() {
			return Info{}, fmt.Errorf("%w: page %d missing", ErrCorrupt, page)
		}
	}
	return Info{Pages: total}, nil
}
