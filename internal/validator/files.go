// Package validator enforces the structural rules a patient's batch of Lloyd
// George file names must satisfy before anything is transferred.
package validator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/nhsdigital/lg-bulk-upload/internal/filename"
	"github.com/nhsdigital/lg-bulk-upload/internal/model"
)

// Rejection messages recorded in the upload report.
const (
	MsgMissingFiles     = "There are missing file(s)"
	MsgTooManyFiles     = "There are more files than the total number"
	MsgDuplicateFiles   = "One or more of the files has the same filename"
	MsgNamesDisagree    = "File names does not match with each other"
	MsgNHSNumberInName  = "NHS number in file names does not match the given NHS number"
	MsgIncorrectFileSet = "Incorrect number of files"
	MsgRepeatedPage     = "One or more of the files has the same page number"
)

// ErrPatientRecordExists stops an upload for a patient who already has a
// Lloyd George record on file.
var ErrPatientRecordExists = errors.New("Lloyd George record already exists for patient, upload cancelled")

var (
	totalPattern = regexp.MustCompile(`of(\d+)_`)
	nhsPattern   = regexp.MustCompile(`_\[(\d{10})\]_`)
)

// RecordChecker reports whether a patient already holds a live record of a
// document type.
type RecordChecker interface {
	HasActiveRecord(ctx context.Context, docType model.DocumentType, nhsNumber string) (bool, error)
}

// ValidateLGFileNames runs every gate in order and returns the first failure.
func ValidateLGFileNames(ctx context.Context, records RecordChecker, fileNames []string, nhsNumber string) error {
	if len(fileNames) == 0 {
		return filename.InvalidFiles(MsgIncorrectFileSet)
	}
	exists, err := records.HasActiveRecord(ctx, model.DocTypeLloydGeorge, nhsNumber)
	if err != nil {
		return fmt.Errorf("check existing record: %w", err)
	}
	if exists {
		return ErrPatientRecordExists
	}
	pages := make([]int, 0, len(fileNames))
	for _, name := range fileNames {
		if err := filename.ValidateName(name); err != nil {
			return err
		}
		info, err := filename.ExtractInfo(name)
		if err != nil {
			return err
		}
		pages = append(pages, info.PageIndex)
		if err := CheckNumberOfFiles(name, len(fileNames)); err != nil {
			return err
		}
		if err := CheckNHSNumber(name, nhsNumber); err != nil {
			return err
		}
	}
	if err := CheckDuplicates(fileNames); err != nil {
		return err
	}
	if err := CheckPageSequence(pages); err != nil {
		return err
	}
	return CheckNamesAgree(fileNames)
}

// CheckPageSequence requires the page indices to be 1..N with none repeated.
// Names such as "1of2" and "01of2" differ but carry the same page.
func CheckPageSequence(pages []int) error {
	seen := make([]bool, len(pages)+1)
	for _, p := range pages {
		if p < 1 || p > len(pages) {
			return filename.InvalidFiles(filename.MsgNamingConvention)
		}
		if seen[p] {
			return filename.InvalidFiles(MsgRepeatedPage)
		}
		seen[p] = true
	}
	return nil
}

// CheckNumberOfFiles compares the declared total of a name with the batch
// size.
func CheckNumberOfFiles(name string, batchSize int) error {
	m := totalPattern.FindStringSubmatch(name)
	if m == nil {
		return filename.InvalidFiles(filename.MsgNamingConvention)
	}
	declared, err := strconv.Atoi(m[1])
	if err != nil {
		return filename.InvalidFiles(filename.MsgNamingConvention)
	}
	switch {
	case batchSize < declared:
		return filename.InvalidFiles(MsgMissingFiles)
	case batchSize > declared:
		return filename.InvalidFiles(MsgTooManyFiles)
	}
	return nil
}

// CheckNHSNumber ensures the NHS number embedded in a name is the expected one.
func CheckNHSNumber(name, nhsNumber string) error {
	m := nhsPattern.FindStringSubmatch(name)
	if m == nil || m[1] != nhsNumber {
		return filename.InvalidFiles(MsgNHSNumberInName)
	}
	return nil
}

// CheckDuplicates rejects a batch holding the same name twice.
func CheckDuplicates(fileNames []string) error {
	seen := make(map[string]struct{}, len(fileNames))
	for _, name := range fileNames {
		if _, ok := seen[name]; ok {
			return filename.InvalidFiles(MsgDuplicateFiles)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// CheckNamesAgree requires every name to be identical after its page index.
func CheckNamesAgree(fileNames []string) error {
	var want string
	for i, name := range fileNames {
		loc := totalPattern.FindStringIndex(name)
		if loc == nil {
			return filename.InvalidFiles(filename.MsgNamingConvention)
		}
		tail := name[loc[0]:]
		if i == 0 {
			want = tail
			continue
		}
		if tail != want {
			return filename.InvalidFiles(MsgNamesDisagree)
		}
	}
	return nil
}
