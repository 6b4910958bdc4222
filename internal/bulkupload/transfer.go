package bulkupload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/nhsdigital/lg-bulk-upload/internal/model"
	pdfutil "github.com/nhsdigital/lg-bulk-upload/internal/pdf"
)

// ScanResultTag is the staging object tag the virus scanner writes.
const ScanResultTag = "scan-result"

// Scanner verdicts.
const (
	ScanClean    = "Clean"
	ScanInfected = "Infected"
)

// resolveKeys maps every file path to the staging key that exists. Paths
// with accents may have been stored in either normal form, so both are
// tried.
func (s *Service) resolveKeys(ctx context.Context, staging *model.StagingMetadata) ([]string, error) {
	keys := make([]string, 0, len(staging.Files))
	for _, f := range staging.Files {
		key, err := s.resolveKey(ctx, strings.TrimPrefix(f.FilePath, "/"))
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *Service) resolveKey(ctx context.Context, key string) (string, error) {
	if isASCII(key) {
		return key, nil
	}
	for _, candidate := range []string{norm.NFC.String(key), norm.NFD.String(key)} {
		ok, err := s.deps.Objects.StagingExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}
	return "", fail(MsgFileNotAccessible, fmt.Errorf("%w: %s", ErrStagedFileNotFound, key))
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// checkVirusScan returns ErrVirusScanPending while any file is unscanned.
func (s *Service) checkVirusScan(ctx context.Context, keys []string) error {
	pending := false
	for _, key := range keys {
		result, ok, err := s.deps.Objects.StagingTag(ctx, key, ScanResultTag)
		if err != nil {
			return fail(MsgFileNotAccessible, err)
		}
		switch {
		case !ok:
			pending = true
		case result == ScanClean:
		case result == ScanInfected:
			return fail(MsgVirusScanFailed, fmt.Errorf("%w: %s", ErrDocumentInfected, key))
		default:
			return fail(MsgVirusScanFailed, fmt.Errorf("%w: %s returned %q", ErrVirusScanFailed, key, result))
		}
	}
	if pending {
		return ErrVirusScanPending
	}
	return nil
}

func (s *Service) verifyPDFs(ctx context.Context, keys []string) error {
	for _, key := range keys {
		data, err := s.deps.Objects.DownloadStaging(ctx, key)
		if err != nil {
			return fail(MsgFileNotAccessible, err)
		}
		if _, err := pdfutil.Inspect(data); err != nil {
			return fail(MsgCorruptOrProtected, fmt.Errorf("%s: %w", key, err))
		}
	}
	return nil
}

// transfer copies every file and writes its reference, in file order. Any
// error rolls both stores back and leaves the staged files in place.
func (s *Service) transfer(ctx context.Context, staging *model.StagingMetadata, keys []string, patientODS string) (err error) {
	objects := s.deps.Objects.BeginTransfer()
	metadata, err := s.deps.Metadata.BeginTransfer(ctx)
	if err != nil {
		return fail(MsgTransferFailed, err)
	}
	defer func() {
		if err == nil {
			return
		}
		rollbackErr := errors.Join(objects.Rollback(ctx), metadata.Rollback(ctx))
		if rollbackErr != nil {
			s.logger.Error().Err(rollbackErr).Msg("rollback after failed transfer incomplete")
		}
		err = fail(MsgTransferFailed, err)
	}()

	now := s.now().UTC()
	bucket := s.deps.Objects.PermanentBucket()
	for i, f := range staging.Files {
		doc := &model.DocumentReference{
			ID:                 s.newID(),
			NHSNumber:          staging.NHSNumber,
			DocumentType:       model.DocTypeLloydGeorge,
			FileName:           norm.NFC.String(f.FileName()),
			S3BucketName:       bucket,
			DocStatus:          model.DocStatusPreliminary,
			Uploading:          true,
			VirusScannerResult: model.VirusScanClean,
			CurrentGPODS:       patientODS,
			Custodian:          patientODS,
			Author:             f.GPPracticeCode,
			ScanDate:           f.ScanDate,
			Created:            now,
			LastUpdated:        now,
		}
		if err := objects.Copy(ctx, keys[i], doc.S3FileKey()); err != nil {
			return err
		}
		size, err := objects.Size(ctx, doc.S3FileKey())
		if err != nil {
			return err
		}
		doc.FileSize = size
		if err := metadata.Create(ctx, doc); err != nil {
			return err
		}
	}
	if err := metadata.Commit(ctx); err != nil {
		return err
	}
	objects.Commit()
	return nil
}
